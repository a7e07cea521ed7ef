package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CLIHandler handles CLI commands for credential management
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
	tty     TerminalReader
}

// NewCLIHandler creates a new CLI handler for credential commands.
// tty may be nil, in which case passwords are read from stdin.
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout io.Writer, tty TerminalReader) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
		tty:     tty,
	}
}

// Set prompts for a password and stores it in the keyring
func (h *CLIHandler) Set(ctx context.Context, username string) error {
	if username == "" {
		return errors.New("username is not configured")
	}

	password, err := PromptPasswordWithTTY(h.stdin, h.stdout, username, h.tty)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	if err := h.manager.Set(ctx, username, password); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return keyringNotAvailableError()
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Credentials stored in system keyring\n")
	return nil
}

// keyringNotAvailableError returns a helpful error message when keyring is not available
func keyringNotAvailableError() error {
	return fmt.Errorf(`%w.

Alternative: set the password in the environment instead:
  export %s="your-password"

Run 'caldavtasks credentials get' to verify the password is detected.`, ErrKeyringNotAvailable, EnvPassword)
}

// Get retrieves and displays credential information
func (h *CLIHandler) Get(ctx context.Context, username, configPassword string, jsonOutput bool) error {
	info, err := h.manager.Resolve(ctx, username, configPassword)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	if jsonOutput {
		jsonBytes, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "No credentials found for %s\n", info.Username)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring: Not found\n")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment variable %s: Not set\n", EnvPassword)
		_, _ = fmt.Fprintf(h.stdout, "  - Config file password: Not set\n")
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'caldavtasks credentials set'\n")
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Username: %s\n", info.Username)
	_, _ = fmt.Fprintf(h.stdout, "Password: ******** (hidden)\n")
	_, _ = fmt.Fprintf(h.stdout, "Status: Available\n")
	return nil
}

// Delete removes credentials from the keyring
func (h *CLIHandler) Delete(ctx context.Context, username string) error {
	if err := h.manager.Delete(ctx, username); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return keyringNotAvailableError()
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Credentials removed from system keyring\n")
	return nil
}
