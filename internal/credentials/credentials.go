// Package credentials provides secure storage and retrieval of the CalDAV
// password using the OS-native keyring with fallback to an environment variable.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ServiceName is the keyring service the password is stored under
const ServiceName = "caldavtasks"

// EnvPassword is the environment variable consulted when the keyring has no entry
const EnvPassword = "CALDAVTASKS_PASSWORD"

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceConfig      Source = "config"
	SourceNone        Source = "none"
)

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source   Source // Where credentials came from
	Username string // Account on the CalDAV server
	Password string // Password (masked in display)
	Found    bool   // Whether credentials were found
}

// JSON serializes the credential info to JSON (password excluded for security)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Username string `json:"username"`
		Source   string `json:"source"`
		Found    bool   `json:"found"`
	}{
		Username: c.Username,
		Source:   string(c.Source),
		Found:    c.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring    Keyring
	useKeyring bool
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithoutKeyring skips the keyring lookup in Get, e.g. when use_keyring is off
func WithoutKeyring() ManagerOption {
	return func(m *Manager) {
		m.useKeyring = false
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring:    &systemKeyring{},
		useKeyring: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set stores the password for username in the keyring
func (m *Manager) Set(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.New("username is required")
	}
	return m.keyring.Set(ServiceName, username, password)
}

// Get retrieves credentials from available sources (keyring first, then env vars).
// A missing password is not an error: Found is false.
func (m *Manager) Get(ctx context.Context, username string) (*CredentialInfo, error) {
	if m.useKeyring {
		password, err := m.keyring.Get(ServiceName, username)
		if err == nil && password != "" {
			return &CredentialInfo{
				Source:   SourceKeyring,
				Username: username,
				Password: password,
				Found:    true,
			}, nil
		}
	}

	if password := os.Getenv(EnvPassword); password != "" {
		return &CredentialInfo{
			Source:   SourceEnvironment,
			Username: username,
			Password: password,
			Found:    true,
		}, nil
	}

	return &CredentialInfo{
		Source:   SourceNone,
		Username: username,
		Found:    false,
	}, nil
}

// Resolve is Get with a last-resort password taken from the config file
func (m *Manager) Resolve(ctx context.Context, username, configPassword string) (*CredentialInfo, error) {
	info, err := m.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if !info.Found && configPassword != "" {
		return &CredentialInfo{
			Source:   SourceConfig,
			Username: username,
			Password: configPassword,
			Found:    true,
		}, nil
	}
	return info, nil
}

// Delete removes credentials from the keyring
func (m *Manager) Delete(ctx context.Context, username string) error {
	err := m.keyring.Delete(ServiceName, username)
	// Idempotent: return nil if not found
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// TerminalReader reads a password without echoing it
type TerminalReader interface {
	ReadPassword() (string, error)
}

// PromptPassword prompts for a password and reads one line from reader
func PromptPassword(reader io.Reader, writer io.Writer, username string) (string, error) {
	return PromptPasswordWithTTY(reader, writer, username, nil)
}

// PromptPasswordWithTTY prompts for a password. With a TerminalReader input is
// hidden; without one a line is read from reader (piped input).
func PromptPasswordWithTTY(reader io.Reader, writer io.Writer, username string, tty TerminalReader) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter CalDAV password for %s: ", username)

	if tty != nil {
		password, err := tty.ReadPassword()
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return password, nil
	}

	if reader == nil {
		return "", fmt.Errorf("no input received")
	}
	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
