package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestCredentialsSetKeyring tests storing a password in the keyring
func TestCredentialsSetKeyring(t *testing.T) {
	mockKeyring := NewMockKeyring()
	manager := NewManager(WithKeyring(mockKeyring))

	if err := manager.Set(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stored, err := mockKeyring.Get(ServiceName, "alice")
	if err != nil {
		t.Fatalf("expected password in keyring: %v", err)
	}
	if stored != "secret" {
		t.Errorf("expected 'secret', got %q", stored)
	}
}

// TestCredentialsSetRequiresUsername tests that an empty account is rejected
func TestCredentialsSetRequiresUsername(t *testing.T) {
	manager := NewManager(WithKeyring(NewMockKeyring()))
	if err := manager.Set(context.Background(), "", "secret"); err == nil {
		t.Error("expected error for empty username")
	}
}

// TestCredentialsGetKeyring tests retrieving credentials from keyring
func TestCredentialsGetKeyring(t *testing.T) {
	t.Setenv(EnvPassword, "")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set(ServiceName, "alice", "fromkeyring")
	manager := NewManager(WithKeyring(mockKeyring))

	info, err := manager.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !info.Found || info.Source != SourceKeyring || info.Password != "fromkeyring" {
		t.Errorf("unexpected credential info: %+v", info)
	}
}

// TestCredentialsGetEnvVar tests fallback to CALDAVTASKS_PASSWORD
func TestCredentialsGetEnvVar(t *testing.T) {
	t.Setenv(EnvPassword, "fromenv")
	manager := NewManager(WithKeyring(NewMockKeyring()))

	info, err := manager.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !info.Found || info.Source != SourceEnvironment || info.Password != "fromenv" {
		t.Errorf("unexpected credential info: %+v", info)
	}
}

// TestCredentialsPriority tests that keyring takes priority over environment
func TestCredentialsPriority(t *testing.T) {
	t.Setenv(EnvPassword, "fromenv")
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set(ServiceName, "alice", "fromkeyring")

	info, _ := NewManager(WithKeyring(mockKeyring)).Get(context.Background(), "alice")
	if info.Source != SourceKeyring {
		t.Errorf("expected keyring to win, got %s", info.Source)
	}

	info, _ = NewManager(WithKeyring(mockKeyring), WithoutKeyring()).Get(context.Background(), "alice")
	if info.Source != SourceEnvironment {
		t.Errorf("expected environment when keyring is disabled, got %s", info.Source)
	}
}

// TestCredentialsResolveConfigFallback tests the config password is the last resort
func TestCredentialsResolveConfigFallback(t *testing.T) {
	t.Setenv(EnvPassword, "")
	manager := NewManager(WithKeyring(NewMockKeyring()))

	info, err := manager.Resolve(context.Background(), "alice", "fromconfig")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !info.Found || info.Source != SourceConfig || info.Password != "fromconfig" {
		t.Errorf("unexpected credential info: %+v", info)
	}

	t.Setenv(EnvPassword, "fromenv")
	info, _ = manager.Resolve(context.Background(), "alice", "fromconfig")
	if info.Source != SourceEnvironment {
		t.Errorf("expected environment to win over config, got %s", info.Source)
	}
}

// TestCredentialsNotFound tests that missing credentials are reported without error
func TestCredentialsNotFound(t *testing.T) {
	t.Setenv(EnvPassword, "")
	manager := NewManager(WithKeyring(NewMockKeyring()))

	info, err := manager.Resolve(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info.Found || info.Source != SourceNone {
		t.Errorf("expected not found, got %+v", info)
	}
}

// TestCredentialsDeleteIdempotent tests that deleting a missing entry succeeds
func TestCredentialsDeleteIdempotent(t *testing.T) {
	mockKeyring := NewMockKeyring()
	_ = mockKeyring.Set(ServiceName, "alice", "secret")
	manager := NewManager(WithKeyring(mockKeyring))

	for i := 0; i < 2; i++ {
		if err := manager.Delete(context.Background(), "alice"); err != nil {
			t.Fatalf("Delete #%d failed: %v", i+1, err)
		}
	}
	if _, err := mockKeyring.Get(ServiceName, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestCredentialsJSON tests that JSON output never includes the password
func TestCredentialsJSON(t *testing.T) {
	info := &CredentialInfo{Source: SourceKeyring, Username: "alice", Password: "secret", Found: true}

	data, err := info.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("JSON output leaks password: %s", data)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["source"] != "keyring" || decoded["username"] != "alice" || decoded["found"] != true {
		t.Errorf("unexpected JSON: %s", data)
	}
}

// =============================================================================
// Password prompt
// =============================================================================

// TestPromptPassword tests reading a piped password
func TestPromptPassword(t *testing.T) {
	output := &bytes.Buffer{}

	password, err := PromptPassword(bytes.NewBufferString("  mysecretpassword \n"), output, "alice")
	if err != nil {
		t.Fatalf("PromptPassword failed: %v", err)
	}
	if password != "mysecretpassword" {
		t.Errorf("Expected password 'mysecretpassword', got '%s'", password)
	}
	if !strings.Contains(output.String(), "alice") {
		t.Errorf("Expected prompt to mention user 'alice', got '%s'", output.String())
	}
}

// TestPromptPasswordNoInput tests that EOF is an error
func TestPromptPasswordNoInput(t *testing.T) {
	if _, err := PromptPassword(&bytes.Buffer{}, &bytes.Buffer{}, "alice"); err == nil {
		t.Error("expected error on empty input")
	}
}

// TestPromptPasswordWithTTY tests that the terminal reader is used when provided
func TestPromptPasswordWithTTY(t *testing.T) {
	mockTermReader := &mockTerminalReader{password: "hiddenpassword"}

	password, err := PromptPasswordWithTTY(nil, &bytes.Buffer{}, "alice", mockTermReader)
	if err != nil {
		t.Fatalf("PromptPasswordWithTTY failed: %v", err)
	}
	if password != "hiddenpassword" {
		t.Errorf("Expected password 'hiddenpassword', got '%s'", password)
	}
	if !mockTermReader.readCalled {
		t.Error("Expected terminal reader to be called for masked input")
	}
}

// TestPromptPasswordWithTTYError tests that terminal errors are returned
func TestPromptPasswordWithTTYError(t *testing.T) {
	mockTermReader := &mockTerminalReader{err: errors.New("inappropriate ioctl for device")}

	if _, err := PromptPasswordWithTTY(nil, &bytes.Buffer{}, "alice", mockTermReader); err == nil {
		t.Error("expected terminal error to be returned")
	}
}

// TestNewTerminalReaderNonTTY tests that a regular file is not treated as a terminal
func TestNewTerminalReaderNonTTY(t *testing.T) {
	if NewTerminalReader(nil) != nil {
		t.Error("expected nil reader for nil file")
	}
}

// mockTerminalReader is a mock implementation of TerminalReader for testing
type mockTerminalReader struct {
	password   string
	readCalled bool
	err        error
}

func (m *mockTerminalReader) ReadPassword() (string, error) {
	m.readCalled = true
	if m.err != nil {
		return "", m.err
	}
	return m.password, nil
}
