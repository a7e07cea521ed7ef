package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

var (
	// ErrNotFound is returned when the keyring holds no entry for the account
	ErrNotFound = errors.New("password not found in keyring")
	// ErrKeyringNotAvailable is returned when no OS keyring can be reached,
	// e.g. in headless environments without D-Bus/Secret Service
	ErrKeyringNotAvailable = errors.New("system keyring not available")
)

// MockKeyring is a test implementation of the Keyring interface
type MockKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> password
}

// NewMockKeyring creates a new mock keyring for testing
func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a password in the mock keyring
func (m *MockKeyring) Set(service, account, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = password
	return nil
}

// Get retrieves a password from the mock keyring
func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if accounts, ok := m.store[service]; ok {
		if password, ok := accounts[account]; ok {
			return password, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
}

// Delete removes a password from the mock keyring
func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.store[service]; ok {
		if _, ok := accounts[account]; ok {
			delete(accounts, account)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
}

// systemKeyring stores passwords in the OS keyring (Secret Service, macOS
// Keychain, Windows Credential Manager) through go-keyring
type systemKeyring struct{}

// Set stores a password in the system keyring
func (s *systemKeyring) Set(service, account, password string) error {
	return translate(keyring.Set(service, account, password))
}

// Get retrieves a password from the system keyring
func (s *systemKeyring) Get(service, account string) (string, error) {
	password, err := keyring.Get(service, account)
	if err != nil {
		return "", translate(err)
	}
	return password, nil
}

// Delete removes a password from the system keyring
func (s *systemKeyring) Delete(service, account string) error {
	return translate(keyring.Delete(service, account))
}

// translate maps go-keyring errors onto this package's sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	default:
		return ErrKeyringNotAvailable
	}
}

// termReader reads a password from a terminal with echo disabled
type termReader struct {
	fd int
}

// ReadPassword implements TerminalReader
func (r *termReader) ReadPassword() (string, error) {
	b, err := term.ReadPassword(r.fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewTerminalReader returns a TerminalReader for f, or nil when f is not a terminal
func NewTerminalReader(f *os.File) TerminalReader {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return &termReader{fd: int(f.Fd())}
}
