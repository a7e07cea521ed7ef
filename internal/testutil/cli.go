// Package testutil provides shared test utilities: an in-process CalDAV server
// and a harness for running CLI commands in isolation.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"caldavtasks/cmd/caldavtasks/cmd"
	"caldavtasks/internal/credentials"
	"caldavtasks/internal/notification"
)

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string

	// Keyring backs every credential lookup made by the CLI
	Keyring *credentials.MockKeyring
	// Notifications records every notification the CLI sends
	Notifications *notification.Recorder
}

// NewCLITest creates a CLI test helper with a config that names no server.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()
	c := newCLITest(t)
	c.SetFullConfig(c.baseConfig())
	return c
}

// NewCLITestWithServer creates a CLI test helper pointed at srv. The password
// is stored in the mock keyring for username.
func NewCLITestWithServer(t *testing.T, srv *CalDAVServer, username, password, calendar string) *CLITest {
	t.Helper()
	c := newCLITest(t)

	if err := c.Keyring.Set(credentials.ServiceName, username, password); err != nil {
		t.Fatalf("failed to store password: %v", err)
	}
	c.cfg.HTTPClient = srv.Client()

	c.SetFullConfig(fmt.Sprintf("server_url: %s\nusername: %s\ncalendar_name: %s\n%s",
		srv.URL(), username, calendar, c.baseConfig()))
	return c
}

func newCLITest(t *testing.T) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	for _, env := range []string{"CALDAVTASKS_SERVER_URL", "CALDAVTASKS_USERNAME", "CALDAVTASKS_CALENDAR", credentials.EnvPassword} {
		t.Setenv(env, "")
	}

	keyring := credentials.NewMockKeyring()
	recorder := notification.NewRecorder()

	return &CLITest{
		t:          t,
		tmpDir:     tmpDir,
		configPath: filepath.Join(tmpDir, "config.yaml"),
		cfg: &cmd.Config{
			ConfigPath:          filepath.Join(tmpDir, "config.yaml"),
			Keyring:             keyring,
			Stdin:               strings.NewReader(""),
			NotificationOptions: []notification.Option{notification.WithChannel(recorder)},
		},
		Keyring:       keyring,
		Notifications: recorder,
	}
}

// baseConfig keeps every file the CLI writes inside the test's temp dir
func (c *CLITest) baseConfig() string {
	return fmt.Sprintf(`use_keyring: true
http:
  timeout: 5s
  max_retries: 0
notification:
  enabled: true
  os_notification:
    enabled: false
  log_notification:
    enabled: true
    path: %s
snapshot:
  enabled: true
  path: %s
`, c.NotificationLogPath(), filepath.Join(c.tmpDir, "snapshot.db"))
}

// Config returns the test configuration.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// NotificationLogPath returns the path of the notification log file.
func (c *CLITest) NotificationLogPath() string {
	return filepath.Join(c.tmpDir, "notifications.log")
}

// SetStdin sets the input read by password prompts.
func (c *CLITest) SetStdin(input string) {
	c.cfg.Stdin = strings.NewReader(input)
}

// AppendConfig appends YAML lines to the test config file.
func (c *CLITest) AppendConfig(yamlContent string) {
	c.t.Helper()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.t.Fatalf("failed to read config file: %v", err)
	}
	c.SetFullConfig(string(data) + yamlContent)
}

// SetFullConfig replaces the entire config file with the given YAML content.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()

	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0600); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}
