// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caldavtasks/backend/caldav"
	"caldavtasks/internal/notification"
	"caldavtasks/internal/tracing"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Environment variables that override values from the config file
const (
	EnvServerURL = "CALDAVTASKS_SERVER_URL"
	EnvUsername  = "CALDAVTASKS_USERNAME"
	EnvCalendar  = "CALDAVTASKS_CALENDAR"
)

const appDirName = "caldavtasks"

// Config represents the application configuration
type Config struct {
	ServerURL    string             `yaml:"server_url"`
	Username     string             `yaml:"username"`
	Password     string             `yaml:"password"`
	UseKeyring   bool               `yaml:"use_keyring"`
	CalendarName string             `yaml:"calendar_name"`
	ProductName  string             `yaml:"product_name"`
	OutputFormat string             `yaml:"output_format"`
	Verbose      bool               `yaml:"verbose"`
	HTTP         HTTPConfig         `yaml:"http"`
	Notification NotificationConfig `yaml:"notification"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// HTTPConfig holds transport settings
type HTTPConfig struct {
	Timeout    string `yaml:"timeout"`     // e.g. "30s"
	MaxRetries *int   `yaml:"max_retries"` // retries on HTTP 429 (default: 3, 0 disables)
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	OSNotification  OSNotificationConfig  `yaml:"os_notification"`
	LogNotification LogNotificationConfig `yaml:"log_notification"`
}

// OSNotificationConfig holds desktop notification settings
type OSNotificationConfig struct {
	Enabled    bool `yaml:"enabled"`
	ErrorsOnly bool `yaml:"errors_only"`
}

// LogNotificationConfig holds notification log file settings
type LogNotificationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// SnapshotConfig holds the offline task snapshot settings
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig holds OpenTelemetry span export settings
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlp
	Endpoint string `yaml:"endpoint"` // OTLP/HTTP host:port
	Insecure bool   `yaml:"insecure"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	maxRetries := 3
	cfg := &Config{
		UseKeyring: true,
		HTTP:       HTTPConfig{MaxRetries: &maxRetries},
		Notification: NotificationConfig{
			Enabled:         true,
			OSNotification:  OSNotificationConfig{ErrorsOnly: true},
			LogNotification: LogNotificationConfig{Enabled: true},
		},
		Snapshot: SnapshotConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills fields a config file may leave empty
func (c *Config) applyDefaults() {
	if c.ProductName == "" {
		c.ProductName = caldav.DefaultProductName
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "text"
	}
	if c.HTTP.Timeout == "" {
		c.HTTP.Timeout = "30s"
	}
	if c.Notification.LogNotification.Path == "" {
		c.Notification.LogNotification.Path = filepath.Join(GetDataDir(), "notifications.log")
	}
	if c.Notification.LogNotification.MaxSizeMB == 0 {
		c.Notification.LogNotification.MaxSizeMB = 10
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(GetDataDir(), "snapshot.db")
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = tracing.ExporterNone
	}

	c.Notification.LogNotification.Path = ExpandPath(c.Notification.LogNotification.Path)
	c.Snapshot.Path = ExpandPath(c.Snapshot.Path)
}

// applyEnv overrides connection settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		c.Username = v
	}
	if v := os.Getenv(EnvCalendar); v != "" {
		c.CalendarName = v
	}
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample and returns defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes YAML config content and applies defaults
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// writeSample writes the embedded sample config to path
func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid server_url: %q", c.ServerURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid server_url scheme %q (must be 'http' or 'https')", u.Scheme)
		}
	}

	if _, err := time.ParseDuration(c.HTTP.Timeout); err != nil {
		return fmt.Errorf("invalid duration for http.timeout: %q", c.HTTP.Timeout)
	}
	if c.HTTP.MaxRetries != nil && *c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must not be negative, got %d", *c.HTTP.MaxRetries)
	}

	switch c.Tracing.Exporter {
	case tracing.ExporterNone, tracing.ExporterStdout:
	case tracing.ExporterOTLP:
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing.exporter is 'otlp'")
		}
	default:
		return fmt.Errorf("invalid tracing.exporter: %q (must be 'none', 'stdout' or 'otlp')", c.Tracing.Exporter)
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(jsonOutput, verbose bool) {
	if jsonOutput {
		c.OutputFormat = "json"
	}
	if verbose {
		c.Verbose = true
	}
}

// GetHTTPTimeout returns the request timeout.
// Returns 30 seconds as default if not configured or if parsing fails.
func (c *Config) GetHTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetMaxRetries returns the number of retries on rate limiting.
// Returns 3 (default) if not configured.
func (c *Config) GetMaxRetries() int {
	if c.HTTP.MaxRetries == nil {
		return 3
	}
	return *c.HTTP.MaxRetries
}

// ServerConfig projects the connection settings for the CalDAV service
func (c *Config) ServerConfig(password string) caldav.Config {
	return caldav.Config{
		ServerURL:    c.ServerURL,
		Username:     c.Username,
		Password:     password,
		CalendarName: c.CalendarName,
	}
}

// NotificationSettings projects the notification section for the notification manager
func (c *Config) NotificationSettings() *notification.Config {
	return &notification.Config{
		Enabled: c.Notification.Enabled,
		OSNotification: notification.OSNotificationConfig{
			Enabled:    c.Notification.OSNotification.Enabled,
			ErrorsOnly: c.Notification.OSNotification.ErrorsOnly,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   c.Notification.LogNotification.Enabled,
			Path:      c.Notification.LogNotification.Path,
			MaxSizeMB: c.Notification.LogNotification.MaxSizeMB,
		},
	}
}

// TracingSettings projects the tracing section for tracing.Setup
func (c *Config) TracingSettings() tracing.Config {
	return tracing.Config{
		Exporter: c.Tracing.Exporter,
		Endpoint: c.Tracing.Endpoint,
		Insecure: c.Tracing.Insecure,
	}
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, appDirName)
	}
	return filepath.Join(home, fallbackPath, appDirName)
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
