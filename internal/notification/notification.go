// Package notification delivers user-facing notifications about failed CalDAV requests.
package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the type of notification
type NotificationType string

const (
	NotifyNetworkError     NotificationType = "network_error"
	NotifyCalendarNotFound NotificationType = "calendar_not_found"
	NotifyIssueNotFound    NotificationType = "issue_not_found"
	NotifyTest             NotificationType = "test"
)

// Severity is the urgency of a notification
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityInfo  Severity = "INFO"
)

// Notification represents a notification to be sent
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Severity  Severity         `json:"severity"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// String formats n as one log line, e.g.
// 2026-01-16T10:30:00Z ERROR [ISSUE_NOT_FOUND] issue not found: 42 (id)
func (n Notification) String() string {
	return fmt.Sprintf("%s %s [%s] %s (%s)",
		n.Timestamp.UTC().Format(time.RFC3339), n.Severity, strings.ToUpper(string(n.Type)), n.Message, n.ID)
}

// New creates a notification stamped with a fresh ID and the current time
func New(t NotificationType, severity Severity, title, message string) Notification {
	return Notification{
		ID:        uuid.New().String(),
		Type:      t,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NotificationManager is the interface for managing notifications
type NotificationManager interface {
	Send(n Notification) error
	Close() error
	ChannelCount() int
	Channels() []string
}

// NotificationChannel is the interface for a notification channel
type NotificationChannel interface {
	Send(n Notification) error
	Close() error
}

// Config holds the notification configuration
type Config struct {
	Enabled         bool
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
}

// OSNotificationConfig holds OS notification configuration
type OSNotificationConfig struct {
	Enabled bool
	// ErrorsOnly suppresses INFO notifications on the desktop
	ErrorsOnly bool
}

// LogNotificationConfig holds log notification configuration
type LogNotificationConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a mock implementation of CommandExecutor for testing
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option is a functional option for configuring notification channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform sets the platform for OS notifications
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
	}
}

// WithChannel adds an extra channel to the manager, e.g. an in-memory recorder in tests
func WithChannel(ch NotificationChannel) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.extra = append(mgr.extra, ch)
		}
	}
}
