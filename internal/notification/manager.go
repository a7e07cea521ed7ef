package notification

import (
	"errors"
	"fmt"
	"sync"
)

// ErrManagerClosed is returned by Send after Close
var ErrManagerClosed = errors.New("notification manager is closed")

// Channel names reported by Channels
const (
	ChannelOS  = "os"
	ChannelLog = "log"
)

// namedChannel pairs a channel with the name used in errors and listings
type namedChannel struct {
	name string
	ch   NotificationChannel
}

// manager fans notifications out to the configured channels. The CalDAV
// service may call Send from concurrent requests.
type manager struct {
	mu       sync.Mutex
	channels []namedChannel
	closed   bool

	commandExecutor CommandExecutor
	extra           []NotificationChannel
}

// NewManager builds the channels enabled in cfg plus any added with WithChannel.
// A disabled config yields a manager with no channels.
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{}
	for _, opt := range opts {
		opt(m)
	}
	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		m.add(ChannelOS, NewOSNotificationChannel(&cfg.OSNotification, osOpts...))
	}

	if cfg.LogNotification.Enabled {
		if cfg.LogNotification.Path == "" {
			return nil, errors.New("notification log path is required when log notifications are enabled")
		}
		m.add(ChannelLog, NewLogNotificationChannel(&cfg.LogNotification))
	}

	for _, ch := range m.extra {
		m.add(channelName(ch), ch)
	}
	return m, nil
}

func (m *manager) add(name string, ch NotificationChannel) {
	m.channels = append(m.channels, namedChannel{name: name, ch: ch})
}

// channelName is ch's Name() when it has one
func channelName(ch NotificationChannel) string {
	if named, ok := ch.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", ch)
}

// Send delivers n to every channel. A failing channel does not stop the
// others; their errors are joined, each prefixed with the channel name.
func (m *manager) Send(n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	var errs []error
	for _, c := range m.channels {
		if err := c.ch.Send(n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every channel once
func (m *manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, c := range m.channels {
		if err := c.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// ChannelCount returns the number of active channels
func (m *manager) ChannelCount() int {
	return len(m.channels)
}

// Channels lists the active channel names in delivery order
func (m *manager) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, c := range m.channels {
		names = append(names, c.name)
	}
	return names
}
