package notification

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// logNotificationChannel appends notifications to a JSON Lines file
type logNotificationChannel struct {
	config *LogNotificationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewLogNotificationChannel creates a channel writing to cfg.Path
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{config: cfg}
}

// Send appends n as one JSON object per line, rotating first when the file is full
func (c *logNotificationChannel) Send(n Notification) error {
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full(int64(len(line))) {
		if err := c.rotate(); err != nil {
			return err
		}
	}
	if err := c.open(); err != nil {
		return err
	}

	written, err := c.file.Write(line)
	c.size += int64(written)
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return c.file.Sync()
}

// full reports whether appending next bytes would exceed max_size_mb
func (c *logNotificationChannel) full(next int64) bool {
	if c.config.MaxSizeMB <= 0 {
		return false
	}
	if c.file == nil {
		info, err := os.Stat(c.config.Path)
		if err != nil {
			return false
		}
		c.size = info.Size()
	}
	return c.size > 0 && c.size+next > int64(c.config.MaxSizeMB)<<20
}

// rotate moves the current file to <path>.old, replacing any previous one
func (c *logNotificationChannel) rotate() error {
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
	if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to rotate notification log: %w", err)
	}
	c.size = 0
	return nil
}

func (c *logNotificationChannel) open() error {
	if c.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat notification log: %w", err)
	}
	c.file = file
	c.size = info.Size()
	return nil
}

// Close closes the log file
func (c *logNotificationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// ReadLog returns the logged notifications, oldest first.
// A missing file yields no entries.
func ReadLog(path string) ([]Notification, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []Notification
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		entries = append(entries, n)
	}
	return entries, scanner.Err()
}

// ClearLog truncates the log. It returns an error wrapping os.ErrNotExist
// when there is no log yet.
func ClearLog(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return os.Truncate(path, 0)
}
