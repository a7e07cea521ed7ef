// Package shutdown cancels in-flight work on SIGINT/SIGTERM and runs
// registered cleanups in reverse registration order.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"caldavtasks/internal/utils"
)

// CleanupFunc performs cleanup on shutdown. Its context is done when the
// cleanup deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	signal   os.Signal
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// NewManager creates a manager whose Context derives from parent.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{ctx: ctx, cancel: cancel}
}

// RegisterCleanup registers a cleanup function to be called by Wait.
// Cleanup functions are called in LIFO order (last registered, first called).
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Listen cancels the manager's context on the first SIGINT or SIGTERM.
// The returned function stops listening.
func (m *Manager) Listen() (stop func()) {
	return m.listen(make(chan os.Signal, 1), syscall.SIGINT, syscall.SIGTERM)
}

func (m *Manager) listen(sigCh chan os.Signal, signals ...os.Signal) func() {
	if len(signals) > 0 {
		signal.Notify(sigCh, signals...)
	}
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			utils.GetLogger().Debug("received %v, cancelling", sig)
			m.mu.Lock()
			m.signal = sig
			m.mu.Unlock()
			m.Shutdown()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// Shutdown cancels the manager's context.
// Safe to call multiple times; only the first call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// Wait runs the cleanup functions in LIFO order. Cleanup errors are logged
// and do not stop the remaining cleanups. It returns ctx.Err() if ctx is
// done before every cleanup has returned.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.cleanups = nil
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i].fn(ctx); err != nil {
				utils.GetLogger().Debug("cleanup %s failed: %v", cleanups[i].name, err)
			}
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Signal returns the signal that triggered shutdown, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Context returns a context that is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}
