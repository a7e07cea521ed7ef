package caldav

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"caldavtasks/internal/utils"
)

// setupTimeout bounds a shared handshake or calendar lookup once it no longer
// follows any single caller's context.
const setupTimeout = time.Minute

// Cache holds established connections keyed by (url, username, password).
// Concurrent first callers for the same key share one handshake; failed
// handshakes are not cached.
type Cache struct {
	mu     sync.Mutex
	conns  map[connKey]*Connection
	group  singleflight.Group
	logger *utils.Logger
}

// NewCache creates an empty connection cache
func NewCache() *Cache {
	return &Cache{conns: make(map[connKey]*Connection), logger: utils.GetLogger()}
}

// Connection is an established session plus the calendars resolved through it
type Connection struct {
	conn   Conn
	logger *utils.Logger

	mu        sync.Mutex
	calendars map[string]Calendar
	group     singleflight.Group
}

func newConnection(conn Conn, logger *utils.Logger) *Connection {
	return &Connection{conn: conn, logger: logger, calendars: make(map[string]Calendar)}
}

// Conn returns the underlying transport session
func (c *Connection) Conn() Conn {
	return c.conn
}

// Connection returns the cached connection for cfg, dialing and performing the
// handshake on a miss.
func (c *Cache) Connection(ctx context.Context, cfg Config, dial Dialer, decorate RequestDecorator) (*Connection, error) {
	key := keyOf(cfg)
	if conn, ok := c.lookup(key); ok {
		c.logger.Debug("caldav: reusing connection to %s as %s", cfg.ServerURL, cfg.Username)
		return conn, nil
	}

	return shared(ctx, &c.group, key.flightKey(), "connect", func(ctx context.Context) (*Connection, error) {
		if conn, ok := c.lookup(key); ok {
			return conn, nil
		}
		c.logger.Debug("caldav: connecting to %s as %s", cfg.ServerURL, cfg.Username)

		conn, err := dial(cfg, decorate)
		if err != nil {
			return nil, networkError("dial", err)
		}
		if err := conn.Connect(ctx); err != nil {
			return nil, networkError("connect", err)
		}

		entry := newConnection(conn, c.logger)
		c.mu.Lock()
		c.conns[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
}

// shared runs fn once for all concurrent callers of key. fn runs detached from
// the callers' cancellation, so one caller giving up does not fail the others;
// each caller still stops waiting when its own ctx is done.
func shared[T any](ctx context.Context, group *singleflight.Group, key, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, networkError(op, err)
	}

	ch := group.DoChan(key, func() (any, error) {
		setupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), setupTimeout)
		defer cancel()
		return fn(setupCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, networkError(op, ctx.Err())
	}
}

func (c *Cache) lookup(key connKey) (*Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[key]
	return conn, ok
}

// Len returns the number of cached connections
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Reset drops every cached connection together with its calendars
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = make(map[connKey]*Connection)
}
