package caldav_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caldavtasks/backend/caldav"
)

func baseConfig() caldav.Config {
	return caldav.Config{
		ServerURL:    "https://dav.example.com/",
		Username:     "alice",
		Password:     "secret",
		CalendarName: "Work",
	}
}

// =============================================================================
// Connection cache
// =============================================================================

func TestCacheReusesConnection(t *testing.T) {
	srv := newFakeServer()
	cache := caldav.NewCache()
	ctx := context.Background()

	first, err := cache.Connection(ctx, baseConfig(), srv.Dial, nil)
	require.NoError(t, err)
	second, err := cache.Connection(ctx, baseConfig(), srv.Dial, nil)
	require.NoError(t, err)

	require.Same(t, first, second)
	dials, connects, _, _ := srv.counts()
	require.Equal(t, 1, dials)
	require.Equal(t, 1, connects)
	require.Equal(t, 1, cache.Len())
}

func TestCacheKeyFields(t *testing.T) {
	tests := []struct {
		name   string
		change func(*caldav.Config)
		dials  int
	}{
		{"same key", func(*caldav.Config) {}, 1},
		{"other url", func(c *caldav.Config) { c.ServerURL = "https://other.example.com/" }, 2},
		{"other username", func(c *caldav.Config) { c.Username = "bob" }, 2},
		{"other password", func(c *caldav.Config) { c.Password = "rotated" }, 2},
		{"calendar name is not part of the key", func(c *caldav.Config) { c.CalendarName = "Home" }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			cache := caldav.NewCache()

			_, err := cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
			require.NoError(t, err)

			cfg := baseConfig()
			tt.change(&cfg)
			_, err = cache.Connection(context.Background(), cfg, srv.Dial, nil)
			require.NoError(t, err)

			dials, _, _, _ := srv.counts()
			require.Equal(t, tt.dials, dials)
		})
	}
}

func TestCacheKeyHasNoDelimiterCollision(t *testing.T) {
	srv := newFakeServer()
	cache := caldav.NewCache()

	a := caldav.Config{ServerURL: "a|b", Username: "c", CalendarName: "x"}
	b := caldav.Config{ServerURL: "a", Username: "b|c", CalendarName: "x"}

	_, err := cache.Connection(context.Background(), a, srv.Dial, nil)
	require.NoError(t, err)
	_, err = cache.Connection(context.Background(), b, srv.Dial, nil)
	require.NoError(t, err)

	require.Equal(t, 2, cache.Len())
}

func TestCacheConcurrentFirstUseSharesHandshake(t *testing.T) {
	srv := newFakeServer()
	srv.gate = make(chan struct{})
	cache := caldav.NewCache()

	const callers = 16
	conns := make([]*caldav.Connection, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
		}(i)
	}
	close(srv.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, conns[0], conns[i])
	}
	dials, connects, _, _ := srv.counts()
	require.Equal(t, 1, dials)
	require.Equal(t, 1, connects)
}

func TestCacheCancelledCallerDoesNotFailOthers(t *testing.T) {
	srv := newFakeServer()
	srv.gate = make(chan struct{})
	cache := caldav.NewCache()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Connection(ctxA, baseConfig(), srv.Dial, nil)
		errA <- err
	}()
	require.Eventually(t, func() bool {
		dials, _, _, _ := srv.counts()
		return dials == 1
	}, time.Second, time.Millisecond, "first caller never started the handshake")

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared handshake")
	}

	// The handshake is still blocked in Connect, so this caller joins it.
	type result struct {
		conn *caldav.Connection
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		conn, err := cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
		resB <- result{conn, err}
	}()
	close(srv.gate)

	select {
	case res := <-resB:
		require.NoError(t, res.err)
		require.NotNil(t, res.conn)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	dials, connects, _, _ := srv.counts()
	require.Equal(t, 1, dials)
	require.Equal(t, 1, connects)
	require.Equal(t, 1, cache.Len())
}

func TestCacheFailedHandshakeIsNotCached(t *testing.T) {
	srv := newFakeServer()
	srv.connectErr = errors.New("401 Unauthorized")
	cache := caldav.NewCache()

	_, err := cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
	require.ErrorIs(t, err, caldav.ErrNetwork)
	require.Contains(t, err.Error(), "401 Unauthorized")
	require.Equal(t, 0, cache.Len())

	srv.mu.Lock()
	srv.connectErr = nil
	srv.mu.Unlock()

	_, err = cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
	require.NoError(t, err)

	dials, _, _, _ := srv.counts()
	require.Equal(t, 2, dials)
}

func TestCacheDialErrorIsNetworkError(t *testing.T) {
	cache := caldav.NewCache()
	dial := func(caldav.Config, caldav.RequestDecorator) (caldav.Conn, error) {
		return nil, errors.New("invalid server url")
	}

	_, err := cache.Connection(context.Background(), baseConfig(), dial, nil)
	require.ErrorIs(t, err, caldav.ErrNetwork)
	require.Equal(t, 0, cache.Len())
}

func TestCacheReset(t *testing.T) {
	srv := newFakeServer()
	cache := caldav.NewCache()

	_, err := cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
	require.NoError(t, err)

	cache.Reset()
	require.Equal(t, 0, cache.Len())

	_, err = cache.Connection(context.Background(), baseConfig(), srv.Dial, nil)
	require.NoError(t, err)
	dials, _, _, _ := srv.counts()
	require.Equal(t, 2, dials)
}
