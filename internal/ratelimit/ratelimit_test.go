package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-webdav"
)

var _ webdav.HTTPClient = (*Client)(nil)

// =============================================================================
// Rate Limit Tests
// =============================================================================

func newRequest(t *testing.T, ctx context.Context, method, url string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

// TestRateLimitRetry tests that a 429 response triggers an automatic retry
func TestRateLimitRetry(t *testing.T) {
	requestCount := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 5, BaseDelay: 10 * time.Millisecond})

	resp, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&requestCount); got != 2 {
		t.Errorf("expected 2 requests (1 retry), got %d", got)
	}
}

// TestRateLimitExponentialBackoff tests that consecutive 429s increase the delay
func TestRateLimitExponentialBackoff(t *testing.T) {
	var mu sync.Mutex
	var requestTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestTimes = append(requestTimes, time.Now())
		n := len(requestTimes)
		mu.Unlock()
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	baseDelay := 40 * time.Millisecond
	client := NewClient(Config{MaxRetries: 5, BaseDelay: baseDelay, MaxDelay: time.Second})

	resp, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	_ = resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(requestTimes) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(requestTimes))
	}
	for i := 1; i < len(requestTimes); i++ {
		gap := requestTimes[i].Sub(requestTimes[i-1])
		want := baseDelay << (i - 1)
		if gap < want*8/10 {
			t.Errorf("gap %d = %v, want at least %v", i, gap, want*8/10)
		}
	}
}

// TestRateLimitMaxRetries tests that the client gives up after MaxRetries
func TestRateLimitMaxRetries(t *testing.T) {
	requestCount := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	stats := NewStats()
	client := NewClient(Config{MaxRetries: 2, BaseDelay: 5 * time.Millisecond, Stats: stats, Server: "CalDAV"})

	_, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got: %v", err)
	}
	if rlErr.Server != "CalDAV" || rlErr.MaxAttempts != 2 {
		t.Errorf("unexpected error fields: %+v", rlErr)
	}
	if got := atomic.LoadInt32(&requestCount); got != 3 {
		t.Errorf("expected 3 requests (initial + 2 retries), got %d", got)
	}
	if stats.RateLimitCount() != 3 {
		t.Errorf("expected 3 rate limit events, got %d", stats.RateLimitCount())
	}
}

// TestRateLimitRetriesDisabled tests that MaxRetries 0 returns on the first 429
func TestRateLimitRetriesDisabled(t *testing.T) {
	requestCount := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 0})

	_, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got: %v", err)
	}
	if got := atomic.LoadInt32(&requestCount); got != 1 {
		t.Errorf("expected 1 request, got %d", got)
	}
}

// TestRateLimitHeaderRespect tests that Retry-After in seconds overrides the backoff
func TestRateLimitHeaderRespect(t *testing.T) {
	var first, gap atomic.Int64
	requestCount := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) == 1 {
			first.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap.Store(time.Now().UnixNano() - first.Load())
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// BaseDelay alone would retry almost immediately
	client := NewClient(Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Second})

	resp, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	_ = resp.Body.Close()

	if d := time.Duration(gap.Load()); d < 900*time.Millisecond {
		t.Errorf("expected retry after ~1s, got %v", d)
	}
}

// TestRateLimitContextCancellation tests that a cancelled context aborts the wait
func TestRateLimitContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 5, BaseDelay: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Do(newRequest(t, ctx, http.MethodGet, server.URL, nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

// TestRateLimitWithBody tests that the request body is re-sent on retry
func TestRateLimitWithBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 2, BaseDelay: 5 * time.Millisecond})

	tests := []struct {
		name string
		body func() io.Reader
	}{
		{"rewindable body", func() io.Reader { return strings.NewReader("<calendar-query/>") }},
		{"plain reader", func() io.Reader { return io.MultiReader(strings.NewReader("<calendar-query/>")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			bodies = nil
			mu.Unlock()

			resp, err := client.Do(newRequest(t, context.Background(), "REPORT", server.URL, tt.body()))
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			_ = resp.Body.Close()

			mu.Lock()
			defer mu.Unlock()
			if len(bodies) != 2 {
				t.Fatalf("expected 2 requests, got %d", len(bodies))
			}
			for i, b := range bodies {
				if b != "<calendar-query/>" {
					t.Errorf("request %d body = %q", i, b)
				}
			}
		})
	}
}

// TestRateLimitNon429Passthrough tests that other statuses are returned untouched
func TestRateLimitNon429Passthrough(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			requestCount := int32(0)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requestCount, 1)
				w.WriteHeader(status)
			}))
			defer server.Close()

			client := NewClient(Config{MaxRetries: 3, BaseDelay: time.Millisecond})
			resp, err := client.Do(newRequest(t, context.Background(), http.MethodGet, server.URL, nil))
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			_ = resp.Body.Close()

			if resp.StatusCode != status {
				t.Errorf("expected status %d, got %d", status, resp.StatusCode)
			}
			if got := atomic.LoadInt32(&requestCount); got != 1 {
				t.Errorf("expected 1 request, got %d", got)
			}
		})
	}
}

// TestCalculateBackoff tests the backoff schedule and its caps
func TestCalculateBackoff(t *testing.T) {
	c := NewClient(Config{BaseDelay: time.Second, MaxDelay: 8 * time.Second})

	tests := []struct {
		name       string
		attempt    int
		retryAfter *time.Duration
		want       time.Duration
	}{
		{"attempt 0", 0, nil, time.Second},
		{"attempt 1", 1, nil, 2 * time.Second},
		{"attempt 2", 2, nil, 4 * time.Second},
		{"capped", 5, nil, 8 * time.Second},
		{"retry-after wins", 0, durationPtr(3 * time.Second), 3 * time.Second},
		{"retry-after capped", 0, durationPtr(time.Hour), 8 * time.Second},
		{"retry-after zero", 3, durationPtr(0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.calculateBackoff(tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

// TestCalculateBackoffJitter tests that jitter stays within ±20%
func TestCalculateBackoffJitter(t *testing.T) {
	c := NewClient(Config{BaseDelay: time.Second, MaxDelay: time.Minute, EnableJitter: true})

	for i := 0; i < 100; i++ {
		got := c.calculateBackoff(1, nil)
		if got < 1600*time.Millisecond || got > 2400*time.Millisecond {
			t.Fatalf("jittered delay %v outside [1.6s, 2.4s]", got)
		}
	}
}

// TestParseRetryAfter tests both header formats
func TestParseRetryAfter(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)

	tests := []struct {
		name  string
		value string
		check func(*time.Duration) bool
	}{
		{"empty", "", func(d *time.Duration) bool { return d == nil }},
		{"seconds", "120", func(d *time.Duration) bool { return d != nil && *d == 120*time.Second }},
		{"zero", "0", func(d *time.Duration) bool { return d != nil && *d == 0 }},
		{"negative", "-5", func(d *time.Duration) bool { return d == nil }},
		{"garbage", "soon", func(d *time.Duration) bool { return d == nil }},
		{"http date", future, func(d *time.Duration) bool { return d != nil && *d > 8*time.Second && *d <= 10*time.Second }},
		{"past date", past, func(d *time.Duration) bool { return d != nil && *d == 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value); !tt.check(got) {
				t.Errorf("ParseRetryAfter(%q) = %v", tt.value, got)
			}
		})
	}
}

// TestRateLimitError tests the error message
func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{Server: "CalDAV", Attempt: 3, MaxAttempts: 3}
	if got := err.Error(); got != "CalDAV rate limit exceeded after 3 retries (max 3)" {
		t.Errorf("Error() = %q", got)
	}

	err = &RateLimitError{Attempt: 1, MaxAttempts: 1}
	if !strings.HasPrefix(err.Error(), "server rate limit exceeded") {
		t.Errorf("Error() = %q", err.Error())
	}
}

// TestNewClientDefaults tests defaults for zero and negative settings
func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{MaxRetries: -1, Timeout: 5 * time.Second})

	if c.maxRetries != DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", c.maxRetries, DefaultMaxRetries)
	}
	if c.baseDelay != time.Second {
		t.Errorf("baseDelay = %v, want 1s", c.baseDelay)
	}
	if c.maxDelay != 32*time.Second {
		t.Errorf("maxDelay = %v, want 32s", c.maxDelay)
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.httpClient.Timeout)
	}

	custom := &http.Client{}
	if NewClient(Config{HTTPClient: custom}).httpClient != custom {
		t.Error("expected the provided HTTP client to be used")
	}
}

// TestStatsThreadSafety tests concurrent stat updates
func TestStatsThreadSafety(t *testing.T) {
	stats := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.RecordRateLimit()
			_ = stats.RateLimitCount()
		}()
	}
	wg.Wait()

	if stats.RateLimitCount() != 50 {
		t.Errorf("RateLimitCount = %d, want 50", stats.RateLimitCount())
	}
	if stats.LastRateLimitTime().IsZero() {
		t.Error("LastRateLimitTime not recorded")
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
