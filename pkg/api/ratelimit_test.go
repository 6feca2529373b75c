package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	// 1 req/sec, burst 2
	limiter := NewIPRateLimiter(1, 2)
	defer limiter.Close()

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()

	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		assert.Equal(t, http.StatusOK, resp.StatusCode, "within burst limit")
		assert.NoError(t, resp.Body.Close())
	}

	// Burst exhausted; the next request must be rejected.
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "exceeded burst")
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	assert.NoError(t, resp.Body.Close())

	// One token refills after a second.
	time.Sleep(1100 * time.Millisecond)

	resp, err = client.Get(ts.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, resp.StatusCode, "refilled token")
	assert.NoError(t, resp.Body.Close())
}

func TestIPRateLimiter_SeparateBudgetsPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	defer limiter.Close()

	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	assert.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "10.0.0.1")
	assert.NoError(t, err)
	assert.False(t, allowed, "same IP over budget")

	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	assert.NoError(t, err)
	assert.True(t, allowed, "other IP has its own bucket")
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:52341", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"[2001:db8::1]", "2001:db8::1"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tc.remote
		assert.Equal(t, tc.want, clientIP(r), "remote %q", tc.remote)
	}
}

// TestRedisRateLimiter_Integration requires a running Redis; skipped
// when none is reachable.
func TestRedisRateLimiter_Integration(t *testing.T) {
	limiter := NewRedisRateLimiter("localhost:6379", "", 0, 60, 1)
	defer func() { _ = limiter.Close() }()

	ctx := context.Background()
	if err := limiter.client.Ping(ctx).Err(); err != nil {
		t.Skip("skipping Redis integration test: redis not available")
	}

	key := "test-limiter-" + t.Name()

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed=true for fresh bucket")
	}

	allowed, err = limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed=false with burst 1")
	}

	time.Sleep(1100 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed=true after refill")
	}
}
