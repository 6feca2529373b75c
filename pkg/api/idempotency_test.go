package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idempotentEcho(hits *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"execution":` + strings.Repeat("1", int(n)) + `}`))
	})
}

func TestIdempotencyMiddleware_ReplaysCachedResponse(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	var hits atomic.Int32
	handler := IdempotencyMiddleware(store)(idempotentEcho(&hits, http.StatusAccepted))

	first := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	first.Header.Set("Idempotency-Key", "abc")
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, first)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	second.Header.Set("Idempotency-Key", "abc")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, second)

	assert.Equal(t, int32(1), hits.Load(), "handler must run once")
	assert.Equal(t, http.StatusAccepted, w2.Code)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
	assert.Equal(t, "true", w2.Header().Get("Idempotency-Replay"))
	assert.Empty(t, w1.Header().Get("Idempotency-Replay"))
}

func TestIdempotencyMiddleware_DistinctKeysExecuteSeparately(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	var hits atomic.Int32
	handler := IdempotencyMiddleware(store)(idempotentEcho(&hits, http.StatusOK))

	for _, key := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodPost, "/x", nil)
		r.Header.Set("Idempotency-Key", key)
		handler.ServeHTTP(httptest.NewRecorder(), r)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestIdempotencyMiddleware_SkipsWithoutKeyAndOnGET(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	var hits atomic.Int32
	handler := IdempotencyMiddleware(store)(idempotentEcho(&hits, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	get := httptest.NewRequest(http.MethodGet, "/x", nil)
	get.Header.Set("Idempotency-Key", "abc")
	handler.ServeHTTP(httptest.NewRecorder(), get)

	assert.Equal(t, int32(3), hits.Load(), "no caching without key or on reads")
}

func TestIdempotencyMiddleware_DoesNotCacheFailures(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	var hits atomic.Int32
	handler := IdempotencyMiddleware(store)(idempotentEcho(&hits, http.StatusServiceUnavailable))

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, "/x", nil)
		r.Header.Set("Idempotency-Key", "abc")
		handler.ServeHTTP(httptest.NewRecorder(), r)
	}
	assert.Equal(t, int32(2), hits.Load(), "5xx responses stay retryable")
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(30 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "k", http.StatusOK, http.Header{}, []byte("body"))

	cached, ok := store.Check(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("body"), cached.Body)

	time.Sleep(50 * time.Millisecond)
	_, ok = store.Check(ctx, "k")
	assert.False(t, ok, "expired entries must miss")
}
