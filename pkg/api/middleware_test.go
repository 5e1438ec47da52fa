package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiter_PerKeyBuckets(t *testing.T) {
	rl := NewIPRateLimiter(1, 2)
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "within burst")
	}
	ok, _ := rl.Allow(ctx, "10.0.0.1")
	assert.False(t, ok, "burst exhausted")

	ok, _ = rl.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "other clients keep their own bucket")

	time.Sleep(1100 * time.Millisecond)
	ok, _ = rl.Allow(ctx, "10.0.0.1")
	assert.True(t, ok, "refilled")
}

func TestIPRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewIPRateLimiter(1, 1)
	assert.NoError(t, rl.Close())
	assert.NoError(t, rl.Close())
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenLimiter{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[2001:db8::1]", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, clientIP(r), tt.remote)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-42")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "client-42", seen)
	assert.Equal(t, "client-42", w.Header().Get(RequestIDHeader))

	assert.Empty(t, GetRequestID(context.Background()))
}
