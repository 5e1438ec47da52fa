package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotent_ReplaysFirstSuccess(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	calls := 0
	h := Idempotent(store, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeJSON(w, http.StatusCreated, map[string]int{"call": calls})
	}))

	send := func(method, path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader("{}"))
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	first := send(http.MethodPost, "/api/reputation/transactions", "po-7781")
	require.Equal(t, http.StatusCreated, first.Code)
	second := send(http.MethodPost, "/api/reputation/transactions", "po-7781")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)

	send(http.MethodPost, "/api/risk/report", "po-7781")
	assert.Equal(t, 2, calls, "keys are scoped to the path")

	send(http.MethodPost, "/api/reputation/transactions", "")
	send(http.MethodGet, "/api/reputation/transactions", "po-7781")
	assert.Equal(t, 4, calls)
}

func TestIdempotent_DoesNotCacheFailures(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	calls := 0
	h := Idempotent(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteBadRequest(w, r, "nope")
	}))
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/trust/submit", nil)
		req.Header.Set(IdempotencyKeyHeader, "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	store := NewMemoryIdempotencyStore(time.Minute)
	defer store.Close()
	store.clock = func() time.Time { return now }

	store.Set("k", &CachedResponse{StatusCode: http.StatusOK})
	_, ok := store.Check("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = store.Check("k")
	assert.False(t, ok)
}
