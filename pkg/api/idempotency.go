package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// IdempotencyKeyHeader lets clients retry mutations safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// CachedResponse is a replayable 2xx response.
type CachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore remembers responses by key.
type IdempotencyStore interface {
	Check(key string) (*CachedResponse, bool)
	Set(key string, resp *CachedResponse)
}

// MemoryIdempotencyStore keeps responses in process for ttl.
type MemoryIdempotencyStore struct {
	mu       sync.RWMutex
	entries  map[string]*CachedResponse
	ttl      time.Duration
	clock    func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryIdempotencyStore starts a store with a background sweeper;
// Close stops it.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		clock:   time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryIdempotencyStore) sweep() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			now := s.clock()
			s.mu.Lock()
			for k, v := range s.entries {
				if now.Sub(v.CachedAt) > s.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Check returns the cached response while it is fresh.
func (s *MemoryIdempotencyStore) Check(key string) (*CachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && s.clock().Sub(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

// Set stores resp, stamping CachedAt.
func (s *MemoryIdempotencyStore) Set(key string, resp *CachedResponse) {
	resp.CachedAt = s.clock()
	s.mu.Lock()
	s.entries[key] = resp
	s.mu.Unlock()
}

// Close stops the sweeper.
func (s *MemoryIdempotencyStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotent replays the first 2xx response for a repeated
// Idempotency-Key on POST and DELETE. Keys are scoped to method and path.
// Requests without the header pass through.
func Idempotent(store IdempotencyStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodDelete) {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		if cached, ok := store.Check(key); ok {
			for k, vals := range cached.Headers {
				if k == http.CanonicalHeaderKey(RequestIDHeader) {
					continue
				}
				w.Header()[k] = append([]string(nil), vals...)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status >= 200 && capture.status < 300 {
			store.Set(key, &CachedResponse{
				StatusCode: capture.status,
				Headers:    w.Header().Clone(),
				Body:       capture.body.Bytes(),
			})
		}
	})
}
