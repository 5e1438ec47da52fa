package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisLimiter_Integration requires a running Redis and is skipped
// otherwise.
func TestRedisLimiter_Integration(t *testing.T) {
	l := NewRedisLimiter("localhost:6379", 1, 1)
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test-" + time.Now().Format("150405.000000")
	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "fresh bucket")

	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "burst of one is spent")

	time.Sleep(1100 * time.Millisecond)
	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "refilled after a second")
}

func TestRedisLimiter_UnreachableReturnsError(t *testing.T) {
	l := NewRedisLimiter("127.0.0.1:1", 1, 1)
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := l.Allow(ctx, "10.0.0.1")
	assert.Error(t, err)
}
