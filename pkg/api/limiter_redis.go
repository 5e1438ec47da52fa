package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes one bucket atomically.
// KEYS[1] bucket, ARGV: rate (tokens/s), burst, cost, now (unix seconds).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local info = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(info[1])
local last_refill = tonumber(info[2])

if tokens == nil then
	tokens = burst
	last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
	tokens = math.min(burst, tokens + elapsed * rate)
	last_refill = now
end

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)
return allowed
`)

// RedisLimiter shares token buckets between server replicas.
type RedisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects to addr lazily; the first Allow dials.
func NewRedisLimiter(addr string, rps float64, burst int) *RedisLimiter {
	return NewRedisLimiterWithClient(redis.NewClient(&redis.Options{Addr: addr}), rps, burst)
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client *redis.Client, rps float64, burst int) *RedisLimiter {
	return &RedisLimiter{client: client, rps: rps, burst: burst, prefix: "ratelimit:", now: time.Now}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(l.now().UnixNano()) / 1e9
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key}, l.rps, l.burst, 1, now).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return res == 1, nil
}

// Ping checks connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
