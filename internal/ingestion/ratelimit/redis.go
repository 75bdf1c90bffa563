package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"vendorgrid/internal/ingestion/models"
)

// KeyPrefix namespaces the limiter's redis keys.
const KeyPrefix = "vendorgrid:ratelimit:"

// tokenBucketScript refills and consumes one token atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// Returns {granted, wait_micros}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local granted = 0
local wait = 0
if tokens >= 1 then
    tokens = tokens - 1
    granted = 1
else
    wait = math.ceil((1 - tokens) / rate * 1000000)
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {granted, wait}
`)

// RedisLimiter shares source buckets across scheduler replicas.
type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time

	mu     sync.RWMutex
	limits map[string]models.RateLimit
}

type RedisOption func(*RedisLimiter)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		l.now = now
	}
}

func NewRedis(client redis.Scripter, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		now:    time.Now,
		limits: make(map[string]models.RateLimit),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) Configure(sourceID string, limit models.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit.RequestsPerSecond <= 0 {
		delete(l.limits, sourceID)
		return
	}
	if limit.Burst < 1 {
		limit.Burst = 1
	}
	l.limits[sourceID] = limit
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, sourceID string) (Reservation, error) {
	l.mu.RLock()
	limit, ok := l.limits[sourceID]
	l.mu.RUnlock()
	if !ok {
		return Reservation{Granted: true}, nil
	}

	now := float64(l.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client, []string{KeyPrefix + sourceID},
		limit.RequestsPerSecond, limit.Burst, now).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("redis limiter: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Reservation{}, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	granted, _ := values[0].(int64)
	waitMicros, _ := values[1].(int64)
	if granted == 1 {
		return Reservation{Granted: true}, nil
	}
	return Reservation{Wait: time.Duration(waitMicros) * time.Microsecond}, nil
}
