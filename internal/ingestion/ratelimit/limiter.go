// Package ratelimit bounds how often the scheduler may start a fetch for each
// source. A denied acquisition reports how long to wait; it never blocks.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vendorgrid/internal/ingestion/models"
)

// Reservation is the outcome of TryAcquire. When Granted is false, Wait is
// the time until a token is expected to be available.
type Reservation struct {
	Granted bool
	Wait    time.Duration
}

// Limiter is implemented by the in-memory and redis limiters.
type Limiter interface {
	Configure(sourceID string, limit models.RateLimit)
	TryAcquire(ctx context.Context, sourceID string) (Reservation, error)
}

// MemoryLimiter keeps one token bucket per source in process memory.
// Sources without a configured limit are never throttled.
type MemoryLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

type MemoryOption func(*MemoryLimiter)

func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

func NewMemory(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure installs or replaces the bucket for sourceID. A zero rate
// removes the limit.
func (l *MemoryLimiter) Configure(sourceID string, limit models.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit.RequestsPerSecond <= 0 {
		delete(l.limiters, sourceID)
		return
	}
	l.limiters[sourceID] = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), max(limit.Burst, 1))
}

func (l *MemoryLimiter) TryAcquire(ctx context.Context, sourceID string) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	l.mu.RLock()
	lim, ok := l.limiters[sourceID]
	l.mu.RUnlock()
	if !ok {
		return Reservation{Granted: true}, nil
	}

	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Reservation{}, ErrBurstExceeded
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return Reservation{Wait: wait}, nil
	}
	return Reservation{Granted: true}, nil
}
