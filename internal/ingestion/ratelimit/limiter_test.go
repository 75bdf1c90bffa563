package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendorgrid/internal/ingestion/models"
)

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	t.Run("burst then wait then refill", func(t *testing.T) {
		l := NewMemory(WithClock(clock))
		l.Configure("registry-ca", models.RateLimit{RequestsPerSecond: 1, Burst: 2})

		for i := 0; i < 2; i++ {
			r, err := l.TryAcquire(ctx, "registry-ca")
			require.NoError(t, err)
			assert.True(t, r.Granted, "acquire %d", i)
		}

		r, err := l.TryAcquire(ctx, "registry-ca")
		require.NoError(t, err)
		assert.False(t, r.Granted)
		assert.Equal(t, time.Second, r.Wait)

		now = now.Add(time.Second)
		r, err = l.TryAcquire(ctx, "registry-ca")
		require.NoError(t, err)
		assert.True(t, r.Granted)
	})

	t.Run("denied attempts do not consume tokens", func(t *testing.T) {
		l := NewMemory(WithClock(clock))
		l.Configure("slow", models.RateLimit{RequestsPerSecond: 0.5, Burst: 1})
		r, _ := l.TryAcquire(ctx, "slow")
		require.True(t, r.Granted)
		for i := 0; i < 3; i++ {
			r, _ = l.TryAcquire(ctx, "slow")
			assert.Equal(t, 2*time.Second, r.Wait)
		}
	})

	t.Run("sources are independent", func(t *testing.T) {
		l := NewMemory(WithClock(clock))
		l.Configure("a", models.RateLimit{RequestsPerSecond: 1, Burst: 1})
		l.Configure("b", models.RateLimit{RequestsPerSecond: 1, Burst: 1})
		ra, _ := l.TryAcquire(ctx, "a")
		rb, _ := l.TryAcquire(ctx, "b")
		assert.True(t, ra.Granted)
		assert.True(t, rb.Granted)
	})

	t.Run("unconfigured and cleared sources are unlimited", func(t *testing.T) {
		l := NewMemory(WithClock(clock))
		l.Configure("a", models.RateLimit{RequestsPerSecond: 1, Burst: 1})
		l.Configure("a", models.RateLimit{})
		for i := 0; i < 5; i++ {
			r, err := l.TryAcquire(ctx, "a")
			require.NoError(t, err)
			assert.True(t, r.Granted)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		l := NewMemory()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := l.TryAcquire(cctx, "a")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
