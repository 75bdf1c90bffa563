//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/ratelimit"
	"vendorgrid/pkg/testutil/containers"
)

type RedisLimiterSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	now   time.Time
	lim   *ratelimit.RedisLimiter
}

func TestRedisLimiterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLimiterSuite))
}

func (s *RedisLimiterSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLimiterSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.lim = ratelimit.NewRedis(s.redis.Client, ratelimit.WithRedisClock(func() time.Time { return s.now }))
	s.lim.Configure("registry-ca", models.RateLimit{RequestsPerSecond: 2, Burst: 1})
}

func (s *RedisLimiterSuite) TestAcquireWaitRefill() {
	ctx := context.Background()

	r, err := s.lim.TryAcquire(ctx, "registry-ca")
	s.Require().NoError(err)
	s.True(r.Granted)

	r, err = s.lim.TryAcquire(ctx, "registry-ca")
	s.Require().NoError(err)
	s.False(r.Granted)
	s.Equal(500*time.Millisecond, r.Wait)

	s.now = s.now.Add(500 * time.Millisecond)
	r, err = s.lim.TryAcquire(ctx, "registry-ca")
	s.Require().NoError(err)
	s.True(r.Granted)
}

func (s *RedisLimiterSuite) TestReplicasShareBucket() {
	ctx := context.Background()
	other := ratelimit.NewRedis(s.redis.Client, ratelimit.WithRedisClock(func() time.Time { return s.now }))
	other.Configure("registry-ca", models.RateLimit{RequestsPerSecond: 2, Burst: 1})

	r, err := s.lim.TryAcquire(ctx, "registry-ca")
	s.Require().NoError(err)
	s.True(r.Granted)

	r, err = other.TryAcquire(ctx, "registry-ca")
	s.Require().NoError(err)
	s.False(r.Granted)
}

func (s *RedisLimiterSuite) TestUnconfiguredSource() {
	r, err := s.lim.TryAcquire(context.Background(), "unknown")
	s.Require().NoError(err)
	s.True(r.Granted)
}
