package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisBucketStore
	ctx   context.Context
	now   time.Time
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.store = NewRedis(client)
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) TestSlidingWindow() {
	for i := range 3 {
		result, err := s.store.Allow(s.ctx, "rl:test:window", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(2-i, result.Remaining)
	}

	s.now = s.now.Add(15 * time.Second)
	denied, err := s.store.Allow(s.ctx, "rl:test:window", 3, time.Minute)
	s.Require().NoError(err)
	s.False(denied.Allowed)
	s.Equal(45, denied.RetryAfter)
	s.Equal(time.Date(2026, 5, 4, 10, 1, 0, 0, time.UTC), denied.ResetAt.UTC())

	s.now = s.now.Add(45 * time.Second)
	allowed, err := s.store.Allow(s.ctx, "rl:test:window", 3, time.Minute)
	s.Require().NoError(err)
	s.True(allowed.Allowed)
}

func (s *RedisBucketStoreSuite) TestKeysAreIndependentAndExpire() {
	for range 2 {
		_, err := s.store.Allow(s.ctx, "rl:test:a", 2, time.Minute)
		s.Require().NoError(err)
	}
	full, err := s.store.Allow(s.ctx, "rl:test:a", 2, time.Minute)
	s.Require().NoError(err)
	s.False(full.Allowed)

	other, err := s.store.Allow(s.ctx, "rl:test:b", 2, time.Minute)
	s.Require().NoError(err)
	s.True(other.Allowed)

	s.True(s.mr.Exists("rl:test:a"))
	s.Equal(time.Minute, s.mr.TTL("rl:test:a"))

	s.mr.FastForward(time.Minute)
	s.False(s.mr.Exists("rl:test:a"))
}
