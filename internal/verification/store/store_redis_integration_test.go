//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"geoverify/internal/geo"
	"geoverify/internal/verification/models"
	"geoverify/internal/verification/store"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
	"geoverify/pkg/testutil/containers"
)

// RedisIntegrationSuite runs the CAS contract against a real server, where
// WATCH/MULTI contention behaves as in production.
type RedisIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
	now   time.Time
}

func TestRedisIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client, store.WithRetention(time.Hour))
}

func (s *RedisIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.now = time.Now().UTC().Truncate(time.Second)
}

func (s *RedisIntegrationSuite) TestConcurrentSubmissionsFinalizeOnce() {
	ctx := context.Background()
	tokenID, err := id.NewTokenID()
	s.Require().NoError(err)
	token := models.NewToken(tokenID, models.Recipient{FullName: "Mary Jackson", Email: "mj@example.com"},
		&geo.Coordinate{Latitude: 37.0871, Longitude: -76.3803},
		id.Principal{Kind: id.PrincipalAPIKey, ID: "key_nasa"}, s.now, time.Hour)
	s.Require().NoError(s.store.Create(ctx, token))

	_, err = s.store.CompareAndSetStatus(ctx, tokenID, models.StatusIssued, models.StatusValidated, nil, s.now)
	s.Require().NoError(err)
	_, err = s.store.CompareAndSetStatus(ctx, tokenID, models.StatusValidated, models.StatusProcessing, nil, s.now)
	s.Require().NoError(err)

	const submitters = 25
	var wg sync.WaitGroup
	var winners, losers atomic.Int32
	for range submitters {
		wg.Go(func() {
			_, err := s.store.CompareAndSetStatus(ctx, tokenID, models.StatusProcessing, models.StatusDeclined,
				models.NewDeclinedResult(tokenID.VerificationID(), s.now), s.now)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				losers.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(1), winners.Load())
	s.Equal(int32(submitters-1), losers.Load())

	found, err := s.store.FindByID(ctx, tokenID)
	s.Require().NoError(err)
	s.Equal(models.StatusDeclined, found.Status)
	s.Require().NotNil(found.Result)
	s.Equal(int64(4), found.Version)
}
