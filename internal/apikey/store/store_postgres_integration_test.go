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

	"geoverify/internal/apikey/models"
	"geoverify/internal/apikey/store"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
	"geoverify/pkg/testutil/containers"
)

type PostgresAPIKeyStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	ctx      context.Context
	now      time.Time
}

func TestPostgresAPIKeyStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAPIKeyStoreSuite))
}

func (s *PostgresAPIKeyStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresAPIKeyStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "api_keys"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresAPIKeyStoreSuite) newKey(prefix string) *models.APIKey {
	keyID, err := id.NewAPIKeyID()
	s.Require().NoError(err)
	k, err := models.NewAPIKey(keyID, prefix, "$2a$10$hash", models.CreateRequest{
		Name:        "Globex",
		Company:     "Globex Corp",
		Environment: models.EnvironmentLive,
		Permissions: []models.Permission{models.PermissionCreate, models.PermissionRevoke},
		ExpiresIn:   48 * time.Hour,
	}, s.now)
	s.Require().NoError(err)
	return k
}

func (s *PostgresAPIKeyStoreSuite) TestRoundTrip() {
	k := s.newKey("gv_live_roundtrip000")
	s.Require().NoError(s.store.Create(s.ctx, k))

	found, err := s.store.FindByPrefix(s.ctx, k.KeyPrefix)
	s.Require().NoError(err)
	s.Equal(k.ID, found.ID)
	s.Equal(k.Permissions, found.Permissions)
	s.Require().NotNil(found.ExpiresAt)
	s.True(k.ExpiresAt.Equal(*found.ExpiresAt))
	s.Nil(found.LastUsedAt)

	s.ErrorIs(s.store.Create(s.ctx, s.newKey(k.KeyPrefix)), sentinel.ErrConflict)
}

func (s *PostgresAPIKeyStoreSuite) TestUpdateAndList() {
	k := s.newKey("gv_live_update000000")
	s.Require().NoError(s.store.Create(s.ctx, k))

	updated, err := s.store.Update(s.ctx, k.ID, func(key *models.APIKey) error {
		key.Name = "Renamed"
		key.Deactivate(s.now.Add(time.Minute))
		return nil
	})
	s.Require().NoError(err)
	s.Equal("Renamed", updated.Name)
	s.False(updated.Active)

	keys, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	s.False(keys[0].Active)

	_, err = s.store.Update(s.ctx, "key_missing", func(*models.APIKey) error { return nil })
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresAPIKeyStoreSuite) TestConcurrentUsage() {
	k := s.newKey("gv_live_race00000000")
	s.Require().NoError(s.store.Create(s.ctx, k))

	var wg sync.WaitGroup
	var winners, conflicts atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.RecordUsage(s.ctx, k.ID, 0, s.now)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), winners.Load())
	s.Equal(int32(19), conflicts.Load())
	found, err := s.store.FindByID(s.ctx, k.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), found.UsageCount)
}
