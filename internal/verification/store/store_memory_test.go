package store

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
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newToken(issuer id.Principal) *models.Token {
	tokenID, err := id.NewTokenID()
	s.Require().NoError(err)
	return models.NewToken(tokenID, models.Recipient{FullName: "Ada Lovelace", Email: "ada@example.com"},
		&geo.Coordinate{Latitude: 40.7589, Longitude: -73.9851}, issuer, s.now, time.Hour)
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	admin := id.Principal{Kind: id.PrincipalAdmin, ID: "admin"}

	s.Run("round trips a token", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))

		found, err := s.store.FindByID(ctx, token.ID)
		s.Require().NoError(err)
		s.Equal(token, found)
	})

	s.Run("duplicate id is a conflict", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))
		s.ErrorIs(s.store.Create(ctx, token), sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(ctx, id.TokenID("missing"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned tokens are copies", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))

		found, err := s.store.FindByID(ctx, token.ID)
		s.Require().NoError(err)
		found.Status = models.StatusVerified
		found.ClaimedCoordinate.Latitude = 0

		again, err := s.store.FindByID(ctx, token.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusIssued, again.Status)
		s.Equal(40.7589, again.ClaimedCoordinate.Latitude)
	})
}

func (s *InMemoryStoreSuite) TestCompareAndSetStatus() {
	ctx := context.Background()
	admin := id.Principal{Kind: id.PrincipalAdmin, ID: "admin"}

	s.Run("moves along a legal edge and bumps version", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))

		updated, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusIssued, models.StatusValidated, nil, s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.Equal(models.StatusValidated, updated.Status)
		s.Equal(int64(2), updated.Version)
		s.Nil(updated.ConsumedAt)
	})

	s.Run("stale expectation is a conflict and leaves the token alone", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))

		_, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusValidated, models.StatusProcessing, nil, s.now)
		s.ErrorIs(err, sentinel.ErrConflict)

		found, err := s.store.FindByID(ctx, token.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusIssued, found.Status)
		s.Equal(int64(1), found.Version)
	})

	s.Run("illegal edge is rejected", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))

		_, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusIssued, models.StatusVerified, nil, s.now)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("consuming transition stores the result", func() {
		token := s.newToken(admin)
		s.Require().NoError(s.store.Create(ctx, token))
		at := s.now.Add(2 * time.Minute)
		result := models.NewDeclinedResult(token.ID.VerificationID(), at)

		updated, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusIssued, models.StatusDeclined, result, at)
		s.Require().NoError(err)
		s.Require().NotNil(updated.ConsumedAt)
		s.Equal(at, *updated.ConsumedAt)
		s.Require().NotNil(updated.Result)
		s.Equal(models.ResultDeclined, updated.Result.Status)
	})

	s.Run("unknown token is not found", func() {
		_, err := s.store.CompareAndSetStatus(ctx, id.TokenID("missing"), models.StatusIssued, models.StatusValidated, nil, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentConsume verifies that racing consumers of the same token
// produce exactly one winner.
func (s *InMemoryStoreSuite) TestConcurrentConsume() {
	ctx := context.Background()
	token := s.newToken(id.Principal{Kind: id.PrincipalAdmin, ID: "admin"})
	s.Require().NoError(s.store.Create(ctx, token))
	_, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusIssued, models.StatusValidated, nil, s.now)
	s.Require().NoError(err)
	_, err = s.store.CompareAndSetStatus(ctx, token.ID, models.StatusValidated, models.StatusProcessing, nil, s.now)
	s.Require().NoError(err)

	const goroutines = 50
	var wg sync.WaitGroup
	var winners, conflicts atomic.Int32
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			next := models.StatusVerified
			if i%2 == 0 {
				next = models.StatusNotVerified
			}
			_, err := s.store.CompareAndSetStatus(ctx, token.ID, models.StatusProcessing, next, nil, s.now)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), winners.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	found, err := s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(int64(4), found.Version)
}

func (s *InMemoryStoreSuite) TestListAndCount() {
	ctx := context.Background()
	alice := id.Principal{Kind: id.PrincipalAPIKey, ID: "key_alice"}
	bob := id.Principal{Kind: id.PrincipalAPIKey, ID: "key_bob"}

	var aliceTokens []*models.Token
	for i := 0; i < 3; i++ {
		token := s.newToken(alice)
		token.CreatedAt = s.now.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.store.Create(ctx, token))
		aliceTokens = append(aliceTokens, token)
	}
	s.Require().NoError(s.store.Create(ctx, s.newToken(bob)))
	_, err := s.store.CompareAndSetStatus(ctx, aliceTokens[0].ID, models.StatusIssued, models.StatusInvalid, nil, s.now)
	s.Require().NoError(err)

	s.Run("filters by issuer newest first", func() {
		list, err := s.store.List(ctx, models.TokenFilter{IssuedBy: &alice})
		s.Require().NoError(err)
		s.Require().Len(list, 3)
		s.Equal(aliceTokens[2].ID, list[0].ID)
		s.Equal(aliceTokens[0].ID, list[2].ID)
	})

	s.Run("applies status and limit", func() {
		list, err := s.store.List(ctx, models.TokenFilter{IssuedBy: &alice, Status: models.StatusIssued, Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(aliceTokens[2].ID, list[0].ID)
	})

	s.Run("counts by status per issuer", func() {
		counts, err := s.store.CountByStatus(ctx, models.TokenFilter{IssuedBy: &alice})
		s.Require().NoError(err)
		s.Equal(2, counts[models.StatusIssued])
		s.Equal(1, counts[models.StatusInvalid])

		all, err := s.store.CountByStatus(ctx, models.TokenFilter{})
		s.Require().NoError(err)
		s.Equal(3, all[models.StatusIssued])
	})
}

func (s *InMemoryStoreSuite) TestDeleteExpiredBefore() {
	ctx := context.Background()
	admin := id.Principal{Kind: id.PrincipalAdmin, ID: "admin"}
	old := s.newToken(admin)
	old.ExpiresAt = s.now.Add(-48 * time.Hour)
	fresh := s.newToken(admin)
	s.Require().NoError(s.store.Create(ctx, old))
	s.Require().NoError(s.store.Create(ctx, fresh))

	deleted, err := s.store.DeleteExpiredBefore(ctx, s.now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.FindByID(ctx, old.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByID(ctx, fresh.ID)
	s.NoError(err)
}
