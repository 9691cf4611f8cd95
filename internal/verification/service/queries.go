package service

import (
	"context"
	"time"

	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	recentStatsLimit = 5
)

// GetResult returns a token and its result to the party that issued it.
// Other callers get NotFound. An open token found past its expiry is
// marked expired on the way.
func (s *Service) GetResult(ctx context.Context, tokenID id.TokenID, caller id.Principal) (_ *models.Token, err error) {
	ctx, span := s.startSpan(ctx, "GetResult", tokenID)
	defer func() { endSpan(span, err) }()

	token, err := s.advance(ctx, "lookup", tokenID, func(t *models.Token, now time.Time) (step, error) {
		if !caller.CanSee(t.IssuedBy) {
			return step{}, errNotVisible()
		}
		if !t.Status.IsTerminal() && t.IsExpired(now) {
			return step{next: models.StatusExpired}, nil
		}
		return step{done: true}, nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidToken) {
			return nil, errNotVisible()
		}
		return nil, err
	}
	return token, nil
}

// ListTokens returns the caller's tokens, newest first. Admins see every
// issuer's tokens.
func (s *Service) ListTokens(ctx context.Context, caller id.Principal, status models.Status, limit int) ([]*models.Token, error) {
	if status != "" && !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	tokens, err := s.tokens.List(ctx, models.TokenFilter{IssuedBy: scopeFor(caller), Status: status, Limit: limit})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tokens")
	}
	return tokens, nil
}

// Stats returns dashboard counts and the newest tokens, scoped like
// ListTokens.
func (s *Service) Stats(ctx context.Context, caller id.Principal) (*models.Stats, error) {
	scope := scopeFor(caller)
	counts, err := s.tokens.CountByStatus(ctx, models.TokenFilter{IssuedBy: scope})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count tokens")
	}
	recent, err := s.tokens.List(ctx, models.TokenFilter{IssuedBy: scope, Limit: recentStatsLimit})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list recent tokens")
	}
	stats := models.NewStats(counts)
	stats.Recent = recent
	return &stats, nil
}

func scopeFor(caller id.Principal) *id.Principal {
	if caller.IsAdmin() {
		return nil
	}
	return &caller
}
