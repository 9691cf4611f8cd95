package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"geoverify/internal/geo"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/sentinel"
)

// Issue creates a verification token for a recipient on behalf of issuer.
// Geocoding is best effort: on failure the token is issued without a
// claimed coordinate and later scored as indeterminate.
func (s *Service) Issue(ctx context.Context, req models.IssueRequest, issuer id.Principal) (_ *models.IssueResult, err error) {
	ctx, span := s.startSpan(ctx, "Issue", "")
	defer func() { endSpan(span, err) }()
	defer s.metrics.ObserveOperation("issue", time.Now())

	if issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "issuer is required")
	}
	req.Recipient.Normalize()
	if err := req.Recipient.Validate(); err != nil {
		return nil, err
	}
	ttl, err := s.resolveTTL(req.TTL)
	if err != nil {
		return nil, err
	}

	claimed := s.geocode(ctx, req.Recipient.FullAddress())

	now := s.now(ctx)
	var token *models.Token
	for attempt := 1; ; attempt++ {
		tokenID, err := id.NewTokenID()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
		}
		token = models.NewToken(tokenID, req.Recipient, claimed, issuer, now, ttl)
		err = s.tokens.Create(ctx, token)
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
		}
		s.logger.WarnContext(ctx, "token id collision, regenerating", "attempt", attempt)
		if attempt >= maxIssueAttempts {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate a unique token")
		}
	}

	s.metrics.IncrementIssued()
	s.logger.InfoContext(ctx, "verification token issued",
		"token_id", token.ID.Short(),
		"issuer_kind", issuer.Kind,
		"issuer_id", issuer.ID,
		"geocoded", claimed != nil,
		"expires_at", token.ExpiresAt,
	)

	return &models.IssueResult{
		TokenID:         token.ID,
		VerificationURL: s.verificationURL(token.ID),
		Recipient:       token.Recipient,
		ExpiresAt:       token.ExpiresAt,
		ExpiresIn:       ttl,
		Geocoded:        claimed != nil,
	}, nil
}

// resolveTTL applies the default and clamps to the configured maximum.
func (s *Service) resolveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, dErrors.New(dErrors.CodeValidation, "expiry must be positive")
	case ttl == 0:
		return s.cfg.DefaultTTL, nil
	case ttl > s.cfg.MaxTTL:
		return s.cfg.MaxTTL, nil
	default:
		return ttl, nil
	}
}

func (s *Service) geocode(ctx context.Context, address string) *geo.Coordinate {
	if s.geocoder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GeocodeTimeout)
	defer cancel()

	start := time.Now()
	coord, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		s.metrics.ObserveGeocode("error", start)
		s.logger.WarnContext(ctx, "geocoding failed, issuing without claimed coordinate", "error", err)
		return nil
	}
	if err := coord.Validate(); err != nil {
		s.metrics.ObserveGeocode("error", start)
		s.logger.WarnContext(ctx, "geocoder returned an invalid coordinate", "error", err)
		return nil
	}
	s.metrics.ObserveGeocode("hit", start)
	return &coord
}

func (s *Service) verificationURL(tokenID id.TokenID) string {
	q := url.Values{"token": []string{tokenID.String()}}
	return s.cfg.PublicBaseURL + "/verify?" + q.Encode()
}
