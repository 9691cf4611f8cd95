package service

import (
	"context"
	"math"
	"time"

	"geoverify/internal/geo"
	"geoverify/internal/risk"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
)

func errExpired() error {
	return dErrors.New(dErrors.CodeExpired, "verification link has expired")
}

// finalizedError explains why a terminal token cannot be used again.
func finalizedError(token *models.Token) error {
	switch token.Status {
	case models.StatusExpired:
		return errExpired()
	case models.StatusInvalid:
		return dErrors.New(dErrors.CodeInvalidToken, "verification link has been revoked")
	default:
		return dErrors.New(dErrors.CodeAlreadyFinalized, "verification has already been completed")
	}
}

// expireStep marks an open token past its expiry as expired and reports
// Expired to the caller whether or not the write lands.
func expireStep() step {
	return step{next: models.StatusExpired, after: errExpired()}
}

// Validate is called when the recipient opens the link. It is idempotent
// while the token is open: issued moves to validated, later in-flight
// states are left alone.
func (s *Service) Validate(ctx context.Context, tokenID id.TokenID) (_ *models.ValidateResult, err error) {
	ctx, span := s.startSpan(ctx, "Validate", tokenID)
	defer func() { endSpan(span, err) }()
	defer s.metrics.ObserveOperation("validate", time.Now())

	token, err := s.advance(ctx, "validate", tokenID, func(t *models.Token, now time.Time) (step, error) {
		if t.IsExpired(now) {
			if t.Status.IsTerminal() {
				return step{}, errExpired()
			}
			return expireStep(), nil
		}
		if t.Status.IsTerminal() {
			if t.Status == models.StatusExpired {
				return step{}, errExpired()
			}
			return step{}, dErrors.New(dErrors.CodeInvalidToken, "verification link has already been used")
		}
		if t.Status == models.StatusIssued {
			return step{next: models.StatusValidated}, nil
		}
		return step{done: true}, nil
	})
	if err != nil {
		return nil, err
	}
	return &models.ValidateResult{
		Recipient: models.NewRecipientSummary(token.Recipient),
		Status:    token.Status,
		ExpiresIn: token.ExpiresIn(s.now(ctx)),
	}, nil
}

// RecordConsent applies the recipient's answer to the location prompt.
// Refusal finalizes the token as declined and returns that result; consent
// moves it to processing and returns nil.
func (s *Service) RecordConsent(ctx context.Context, tokenID id.TokenID, consented bool) (_ *models.Result, err error) {
	ctx, span := s.startSpan(ctx, "RecordConsent", tokenID)
	defer func() { endSpan(span, err) }()
	defer s.metrics.ObserveOperation("consent", time.Now())

	token, err := s.advance(ctx, "consent", tokenID, func(t *models.Token, now time.Time) (step, error) {
		if t.Status.IsTerminal() {
			return step{}, finalizedError(t)
		}
		if t.IsExpired(now) {
			return expireStep(), nil
		}
		if t.Status != models.StatusValidated {
			return step{}, dErrors.New(dErrors.CodeInvalidState, "consent requires an opened verification link")
		}
		if !consented {
			return step{next: models.StatusDeclined, result: models.NewDeclinedResult(t.ID.VerificationID(), now)}, nil
		}
		return step{next: models.StatusProcessing}, nil
	})
	if err != nil {
		return nil, err
	}
	if token.Status == models.StatusDeclined {
		s.publish(ctx, token, token.UpdatedAt)
		return token.Result.Clone(), nil
	}
	return nil, nil
}

// Decline finalizes an open token as declined from any in-flight state.
func (s *Service) Decline(ctx context.Context, tokenID id.TokenID) (_ *models.Result, err error) {
	ctx, span := s.startSpan(ctx, "Decline", tokenID)
	defer func() { endSpan(span, err) }()
	defer s.metrics.ObserveOperation("decline", time.Now())

	token, err := s.advance(ctx, "decline", tokenID, func(t *models.Token, now time.Time) (step, error) {
		if t.Status.IsTerminal() {
			return step{}, finalizedError(t)
		}
		if t.IsExpired(now) {
			return expireStep(), nil
		}
		return step{next: models.StatusDeclined, result: models.NewDeclinedResult(t.ID.VerificationID(), now)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, token, token.UpdatedAt)
	return token.Result.Clone(), nil
}

// Submit scores the recipient's location and finalizes the token. Only one
// submission per token ever commits; the rest get AlreadyFinalized and have
// no effect.
func (s *Service) Submit(ctx context.Context, tokenID id.TokenID, sub models.Submission) (_ *models.Result, err error) {
	ctx, span := s.startSpan(ctx, "Submit", tokenID)
	defer func() { endSpan(span, err) }()
	defer s.metrics.ObserveOperation("submit", time.Now())

	if sub.Consent {
		if err := validateLocation(sub.Location); err != nil {
			return nil, err
		}
	}

	token, err := s.advance(ctx, "submit", tokenID, func(t *models.Token, now time.Time) (step, error) {
		if t.Status.IsTerminal() {
			return step{}, finalizedError(t)
		}
		if t.IsExpired(now) {
			return expireStep(), nil
		}
		if t.Status != models.StatusProcessing {
			return step{}, dErrors.New(dErrors.CodeInvalidState, "location consent must be given before submitting")
		}
		if !sub.Consent {
			return step{next: models.StatusDeclined, result: models.NewDeclinedResult(t.ID.VerificationID(), now)}, nil
		}
		result, err := score(t, sub, now)
		if err != nil {
			return step{}, err
		}
		next := models.StatusNotVerified
		if result.Status == models.ResultLocationVerified {
			next = models.StatusVerified
		}
		return step{next: next, result: result}, nil
	})
	if err != nil {
		return nil, err
	}

	if token.Result != nil {
		s.metrics.ObserveScore(token.Result.RiskScore, token.Result.DistanceMeters)
		s.logger.InfoContext(ctx, "verification completed",
			"token_id", tokenID.Short(),
			"status", token.Result.Status,
			"risk_score", token.Result.RiskScore,
		)
	}
	s.publish(ctx, token, token.UpdatedAt)
	return token.Result.Clone(), nil
}

func validateLocation(loc models.Location) error {
	if err := loc.Coordinate().Validate(); err != nil {
		return err
	}
	if math.IsNaN(loc.AccuracyMeters) || math.IsInf(loc.AccuracyMeters, 0) || loc.AccuracyMeters < 0 {
		return dErrors.New(dErrors.CodeInvalidCoordinate, "accuracy must be a non-negative number of meters")
	}
	return nil
}

// score is pure: it only reads the token and the submission.
func score(t *models.Token, sub models.Submission, now time.Time) (*models.Result, error) {
	var distance *float64
	if t.ClaimedCoordinate != nil {
		d, err := geo.Distance(*t.ClaimedCoordinate, sub.Location.Coordinate())
		if err != nil {
			return nil, err
		}
		distance = &d
	}
	assessment := risk.Score(distance, sub.Location.AccuracyMeters, sub.Device)
	return models.NewScoredResult(t.ID.VerificationID(), distance, sub.Location.AccuracyMeters, assessment, now), nil
}

// Revoke invalidates an open token. Callers only see tokens they issued,
// admins see all.
func (s *Service) Revoke(ctx context.Context, tokenID id.TokenID, caller id.Principal) (_ *models.Token, err error) {
	ctx, span := s.startSpan(ctx, "Revoke", tokenID)
	defer func() { endSpan(span, err) }()

	token, err := s.advance(ctx, "revoke", tokenID, func(t *models.Token, _ time.Time) (step, error) {
		if !caller.CanSee(t.IssuedBy) {
			return step{}, errNotVisible()
		}
		if t.Status.IsTerminal() {
			return step{}, dErrors.New(dErrors.CodeAlreadyFinalized, "verification is already final")
		}
		return step{next: models.StatusInvalid}, nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidToken) {
			return nil, errNotVisible()
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "token revoked",
		"token_id", tokenID.Short(),
		"revoked_by", caller.ID,
	)
	s.publish(ctx, token, token.UpdatedAt)
	return token, nil
}

func errNotVisible() error {
	return dErrors.New(dErrors.CodeNotFound, "verification not found")
}
