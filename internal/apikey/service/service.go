package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks KeyStore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"geoverify/internal/apikey/metrics"
	"geoverify/internal/apikey/models"
	"geoverify/internal/apikey/secrets"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/sentinel"
	"geoverify/pkg/requestcontext"
)

// KeyStore persists API keys. RecordUsage must only increment when the
// stored counter equals expected.
type KeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByID(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error)
	FindByPrefix(ctx context.Context, prefix string) (*models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Update(ctx context.Context, keyID id.APIKeyID, mutate func(*models.APIKey) error) (*models.APIKey, error)
	RecordUsage(ctx context.Context, keyID id.APIKeyID, expected int64, now time.Time) (*models.APIKey, error)
}

const (
	maxCreateAttempts = 3
	maxUsageAttempts  = 8
)

// Service manages API keys and authenticates callers presenting them.
type Service struct {
	keys    KeyStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func(ctx context.Context) time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = func(context.Context) time.Time { return clock() }
	}
}

func New(keys KeyStore, opts ...Option) *Service {
	s := &Service{keys: keys, logger: slog.Default(), clock: requestcontext.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new key. The raw key is returned once and never stored.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (*models.APIKey, string, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	now := s.clock(ctx)

	for range maxCreateAttempts {
		raw, prefix, err := secrets.Generate(string(req.Environment))
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
		}
		hash, err := secrets.Hash(raw)
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash api key")
		}
		keyID, err := id.NewAPIKeyID()
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key id")
		}
		key, err := models.NewAPIKey(keyID, prefix, hash, req, now)
		if err != nil {
			return nil, "", err
		}
		err = s.keys.Create(ctx, key)
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.WarnContext(ctx, "api key prefix collision, regenerating")
			continue
		}
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store api key")
		}
		s.metrics.IncrementCreated()
		s.logger.InfoContext(ctx, "api key created",
			"api_key_id", key.ID,
			"company", key.Company,
			"environment", key.Environment,
		)
		return key, raw, nil
	}
	return nil, "", dErrors.New(dErrors.CodeInternal, "could not allocate a unique api key")
}

// Authenticate resolves a raw key to its record and counts the use.
// Every rejection is reported as unauthorized without saying why.
func (s *Service) Authenticate(ctx context.Context, raw string) (*models.APIKey, error) {
	start := time.Now()
	key, err := s.authenticate(ctx, raw)
	switch {
	case err == nil:
		s.metrics.ObserveAuthentication("ok", start)
		return key, nil
	case dErrors.HasCode(err, dErrors.CodeUnauthorized):
		s.metrics.ObserveAuthentication("rejected", start)
		s.logger.DebugContext(ctx, "api key rejected", "reason", dErrors.MessageOf(err))
	default:
		s.metrics.ObserveAuthentication("error", start)
		s.logger.ErrorContext(ctx, "api key authentication failed", "error", err)
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
}

func (s *Service) authenticate(ctx context.Context, raw string) (*models.APIKey, error) {
	prefix, err := secrets.Prefix(raw)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.FindByPrefix(ctx, prefix)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown api key")
	}
	if err != nil {
		return nil, err
	}
	if err := secrets.Verify(raw, key.SecretHash); err != nil {
		return nil, err
	}

	for range maxUsageAttempts {
		now := s.clock(ctx)
		if err := key.CheckUsable(now); err != nil {
			return nil, err
		}
		updated, err := s.keys.RecordUsage(ctx, key.ID, key.UsageCount, now)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) || updated == nil {
			return nil, err
		}
		s.metrics.IncrementUsageConflict()
		key = updated
	}
	return nil, dErrors.New(dErrors.CodeConflict, "api key usage is contended")
}

func (s *Service) Get(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	key, err := s.keys.FindByID(ctx, keyID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "api key not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load api key")
	}
	return key, nil
}

func (s *Service) List(ctx context.Context) ([]*models.APIKey, error) {
	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list api keys")
	}
	return keys, nil
}

// Update applies req to the key. Prefix, hash and usage are never changed.
func (s *Service) Update(ctx context.Context, keyID id.APIKeyID, req models.UpdateRequest) (*models.APIKey, error) {
	now := s.clock(ctx)
	key, err := s.keys.Update(ctx, keyID, func(k *models.APIKey) error {
		return req.Apply(k, now)
	})
	if err != nil {
		return nil, s.translateUpdateError(err)
	}
	s.logger.InfoContext(ctx, "api key updated", "api_key_id", keyID)
	return key, nil
}

// Deactivate turns a key off. Already inactive keys are returned unchanged.
func (s *Service) Deactivate(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	now := s.clock(ctx)
	key, err := s.keys.Update(ctx, keyID, func(k *models.APIKey) error {
		k.Deactivate(now)
		return nil
	})
	if err != nil {
		return nil, s.translateUpdateError(err)
	}
	s.logger.InfoContext(ctx, "api key deactivated", "api_key_id", keyID)
	return key, nil
}

func (s *Service) translateUpdateError(err error) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "api key not found")
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update api key")
	}
}
