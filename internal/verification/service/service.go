package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TokenStore,Geocoder,ResultPublisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"geoverify/internal/geo"
	"geoverify/internal/verification/metrics"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/sentinel"
	"geoverify/pkg/requestcontext"
)

// TokenStore persists tokens. CompareAndSetStatus is the only way a token's
// status changes and must be atomic per token.
type TokenStore interface {
	Create(ctx context.Context, token *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	CompareAndSetStatus(ctx context.Context, tokenID id.TokenID, expected, next models.Status, result *models.Result, now time.Time) (*models.Token, error)
	List(ctx context.Context, filter models.TokenFilter) ([]*models.Token, error)
	CountByStatus(ctx context.Context, filter models.TokenFilter) (map[models.Status]int, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Geocoder resolves a postal address. Failures are tolerated by issuance.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// ResultPublisher tells the issuing party about a finalized token.
type ResultPublisher interface {
	PublishResult(ctx context.Context, event models.ResultEvent) error
}

const (
	defaultTTL            = 24 * time.Hour
	defaultMaxTTL         = 30 * 24 * time.Hour
	defaultGeocodeTimeout = 3 * time.Second
	maxIssueAttempts      = 3
	maxTransitionAttempts = 4
	tracerName            = "geoverify/verification"
)

// Config holds issuance settings.
type Config struct {
	PublicBaseURL  string
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	GeocodeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = defaultMaxTTL
	}
	if c.DefaultTTL > c.MaxTTL {
		c.DefaultTTL = c.MaxTTL
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = defaultGeocodeTimeout
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
}

// Service drives the verification session state machine and token issuance.
type Service struct {
	tokens    TokenStore
	geocoder  Geocoder
	publisher ResultPublisher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func(ctx context.Context) time.Time
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

func WithGeocoder(g Geocoder) Option {
	return func(s *Service) {
		s.geocoder = g
	}
}

func WithPublisher(p ResultPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock fixes the time source for tests. By default the request time
// from the context is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = func(context.Context) time.Time { return now() }
		}
	}
}

func New(tokens TokenStore, cfg Config, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		tokens: tokens,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		clock:  requestcontext.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now(ctx context.Context) time.Time {
	return s.clock(ctx).UTC()
}

func (s *Service) startSpan(ctx context.Context, name string, tokenID id.TokenID) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "verification."+name)
	if tokenID != "" {
		span.SetAttributes(attribute.String("token.prefix", tokenID.Short()))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// step is what a state-machine operation wants done with the token it saw.
type step struct {
	next   models.Status
	result *models.Result
	// done means the token is already where the caller wants it.
	done bool
	// after is returned once the transition has been attempted. Used for
	// lazy expiry, where the write is best effort and the caller always
	// gets Expired.
	after error
}

// decideFunc inspects a freshly loaded token and returns the step to take.
type decideFunc func(token *models.Token, now time.Time) (step, error)

// advance loads the token, asks decide what to do and applies the step with
// compare-and-set. When another writer wins in between, the token is
// re-read and decide runs again against the new status, so a loser of a
// finalizing race sees the winner's terminal state.
func (s *Service) advance(ctx context.Context, op string, tokenID id.TokenID, decide decideFunc) (*models.Token, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		token, err := s.load(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		now := s.now(ctx)
		st, err := decide(token, now)
		if err != nil {
			return token, err
		}
		if st.done {
			return token, nil
		}

		updated, err := s.tokens.CompareAndSetStatus(ctx, tokenID, token.Status, st.next, st.result, now)
		switch {
		case err == nil:
			s.metrics.IncrementTransition(string(token.Status), string(st.next))
			s.logger.InfoContext(ctx, "token status changed",
				"token_id", tokenID.Short(),
				"operation", op,
				"from", token.Status,
				"to", st.next,
			)
			if st.after != nil {
				return updated, st.after
			}
			return updated, nil
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementConflict(op)
			continue
		case errors.Is(err, sentinel.ErrNotFound):
			// The token was readable a moment ago; losing it now means the
			// store is corrupt or was swept underneath us.
			s.logger.ErrorContext(ctx, "token vanished during compare-and-set",
				"token_id", tokenID.Short(), "operation", op)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token storage inconsistency")
		default:
			if st.after != nil {
				s.logger.WarnContext(ctx, "failed to mark token expired",
					"token_id", tokenID.Short(), "error", err)
				return nil, st.after
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to %s token", op))
		}
	}
	return nil, dErrors.New(dErrors.CodeConflict, "token is being modified concurrently, retry")
}

// load maps store errors to the public taxonomy: an unknown token is
// InvalidToken, never NotFound, so probing reveals nothing.
func (s *Service) load(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "verification link is invalid")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}
	return token, nil
}

func (s *Service) publish(ctx context.Context, token *models.Token, now time.Time) {
	if token.Result != nil {
		s.metrics.IncrementOutcome(string(token.Result.Status))
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishResult(ctx, models.NewResultEvent(token, now)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish verification result",
			"token_id", token.ID.Short(), "error", err)
	}
}
