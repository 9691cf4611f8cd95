package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"geoverify/internal/ratelimit/models"
	"geoverify/pkg/platform/httputil"
	auth "geoverify/pkg/platform/middleware/auth"
	"geoverify/pkg/requestcontext"
)

// Limiter is a sliding window counter keyed by bucket.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// RejectionRecorder counts rejected requests by scope.
type RejectionRecorder interface {
	IncrementRejected(scope models.Scope)
}

type degradable interface {
	Degraded() bool
}

type Middleware struct {
	limiter           Limiter
	logger            *slog.Logger
	recorder          RejectionRecorder
	publicLimit       int
	publicWindow      time.Duration
	defaultKeyPerHour int
	disabled          bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithPublicLimit sets the per-IP budget for unauthenticated endpoints.
func WithPublicLimit(limit int, window time.Duration) Option {
	return func(m *Middleware) {
		m.publicLimit = limit
		m.publicWindow = window
	}
}

func WithRecorder(r RejectionRecorder) Option {
	return func(m *Middleware) {
		m.recorder = r
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:           limiter,
		logger:            logger,
		publicLimit:       60,
		publicWindow:      time.Minute,
		defaultKeyPerHour: 1000,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerAPIKey enforces each API key's hourly budget. Admin callers are not
// limited. Store failures fail open.
func (m *Middleware) PerAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, ok := auth.Identity(ctx)
		if m.disabled || !ok {
			next.ServeHTTP(w, r)
			return
		}
		limit := identity.RateLimitPerHour
		if limit <= 0 {
			limit = m.defaultKeyPerHour
		}
		m.enforce(w, r, next, models.ScopeAPIKey, identity.KeyID, limit, time.Hour,
			"API key request quota exceeded. Please try again later.")
	})
}

// PerIP limits unauthenticated endpoints by client IP.
func (m *Middleware) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled || m.publicLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := requestcontext.ClientIP(r.Context())
		m.enforce(w, r, next, models.ScopePublicIP, ip, m.publicLimit, m.publicWindow,
			"Too many requests from this IP address. Please try again later.")
	})
}

func (m *Middleware) enforce(w http.ResponseWriter, r *http.Request, next http.Handler, scope models.Scope, identifier string, limit int, window time.Duration, message string) {
	ctx := r.Context()
	result, err := m.limiter.Allow(ctx, models.NewKey(scope, identifier), limit, window)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to check rate limit",
			"scope", scope,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		next.ServeHTTP(w, r)
		return
	}

	addRateLimitHeaders(w, result)
	if d, ok := m.limiter.(degradable); ok && d.Degraded() {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
	if !result.Allowed {
		if m.recorder != nil {
			m.recorder.IncrementRejected(scope)
		}
		m.logger.WarnContext(ctx, "rate limit exceeded",
			"scope", scope,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeRateLimitExceeded(w, result, message)
		return
	}
	next.ServeHTTP(w, r)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limited",
		Message:    message,
		RetryAfter: result.RetryAfter,
	})
}
