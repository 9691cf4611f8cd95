// Package auth authenticates API callers. Every request carries its own
// credential: an admin JWT or a raw API key. There are no sessions.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/httputil"
	"geoverify/pkg/requestcontext"
)

const (
	HeaderAPIKey = "X-API-Key"
	bearerPrefix = "Bearer "
)

// JWTValidator defines the interface for validating admin JWTs.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we need from the JWT validator.
type JWTClaims struct {
	Subject string
	JTI     string
}

// APIKeyAuthenticator resolves raw API keys.
type APIKeyAuthenticator interface {
	// IsAPIKey reports whether a bearer credential has API key shape.
	IsAPIKey(credential string) bool
	AuthenticateAPIKey(ctx context.Context, raw string) (*KeyIdentity, error)
}

// KeyIdentity is what handlers and limiters need to know about an
// authenticated API key.
type KeyIdentity struct {
	KeyID            string
	Permissions      []string
	RateLimitPerHour int
}

func (k *KeyIdentity) HasPermission(perm string) bool {
	return k != nil && slices.Contains(k.Permissions, perm)
}

type identityKey struct{}

// Identity returns the API key identity for the request, if any.
func Identity(ctx context.Context) (*KeyIdentity, bool) {
	k, ok := ctx.Value(identityKey{}).(*KeyIdentity)
	return k, ok
}

// WithIdentity injects an API key identity and its principal.
func WithIdentity(ctx context.Context, k *KeyIdentity) context.Context {
	ctx = requestcontext.WithPrincipal(ctx, id.Principal{Kind: id.PrincipalAPIKey, ID: k.KeyID})
	return context.WithValue(ctx, identityKey{}, k)
}

// RequireAuth accepts either credential and stores the caller's principal in
// the context. X-API-Key wins when both headers are present.
func RequireAuth(validator JWTValidator, keys APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			rawKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			bearer, hasBearer := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			bearer = strings.TrimSpace(bearer)
			if rawKey == "" && hasBearer && keys != nil && keys.IsAPIKey(bearer) {
				rawKey = bearer
			}

			switch {
			case rawKey != "" && keys != nil:
				identity, err := keys.AuthenticateAPIKey(ctx, rawKey)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid api key",
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid api key"))
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
			case hasBearer && bearer != "" && validator != nil:
				claims, err := validator.ValidateToken(bearer)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
					return
				}
				ctx = requestcontext.WithPrincipal(ctx, id.Principal{Kind: id.PrincipalAdmin, ID: claims.Subject})
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				logger.WarnContext(ctx, "unauthorized access - missing credentials",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing API key or bearer token"))
			}
		})
	}
}

// RequireAdmin rejects callers that did not authenticate with an admin JWT.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !requestcontext.Principal(ctx).IsAdmin() {
				logger.WarnContext(ctx, "forbidden - admin required",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission lets admins through and requires API keys to hold perm.
func RequirePermission(perm string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.Principal(ctx).IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := Identity(ctx)
			if !ok || !identity.HasPermission(perm) {
				logger.WarnContext(ctx, "forbidden - missing permission",
					"permission", perm,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "api key lacks permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
