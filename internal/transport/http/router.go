package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apikeyhandler "geoverify/internal/apikey/handler"
	ratelimit "geoverify/internal/ratelimit/middleware"
	verifyhandler "geoverify/internal/verification/handler"
	"geoverify/pkg/platform/httputil"
	auth "geoverify/pkg/platform/middleware/auth"
	"geoverify/pkg/platform/middleware/metadata"
	"geoverify/pkg/platform/middleware/request"
	"geoverify/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router mounts. Metrics and Health are optional.
type Deps struct {
	Logger       *slog.Logger
	Verification *verifyhandler.Handler
	APIKeys      *apikeyhandler.Handler
	JWT          auth.JWTValidator
	Keys         auth.APIKeyAuthenticator
	RateLimit    *ratelimit.Middleware
	Metrics      request.RequestObserver
	Health       map[string]HealthCheck
}

// NewRouter wires the public recipient routes, the issuer routes and the
// admin API key routes behind their middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.AccessLog(d.Logger, d.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(d.RateLimit.PerIP)
		d.Verification.RegisterPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT, d.Keys, d.Logger))
		r.Use(d.RateLimit.PerAPIKey)
		d.Verification.RegisterIssuer(r, func(perm string) func(http.Handler) http.Handler {
			return auth.RequirePermission(perm, d.Logger)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(d.Logger))
			d.APIKeys.Register(r)
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
