package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for API key management and authentication.
type Metrics struct {
	KeysCreated prometheus.Counter

	// Authentication attempts by outcome (ok, rejected, error)
	Authentications *prometheus.CounterVec

	AuthenticateDuration prometheus.Histogram
	UsageConflicts       prometheus.Counter
}

// New creates a Metrics instance with all API key metrics registered.
func New() *Metrics {
	return &Metrics{
		KeysCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geoverify_api_keys_created_total",
			Help: "Total number of API keys created",
		}),
		Authentications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geoverify_api_key_authentications_total",
			Help: "API key authentication attempts by outcome",
		}, []string{"outcome"}),
		AuthenticateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoverify_api_key_authenticate_duration_seconds",
			Help:    "Duration of API key authentication including the bcrypt check",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		UsageConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geoverify_api_key_usage_conflicts_total",
			Help: "Usage counter compare-and-set attempts that lost a race",
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.KeysCreated.Inc()
}

// ObserveAuthentication records an attempt's outcome and duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAuthentication(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(outcome).Inc()
	m.AuthenticateDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementUsageConflict() {
	if m == nil {
		return
	}
	m.UsageConflicts.Inc()
}
