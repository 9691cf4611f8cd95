package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification lifecycle.
type Metrics struct {
	TokensIssued prometheus.Counter

	// Status changes by source and target status
	Transitions *prometheus.CounterVec

	// Final results by result status
	Outcomes *prometheus.CounterVec

	// Compare-and-set losers by operation
	Conflicts *prometheus.CounterVec

	RiskScore      prometheus.Histogram
	DistanceMeters prometheus.Histogram

	GeocodeLatency   *prometheus.HistogramVec
	OperationLatency *prometheus.HistogramVec

	SweptTokens prometheus.Counter
}

// New creates a Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geoverify_tokens_issued_total",
			Help: "Total verification tokens issued",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geoverify_token_transitions_total",
			Help: "Token status transitions by source and target status",
		}, []string{"from", "to"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geoverify_verification_outcomes_total",
			Help: "Final verification results by status",
		}, []string{"status"}),
		Conflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geoverify_token_cas_conflicts_total",
			Help: "Compare-and-set attempts that lost a race, by operation",
		}, []string{"operation"}),
		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoverify_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DistanceMeters: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoverify_distance_meters",
			Help:    "Distance between claimed and observed coordinates",
			Buckets: []float64{10, 50, 150, 500, 1000, 5000, 25000, 100000},
		}),
		GeocodeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoverify_geocode_duration_seconds",
			Help:    "Duration of address geocoding by outcome",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}), // outcome: "hit", "miss", "error"
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoverify_operation_duration_seconds",
			Help:    "Duration of verification operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		SweptTokens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "geoverify_tokens_swept_total",
			Help: "Expired tokens removed by the storage sweeper",
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.TokensIssued.Inc()
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncrementOutcome(status string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncrementConflict(operation string) {
	if m != nil {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

// ObserveScore records the risk score and, when known, the distance.
func (m *Metrics) ObserveScore(score float64, distance *float64) {
	if m == nil {
		return
	}
	m.RiskScore.Observe(score)
	if distance != nil {
		m.DistanceMeters.Observe(*distance)
	}
}

func (m *Metrics) ObserveGeocode(outcome string, start time.Time) {
	if m != nil {
		m.GeocodeLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// ObserveOperation records how long a service operation took.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddSwept(n int) {
	if m != nil && n > 0 {
		m.SweptTokens.Add(float64(n))
	}
}
