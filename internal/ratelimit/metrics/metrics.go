package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"geoverify/internal/ratelimit/models"
)

type Metrics struct {
	Rejected *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geoverify_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by scope",
		}, []string{"scope"}),
	}
}

func (m *Metrics) IncrementRejected(scope models.Scope) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(string(scope)).Inc()
}
