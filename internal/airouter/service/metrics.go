package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
)

type Metrics struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airouter_requests_total",
			Help: "Routed chat requests by the route that answered.",
		}, []string{"route"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airouter_provider_failures_total",
			Help: "Failed upstream provider calls.",
		}, []string{"provider"}),
	}
}

func (m *Metrics) request(r Route) {
	if m != nil {
		m.requests.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) failure(k provider.Kind) {
	if m != nil {
		m.failures.WithLabelValues(k.String()).Inc()
	}
}
