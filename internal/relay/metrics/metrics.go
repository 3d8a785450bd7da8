package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for relayed requests.
const (
	OutcomeRelayed        = "relayed"
	OutcomeTransportError = "transport_error"
	OutcomeRateLimited    = "rate_limited"
	OutcomeAuthFailed     = "auth_failed"
	OutcomeNoAccount      = "no_account"
)

type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	UpstreamLatencySeconds *prometheus.HistogramVec
	RetriesTotal           prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_relay_requests_total",
			Help: "Total relay attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		UpstreamLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaypool_relay_upstream_latency_seconds",
			Help:    "Upstream round trip latency by provider",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_relay_retries_total",
			Help: "Total relay attempts beyond the first for one request",
		}),
	}
}

func (m *Metrics) IncrementRequest(provider, outcome string) {
	m.RequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(provider string, start time.Time) {
	m.UpstreamLatencySeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRetries() {
	m.RetriesTotal.Inc()
}
