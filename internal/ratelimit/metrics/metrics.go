package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitsMarkedTotal   prometheus.Counter
	RateLimitsClearedTotal  prometheus.Counter
	AccountsAutoDisabled    prometheus.Counter
	SweepRunsTotal          *prometheus.CounterVec
	SweepDurationSeconds    prometheus.Histogram
	SweepClearFailuresTotal prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RateLimitsMarkedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_rate_limits_marked_total",
			Help: "Total number of accounts flagged rate limited",
		}),
		RateLimitsClearedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_rate_limits_cleared_total",
			Help: "Total number of expired rate limit flags cleared",
		}),
		AccountsAutoDisabled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_accounts_auto_disabled_total",
			Help: "Total number of accounts disabled after hard upstream auth failures",
		}),
		SweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_rate_limit_sweep_runs_total",
			Help: "Total number of expired rate limit sweep runs",
		}, []string{"status"}),
		SweepDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "relaypool_rate_limit_sweep_duration_seconds",
			Help: "Duration of expired rate limit sweep runs in seconds",
		}),
		SweepClearFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_rate_limit_sweep_clear_failures_total",
			Help: "Total number of per-account clear attempts that failed during sweeps",
		}),
	}
}

func (m *Metrics) IncrementMarked() {
	m.RateLimitsMarkedTotal.Inc()
}

func (m *Metrics) IncrementCleared() {
	m.RateLimitsClearedTotal.Inc()
}

func (m *Metrics) IncrementAutoDisabled() {
	m.AccountsAutoDisabled.Inc()
}

func (m *Metrics) IncrementSweepRuns(status string) {
	m.SweepRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweepDuration(durationSeconds float64) {
	m.SweepDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) AddSweepClearFailures(count int) {
	m.SweepClearFailuresTotal.Add(float64(count))
}
