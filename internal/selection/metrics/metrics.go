package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Selections        *prometheus.CounterVec
	SelectionDuration *prometheus.HistogramVec
	Extractions       *prometheus.CounterVec
	SnapshotStoreSize prometheus.Gauge
	CacheReloads      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Selections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_selections_total",
			Help: "Account selection attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		SelectionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaypool_selection_duration_seconds",
			Help:    "Duration of account selection (relay critical path)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"provider"}),
		Extractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_quota_extractions_total",
			Help: "Quota extraction attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		SnapshotStoreSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaypool_quota_snapshots",
			Help: "Number of accounts with a stored quota snapshot",
		}),
		CacheReloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_account_cache_reloads_total",
			Help: "Full account list reloads triggered by cache misses",
		}),
	}
}

const (
	OutcomeSelected   = "selected"
	OutcomeNone       = "none"
	OutcomeError      = "error"
	OutcomeStickyHit  = "sticky_hit"
	OutcomeStickyMiss = "sticky_miss"
	OutcomeExtracted  = "ok"
	OutcomeNoData     = "no_data"
)

func (m *Metrics) ObserveSelection(provider string, start time.Time) {
	m.SelectionDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSelection(provider, outcome string) {
	m.Selections.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncrementExtraction(provider, outcome string) {
	m.Extractions.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SetSnapshotCount(n int) {
	m.SnapshotStoreSize.Set(float64(n))
}

func (m *Metrics) IncrementCacheReload() {
	m.CacheReloads.Inc()
}
