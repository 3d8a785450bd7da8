package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EntriesTotal         prometheus.Counter
	EntriesDroppedTotal  prometheus.Counter
	FlushesTotal         *prometheus.CounterVec
	BucketsFlushedTotal  prometheus.Counter
	FlushDurationSeconds prometheus.Histogram
	PublishErrorsTotal   prometheus.Counter
	MirrorOpen           prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		EntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_usage_entries_total",
			Help: "Total number of usage entries accepted by the pipeline",
		}),
		EntriesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_usage_entries_dropped_total",
			Help: "Total number of usage entries dropped because the intake buffer was full",
		}),
		FlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_usage_flushes_total",
			Help: "Total number of aggregate flushes to the usage sink",
		}, []string{"status"}),
		BucketsFlushedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_usage_buckets_flushed_total",
			Help: "Total number of hourly buckets written to the usage sink",
		}),
		FlushDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "relaypool_usage_flush_duration_seconds",
			Help: "Duration of aggregate flushes to the usage sink in seconds",
		}),
		PublishErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_usage_publish_errors_total",
			Help: "Total number of failed publishes to the usage mirror",
		}),
		MirrorOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaypool_usage_mirror_open",
			Help: "1 while the usage mirror circuit is open, 0 otherwise",
		}),
	}
}

func (m *Metrics) IncrementEntries() {
	m.EntriesTotal.Inc()
}

func (m *Metrics) IncrementDropped() {
	m.EntriesDroppedTotal.Inc()
}

func (m *Metrics) IncrementFlushes(status string) {
	m.FlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddBucketsFlushed(count int) {
	m.BucketsFlushedTotal.Add(float64(count))
}

func (m *Metrics) ObserveFlushDuration(durationSeconds float64) {
	m.FlushDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) IncrementPublishErrors() {
	m.PublishErrorsTotal.Inc()
}

func (m *Metrics) SetMirrorOpen(open bool) {
	if open {
		m.MirrorOpen.Set(1)
	} else {
		m.MirrorOpen.Set(0)
	}
}
