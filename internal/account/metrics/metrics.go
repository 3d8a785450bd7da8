package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AccountsCreated *prometheus.CounterVec
	AccountsDeleted prometheus.Counter
	AccountsToggled *prometheus.CounterVec
	CatalogSize     prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		AccountsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_accounts_created_total",
			Help: "Total number of accounts registered, by provider",
		}, []string{"provider"}),
		AccountsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaypool_accounts_deleted_total",
			Help: "Total number of accounts removed from the pool",
		}),
		AccountsToggled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_accounts_toggled_total",
			Help: "Total number of enable/disable transitions, by direction",
		}, []string{"direction"}),
		CatalogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaypool_catalog_accounts",
			Help: "Current number of accounts in the catalog",
		}),
	}
}

func (m *Metrics) IncrementAccountCreated(provider string) {
	m.AccountsCreated.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncrementAccountDeleted() {
	m.AccountsDeleted.Inc()
}

func (m *Metrics) IncrementAccountToggled(enabled bool) {
	direction := "disabled"
	if enabled {
		direction = "enabled"
	}
	m.AccountsToggled.WithLabelValues(direction).Inc()
}

func (m *Metrics) SetCatalogSize(n int) {
	m.CatalogSize.Set(float64(n))
}
