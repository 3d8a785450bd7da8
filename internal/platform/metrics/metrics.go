// Package metrics instruments the HTTP surface. Domain counters live next
// to the code that increments them; this package only covers the transport.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds transport-level Prometheus metrics.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTP creates and registers the transport metrics on the default registry.
func NewHTTP() *HTTP {
	return newHTTP(prometheus.DefaultRegisterer)
}

func newHTTP(reg prometheus.Registerer) *HTTP {
	factory := promauto.With(reg)
	return &HTTP{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaypool_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaypool_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaypool_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// Middleware records per-request metrics. Series are labeled with the chi
// route pattern rather than the raw path, so per-ID routes collapse into
// one series instead of one per UUID.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.status)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
