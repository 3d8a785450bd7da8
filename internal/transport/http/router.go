// Package httptransport assembles the HTTP surface: the relay proxy, the
// management API, health probes and Prometheus metrics.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accounthandler "relaypool/internal/account/handler"
	"relaypool/internal/platform/health"
	"relaypool/internal/platform/metrics"
	"relaypool/internal/platform/middleware"
	"relaypool/internal/relay"
	usagehandler "relaypool/internal/usagelog/handler"
	"relaypool/pkg/platform/validation"
)

// adminTimeout bounds management calls. Relay routes carry no timeout
// here: upstream model calls legitimately run for minutes, and the
// dispatcher's HTTP client enforces its own deadline.
const adminTimeout = 30 * time.Second

// Deps carries the wired handlers the router mounts. Any nil handler is
// simply not mounted, so a binary can run without, say, the usage API.
type Deps struct {
	Relay       *relay.Handler
	RelayKeys   *relay.KeySet
	Accounts    *accounthandler.Handler
	Usage       *usagehandler.Handler
	Health      *health.Handler
	HTTPMetrics *metrics.HTTP
}

// NewRouter wires all endpoints with the middleware stack.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Middleware)

	// Relay surface. An empty key set leaves it open, for deployments
	// that terminate client auth in front of the pool.
	if deps.Relay != nil {
		r.Group(func(r chi.Router) {
			if deps.RelayKeys != nil && !deps.RelayKeys.Empty() {
				r.Use(relay.RequireKey(deps.RelayKeys, logger))
			}
			deps.Relay.Register(r)
		})
	}

	// Management surface. Relay routes are exempt from the body cap:
	// prompt payloads are bounded upstream, not here.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(adminTimeout))
		r.Use(middleware.BodyLimit(validation.MaxBodySize))
		r.Use(middleware.ContentTypeJSON)
		if deps.Accounts != nil {
			deps.Accounts.Register(r)
		}
		if deps.Usage != nil {
			deps.Usage.Register(r)
		}
	})

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
