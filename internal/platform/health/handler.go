// Package health serves the liveness, readiness and status probes. Backend
// clients register readiness checks at startup; the probe sweeps them
// concurrently so one slow dependency cannot starve the rest of the budget.
package health

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"relaypool/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// readinessTimeout bounds the whole readiness sweep so one hung
// dependency cannot stall the probe past the kubelet's own deadline.
const readinessTimeout = 5 * time.Second

// CheckFunc reports one dependency's health. Nil means healthy.
type CheckFunc func(ctx context.Context) error

type Handler struct {
	startTime   time.Time
	environment string
	catalog     string

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

type Option func(*Handler)

// WithCatalogBackend names the active catalog backend in the status
// payload, so an operator can see at a glance which store this instance
// runs against.
func WithCatalogBackend(name string) Option {
	return func(h *Handler) {
		h.catalog = name
	}
}

func New(environment string, opts ...Option) *Handler {
	h := &Handler{
		startTime:   time.Now(),
		environment: environment,
		checks:      make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterCheck adds a named health check for the readiness probe.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts health check routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness answers 200 whenever the process is up. No dependencies
// are consulted; a live-but-not-ready instance must not be restarted.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{
		Status: "alive",
	})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness sweeps every registered check concurrently and reports
// 503 when any dependency is down. All checks run to completion; the
// response names each one so the failing backend is identifiable from the
// probe alone.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]string, len(checks))
		anyDown   bool
	)

	var g errgroup.Group
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(ctx)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				results[name] = "down: " + err.Error()
				anyDown = true
			} else {
				results[name] = "up"
			}
			return nil
		})
	}
	_ = g.Wait()

	response := ReadinessResponse{Status: "ready", Checks: results}
	if anyDown {
		response.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	Catalog       string `json:"catalog,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// HandleStatus reports version, environment and uptime for humans and
// deploy tooling.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		Catalog:       h.catalog,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
