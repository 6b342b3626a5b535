package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "licensegate/pkg/contracts/api/v1"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checks  map[string]Pinger
	version string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]Pinger),
		version: version,
		timeout: 2 * time.Second,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// AddCheck registers a dependency probed by the readiness check
func (h *HealthHandler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// Routes mounts the health endpoints
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get(api.RouteHealth, h.HealthCheck)
	r.Get(api.RouteHealth+"/ready", h.HealthCheck)
	r.Get(api.RouteHealth+"/live", h.LivenessCheck)
}

// HealthCheck handles GET /api/health. A failing dependency turns the
// response into a 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := api.HealthResponse{Status: "healthy", Version: h.version, Checks: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = "unavailable"
			resp.Status = "unhealthy"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{Status: "alive", Version: h.version})
}
