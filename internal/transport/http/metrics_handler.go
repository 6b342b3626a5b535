package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	api "licensegate/pkg/contracts/api/v1"
)

// MetricsHandler exposes the Prometheus scrape endpoint
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler serves handler, or the default Prometheus registry when
// handler is nil
func NewMetricsHandler(handler http.Handler) *MetricsHandler {
	if handler == nil {
		handler = promhttp.Handler()
	}
	return &MetricsHandler{handler: handler}
}

// Routes mounts the metrics endpoint
func (h *MetricsHandler) Routes(r chi.Router) {
	r.Method(http.MethodGet, api.RouteMetrics, h.handler)
}
