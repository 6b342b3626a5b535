package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/middleware"
	"licensegate/internal/ratelimit"
)

// RouterConfig holds everything the RPC router serves and protects
type RouterConfig struct {
	Service    LicenseService
	Health     *HealthHandler
	Metrics    *MetricsHandler
	ErrHandler *apperrors.ErrorHandler
	Tokens     middleware.TokenParser
	Providers  *infrastructure.OTelProviders
	Logger     *slog.Logger

	// Limiter guards the device endpoints; nil disables rate limiting.
	Limiter ratelimit.Limiter
	// CORS is applied when non-nil.
	CORS           *middleware.CORSConfig
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// NewRouter builds the chi router with the full middleware chain
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	switch {
	case cfg.Service == nil:
		return nil, errors.New("router: license service is required")
	case cfg.ErrHandler == nil:
		return nil, errors.New("router: error handler is required")
	case cfg.Tokens == nil:
		return nil, errors.New("router: token parser is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Providers == nil {
		cfg.Providers = infrastructure.NoopProviders(cfg.Logger)
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthHandler("", cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsHandler(cfg.Providers.PrometheusHTTP)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	otelMW, err := middleware.NewOTelMiddleware(cfg.Providers)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelMW.Handler)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.ErrHandler))
	r.Use(middleware.SecurityHeaders)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	r.NotFound(cfg.ErrHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrHandler.MethodNotAllowed)

	cfg.Health.Routes(r)
	cfg.Metrics.Routes(r)

	licenses := NewLicenseHandler(cfg.Service, cfg.ErrHandler, cfg.Providers.Tracer, cfg.Logger)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(middleware.Authenticate(cfg.Tokens, cfg.Logger))
		r.Use(middleware.RequireJSON(cfg.MaxBodyBytes, cfg.ErrHandler, licenses.AuditRejection))

		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.ErrHandler, licenses.AuditRejection, cfg.Logger))
			}
			licenses.DeviceRoutes(r)
		})
		licenses.AdminRoutes(r)
	})

	return r, nil
}
