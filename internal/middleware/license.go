package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"licensegate/internal/client"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
)

// Checker answers feature-gate queries. *client.Guard implements it.
type Checker interface {
	Check(capability string) client.Decision
	RefreshInBackground() <-chan singleflight.Result
}

// GateMetrics counts feature-gate outcomes
type GateMetrics struct {
	Checks metric.Int64Counter
	Denied metric.Int64Counter
}

// NewGateMetrics creates the gate counters on meter
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	checks, err := meter.Int64Counter("license_gate_checks_total",
		metric.WithDescription("Feature gate checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}
	denied, err := meter.Int64Counter("license_gate_denied_total",
		metric.WithDescription("Feature gate checks that denied the request"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}
	return &GateMetrics{Checks: checks, Denied: denied}, nil
}

// LicenseGate protects the HTTP routes of an application embedding the
// client Guard. It never contacts the license server on the request path.
type LicenseGate struct {
	guard           Checker
	errHandler      *apperrors.ErrorHandler
	logger          *slog.Logger
	metrics         *GateMetrics
	excludePaths    map[string]struct{}
	excludePrefixes []string
}

// NewLicenseGate creates a gate backed by guard
func NewLicenseGate(guard Checker, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		guard:      guard,
		errHandler: errHandler,
		logger:     infrastructure.WithComponent(logger, "license_gate"),
		excludePaths: map[string]struct{}{
			"/api/health": {},
			"/metrics":    {},
		},
	}
}

// SetMetrics attaches gate counters
func (g *LicenseGate) SetMetrics(m *GateMetrics) {
	g.metrics = m
}

// AddExcludePath lets path through unchecked
func (g *LicenseGate) AddExcludePath(path string) {
	g.excludePaths[path] = struct{}{}
}

// AddExcludePrefix lets every path under prefix through unchecked
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Require admits the request only while the license allows capability. An
// empty capability requires just a usable license.
func (g *LicenseGate) Require(capability string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := otel.Tracer("licensegate/middleware").Start(r.Context(), "license_gate.check",
				trace.WithAttributes(
					attribute.String("capability", capability),
					attribute.String("http.route", r.URL.Path),
				),
			)
			defer span.End()

			decision := g.guard.Check(capability)
			attrs := metric.WithAttributes(attribute.String("capability", capability))
			if g.metrics != nil {
				g.metrics.Checks.Add(ctx, 1, attrs)
			}
			if decision.Allowed {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			span.SetStatus(codes.Error, decision.Err.Error())
			if g.metrics != nil {
				g.metrics.Denied.Add(ctx, 1, attrs)
			}
			if errors.Is(decision.Err, apperrors.ErrStaleCache) || errors.Is(decision.Err, apperrors.ErrTamperedCache) {
				g.guard.RefreshInBackground()
			}

			infrastructure.LoggerWithContext(ctx, g.logger).WarnContext(ctx, "feature gate denied request",
				slog.String("capability", capability),
				slog.String("path", r.URL.Path),
				slog.String("error", decision.Err.Error()),
			)
			g.errHandler.HandleError(w, r.WithContext(ctx), decision.Err)
		})
	}
}
