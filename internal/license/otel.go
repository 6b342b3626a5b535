package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "licensegate/internal/errors"
	"licensegate/pkg/contracts/domain"
)

const (
	TracerName = "licensegate/license"
	MeterName  = "licensegate/license"
)

// LicenseMetrics holds the license-specific OpenTelemetry instruments
type LicenseMetrics struct {
	Activations       metric.Int64Counter
	Validations       metric.Int64Counter
	Denials           metric.Int64Counter
	QuotaRejections   metric.Int64Counter
	Expirations       metric.Int64Counter
	AuditFailures     metric.Int64Counter
	LicensesCreated   metric.Int64Counter
	OperationDuration metric.Float64Histogram
}

// InitializeLicenseMetrics creates all license-specific metrics
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}

	var err error

	metrics.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("Total number of activation attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	metrics.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total number of heartbeat validations by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	metrics.Denials, err = meter.Int64Counter(
		"license_denials_total",
		metric.WithDescription("Total number of denied activations and validations by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create denials counter: %w", err)
	}

	metrics.QuotaRejections, err = meter.Int64Counter(
		"license_quota_rejections_total",
		metric.WithDescription("Total number of binds rejected by the device quota"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota rejections counter: %w", err)
	}

	metrics.Expirations, err = meter.Int64Counter(
		"license_expirations_total",
		metric.WithDescription("Total number of licenses lazily flipped to expired"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expirations counter: %w", err)
	}

	metrics.AuditFailures, err = meter.Int64Counter(
		"license_audit_failures_total",
		metric.WithDescription("Total number of audit events the sink failed to record"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit failures counter: %w", err)
	}

	metrics.LicensesCreated, err = meter.Int64Counter(
		"license_created_total",
		metric.WithDescription("Total number of licenses issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create licenses created counter: %w", err)
	}

	metrics.OperationDuration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	return metrics, nil
}

func (m *LicenseMetrics) recordActivation(ctx context.Context, res *domain.ActivationResult) {
	if m == nil || res == nil {
		return
	}
	outcome := string(res.Status)
	if res.AlreadyBound {
		outcome = "already_bound"
	}
	m.Activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", string(res.Reason)),
	))
	if res.Reason != domain.ReasonNone {
		m.recordDenial(ctx, "activate", res.Reason)
	}
}

func (m *LicenseMetrics) recordValidation(ctx context.Context, res *domain.ValidationResult) {
	if m == nil || res == nil {
		return
	}
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	if res.Reason != domain.ReasonNone {
		m.recordDenial(ctx, "validate", res.Reason)
	}
}

func (m *LicenseMetrics) recordDenial(ctx context.Context, operation string, reason domain.Reason) {
	m.Denials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", string(reason)),
	))
	if reason == domain.ReasonQuotaExceeded {
		m.QuotaRejections.Add(ctx, 1)
	}
}

func (m *LicenseMetrics) recordExpiration(ctx context.Context) {
	if m == nil {
		return
	}
	m.Expirations.Add(ctx, 1)
}

func (m *LicenseMetrics) recordAuditFailure(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.AuditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *LicenseMetrics) recordCreated(ctx context.Context, businessType string) {
	if m == nil {
		return
	}
	m.LicensesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("business_type", businessType)))
}

func (m *LicenseMetrics) recordDuration(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.OperationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	))
}

// startSpan opens a span for a license operation and returns a finish func
// that records the duration metric and the error, if any.
func (s *Service) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	tracer := s.tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	ctx, span := tracer.Start(ctx, "license."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("license.operation", operation),
			attribute.String("component", "license_service"),
		}, attrs...)...),
	)
	start := s.clock.Now()

	return ctx, func(err error) {
		duration := s.clock.Now().Sub(start)
		s.metrics.recordDuration(ctx, operation, duration, err)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("license.error_type", classifyLicenseError(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func classifyLicenseError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrValidation):
		return "validation"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperrors.ErrKeyCollision):
		return "key_collision"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "infrastructure"
	}
}
