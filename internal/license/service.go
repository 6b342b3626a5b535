package license

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/pkg/contracts/domain"
)

// AuditSink records security-relevant attempts. Implementations must not
// mutate or drop events they accepted.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// Authorizer decides whether actor may administer licenses of customerID.
// It returns an error wrapping ErrUnauthenticated or ErrPermissionDenied.
type Authorizer interface {
	Authorize(ctx context.Context, actor domain.Actor, customerID string) error
}

// AuthorizerFunc adapts a function to Authorizer
type AuthorizerFunc func(ctx context.Context, actor domain.Actor, customerID string) error

// Authorize calls f
func (f AuthorizerFunc) Authorize(ctx context.Context, actor domain.Actor, customerID string) error {
	return f(ctx, actor, customerID)
}

// Policy holds the tunable rules of the license core
type Policy struct {
	// LastSeenThrottle is how stale last_seen_at must be before a heartbeat rewrites it.
	LastSeenThrottle  time.Duration
	DefaultExpiryDays int
	KeyPrefix         string
	PlatformTag       string
	MaxKeyAttempts    int
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		LastSeenThrottle:  time.Hour,
		DefaultExpiryDays: 365,
		KeyPrefix:         "APP",
		PlatformTag:       "DSK",
		MaxKeyAttempts:    5,
	}
}

// Deps are the collaborators of a Service. Store, Audit, Authorizer and Tokens are required.
type Deps struct {
	Store      Store
	Audit      AuditSink
	Authorizer Authorizer
	Tokens     *TokenSigner
	// Snapshots signs the cache snapshot returned to devices. Nil leaves
	// CacheSignature empty.
	Snapshots SnapshotSigner
	Clock     Clock
	Policy    Policy
	Logger    *slog.Logger
	Metrics   *LicenseMetrics
	Tracer    trace.Tracer
	// Rand feeds license key generation; nil uses crypto/rand.
	Rand io.Reader
}

// Service is the license core: registry, device binding and the heartbeat path.
// It keeps no mutable state of its own; the store is the only shared resource.
type Service struct {
	store     Store
	audit     AuditSink
	authz     Authorizer
	tokens    *TokenSigner
	snapshots SnapshotSigner
	clock     Clock
	policy    Policy
	logger    *slog.Logger
	metrics   *LicenseMetrics
	tracer    trace.Tracer
	rand      io.Reader
	validate  *validator.Validate
}

// NewService creates a Service from deps, filling optional ones with defaults.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("license service: store is required")
	case deps.Audit == nil:
		return nil, errors.New("license service: audit sink is required")
	case deps.Authorizer == nil:
		return nil, errors.New("license service: authorizer is required")
	case deps.Tokens == nil:
		return nil, errors.New("license service: token signer is required")
	}

	policy := deps.Policy
	defaults := DefaultPolicy()
	if policy.LastSeenThrottle < 0 {
		return nil, fmt.Errorf("license service: negative last seen throttle %s", policy.LastSeenThrottle)
	}
	if policy.DefaultExpiryDays <= 0 {
		policy.DefaultExpiryDays = defaults.DefaultExpiryDays
	}
	if policy.KeyPrefix == "" {
		policy.KeyPrefix = defaults.KeyPrefix
	}
	if policy.PlatformTag == "" {
		policy.PlatformTag = defaults.PlatformTag
	}
	if policy.MaxKeyAttempts <= 0 {
		policy.MaxKeyAttempts = defaults.MaxKeyAttempts
	}

	s := &Service{
		store:     deps.Store,
		audit:     deps.Audit,
		authz:     deps.Authorizer,
		tokens:    deps.Tokens,
		snapshots: deps.Snapshots,
		clock:     deps.Clock,
		policy:    policy,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		rand:      deps.Rand,
		validate:  validator.New(),
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = infrastructure.WithComponent(s.logger, "license_service")
	return s, nil
}

// Policy returns the effective policy
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) validateRequest(req any) error {
	return apperrors.FromValidator(s.validate.Struct(req))
}

// record writes one audit event. A sink failure is logged and counted; it
// never changes the outcome returned to the caller.
func (s *Service) record(ctx context.Context, actor domain.Actor, event string, status domain.AuditStatus, details map[string]any) {
	ev := domain.AuditEvent{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: s.clock.Now(),
		ActorRef:  actor.Ref(),
		Status:    status,
		Details:   details,
	}
	if reqID := infrastructure.GetRequestID(ctx); reqID != "" {
		if ev.Details == nil {
			ev.Details = map[string]any{}
		}
		ev.Details["requestId"] = reqID
	}

	if err := s.audit.Record(ctx, ev); err != nil {
		s.metrics.recordAuditFailure(ctx, event)
		infrastructure.WithError(infrastructure.LoggerWithContext(ctx, s.logger), err).ErrorContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("status", string(status)),
		)
	}
}

// RecordRejected audits a request refused before it reached an operation,
// such as an undecodable body or a rate limit hit, so that rejected calls
// leave the same single event a served call does.
func (s *Service) RecordRejected(ctx context.Context, actor domain.Actor, event string, err error) {
	s.record(ctx, actor, event, auditStatusFor(err), errorDetails(map[string]any{"rejected": true}, err))
}

// auditStatusFor classifies an operation error for the audit trail
func auditStatusFor(err error) domain.AuditStatus {
	switch {
	case err == nil:
		return domain.AuditStatusSuccess
	case errors.Is(err, apperrors.ErrUnauthenticated),
		errors.Is(err, apperrors.ErrPermissionDenied),
		errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrRateLimitExceeded):
		return domain.AuditStatusDenied
	default:
		return domain.AuditStatusFail
	}
}

func errorDetails(details map[string]any, err error) map[string]any {
	if err == nil {
		return details
	}
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = err.Error()
	if t := classifyLicenseError(err); t != "" {
		details["errorType"] = t
	}
	return details
}
