// Package audit holds the append-only sinks security-relevant attempts are
// recorded to. Every sink satisfies license.AuditSink.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"licensegate/pkg/contracts/domain"
)

// Appender is the persistent store side of the audit trail
type Appender interface {
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
}

// StoreSink writes events to the transactional store
type StoreSink struct {
	store Appender
}

// NewStoreSink creates a sink over store
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements license.AuditSink
func (s *StoreSink) Record(ctx context.Context, event domain.AuditEvent) error {
	// The request context may already be canceled once the handler returned;
	// the audit write must still land.
	if err := s.store.AppendAudit(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("append audit %s: %w", event.Event, err)
	}
	return nil
}

// LogSink writes events as structured log lines
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs under the "audit" component
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "audit"))}
}

// Record implements license.AuditSink
func (s *LogSink) Record(ctx context.Context, event domain.AuditEvent) error {
	level := slog.LevelInfo
	switch event.Status {
	case domain.AuditStatusDenied:
		level = slog.LevelWarn
	case domain.AuditStatusFail:
		level = slog.LevelError
	}

	s.logger.LogAttrs(ctx, level, "audit event",
		slog.String("audit_id", event.ID),
		slog.String("event", event.Event),
		slog.String("status", string(event.Status)),
		slog.String("actor", event.ActorRef),
		slog.Time("timestamp", event.Timestamp),
		slog.Any("details", event.Details),
	)
	return nil
}

// Sink is the interface every audit sink satisfies
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// MultiSink fans an event out to every sink. All sinks are attempted; the
// joined error reports which failed.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out over sinks, skipping nil entries
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record implements license.AuditSink
func (m *MultiSink) Record(ctx context.Context, event domain.AuditEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
