package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"licensegate/pkg/contracts/domain"
)

// AppendAudit inserts one audit event. Rows are never updated or deleted.
func (db *DB) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = db.execWrite(ctx, `
		INSERT INTO audit_events (id, event, timestamp, actor_ref, status, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Event,
		toMillis(event.Timestamp),
		event.ActorRef,
		string(event.Status),
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Event, err)
	}
	return nil
}

// AuditFilter narrows ListAudit
type AuditFilter struct {
	Event string
	Limit int
}

// ListAudit returns audit events in insertion order
func (db *DB) ListAudit(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error) {
	query := `SELECT id, event, timestamp, actor_ref, status, details FROM audit_events`
	var args []any
	if filter.Event != "" {
		query += ` WHERE event = ?`
		args = append(args, filter.Event)
	}
	query += ` ORDER BY rowid`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.readerPool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			ev      domain.AuditEvent
			ts      int64
			status  string
			details string
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &ts, &ev.ActorRef, &status, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.Status = domain.AuditStatus(status)
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decode audit details of %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
