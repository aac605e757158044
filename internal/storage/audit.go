package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// writeAudit appends one row to the audit trail on q, which is normally the
// transaction carrying the mutation being audited.
func writeAudit(ctx context.Context, q queryable, event model.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (client_id, action, subject_id, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ClientID, string(event.Action), event.SubjectID, event.Actor,
		nullString(event.Detail), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit event %s: %w", event.Action, err)
	}
	return nil
}

// ListAuditEvents returns audit rows oldest first.
func (s *SQLiteStorage) ListAuditEvents(ctx context.Context, filter service.AuditFilter) ([]model.AuditEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.ClientID, "clientID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, client_id, action, subject_id, actor, COALESCE(detail, ''), created_at
		FROM audit_log
		WHERE client_id = ?`
	args := []any{filter.ClientID}
	if filter.SubjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, filter.SubjectID)
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var action string
		if err := rows.Scan(&ev.ID, &ev.ClientID, &action, &ev.SubjectID, &ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Action = model.AuditAction(action)
		events = append(events, ev)
	}
	return events, rows.Err()
}
