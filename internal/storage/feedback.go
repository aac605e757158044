package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// AppendFeedback stores a feedback record for an already resolved item.
// Records are never updated; a revision is simply a newer record.
func (s *SQLiteStorage) AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: feedback record", ErrNilParameter)
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertFeedbackTx(ctx, tx, record); err != nil {
			return err
		}
		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  record.ClientID,
			Action:    model.AuditFeedbackRevised,
			SubjectID: record.ItemID,
			Actor:     record.RecordedBy,
			Detail: fmt.Sprintf("feedback=%s account=%s vat=%s",
				record.ID, record.FinalAccount, record.FinalVAT),
			CreatedAt: record.RecordedAt,
		})
	})
}

func insertFeedbackTx(ctx context.Context, q queryable, record *model.FeedbackRecord) error {
	switch {
	case record.ID == "":
		return fmt.Errorf("%w: feedback record without ID", ErrNilParameter)
	case record.ItemID == "" || record.ClientID == "":
		return fmt.Errorf("%w: feedback record without item or client", ErrNilParameter)
	case record.RecordedBy == "":
		return fmt.Errorf("%w: recordedBy", ErrEmptyString)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO feedback_records (
			id, item_id, client_id, resolution,
			suggested_account, suggested_vat, final_account, final_vat,
			account_correct, vat_correct, fully_correct,
			recorded_at, recorded_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.ItemID, record.ClientID, string(record.Resolution),
		record.SuggestedAccount, record.SuggestedVAT,
		nullString(record.FinalAccount), nullString(record.FinalVAT),
		record.AccountCorrect, record.VATCorrect, record.FullyCorrect,
		record.RecordedAt, record.RecordedBy)
	if err != nil {
		return conflictOr(err, "failed to insert feedback record")
	}
	return nil
}

// ListFeedback returns a client's feedback records oldest first.
func (s *SQLiteStorage) ListFeedback(ctx context.Context, filter service.FeedbackFilter) ([]model.FeedbackRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.ClientID, "clientID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, item_id, client_id, resolution, suggested_account, suggested_vat,
			COALESCE(final_account, ''), COALESCE(final_vat, ''),
			account_correct, vat_correct, fully_correct, recorded_at, recorded_by
		FROM feedback_records
		WHERE client_id = ?`
	args := []any{filter.ClientID}
	if filter.ItemID != "" {
		query += " AND item_id = ?"
		args = append(args, filter.ItemID)
	}
	if filter.Period != nil {
		if filter.Period.End.Before(filter.Period.Start) {
			return nil, ErrInvalidDateRange
		}
		query += " AND recorded_at >= ? AND recorded_at < ?"
		args = append(args, dateOnly(filter.Period.Start), dateOnly(filter.Period.End).AddDate(0, 0, 1))
	}
	query += " ORDER BY recorded_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var resolution string
		if err := rows.Scan(
			&r.ID, &r.ItemID, &r.ClientID, &resolution,
			&r.SuggestedAccount, &r.SuggestedVAT, &r.FinalAccount, &r.FinalVAT,
			&r.AccountCorrect, &r.VATCorrect, &r.FullyCorrect,
			&r.RecordedAt, &r.RecordedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feedback record: %w", err)
		}
		r.Resolution = model.Resolution(resolution)
		records = append(records, r)
	}
	return records, rows.Err()
}
