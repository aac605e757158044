package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

const reviewItemColumns = `
	id, client_id, subject_ref, amount, COALESCE(description, ''),
	suggested_account, suggested_vat, account_confidence, vat_confidence, global_confidence,
	status, COALESCE(final_account, ''), COALESCE(final_vat, ''), COALESCE(voucher_id, ''),
	resolved_at, COALESCE(resolved_by, ''), COALESCE(notes, ''), created_at`

// CreateReviewItem inserts a new PENDING review item.
func (s *SQLiteStorage) CreateReviewItem(ctx context.Context, item *model.ReviewQueueItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReviewItem(item); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO review_items (
				id, client_id, subject_ref, amount, description,
				suggested_account, suggested_vat,
				account_confidence, vat_confidence, global_confidence,
				status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.ClientID, item.SubjectRef, item.Amount.String(), nullString(item.Description),
			item.SuggestedAccount, item.SuggestedVAT,
			item.Confidence.Account, item.Confidence.VAT, item.Confidence.Global,
			string(item.Status), item.CreatedAt)
		if err != nil {
			return conflictOr(err, "failed to insert review item %s", item.ID)
		}

		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  item.ClientID,
			Action:    model.AuditSuggestionQueued,
			SubjectID: item.ID,
			Actor:     "system",
			Detail: fmt.Sprintf("ref=%s account=%s vat=%s confidence=%.0f/%.0f/%.0f",
				item.SubjectRef, item.SuggestedAccount, item.SuggestedVAT,
				item.Confidence.Account, item.Confidence.VAT, item.Confidence.Global),
			CreatedAt: item.CreatedAt,
		})
	})
}

// GetReviewItem retrieves a review item by ID.
func (s *SQLiteStorage) GetReviewItem(ctx context.Context, id string) (*model.ReviewQueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getReviewItemTx(ctx, s.db, id)
}

func getReviewItemTx(ctx context.Context, q queryable, id string) (*model.ReviewQueueItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reviewItemColumns+` FROM review_items WHERE id = ?`, id)
	item, err := scanReviewItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review item %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

// ListReviewItems returns a client's items oldest first, optionally by status.
func (s *SQLiteStorage) ListReviewItems(ctx context.Context, filter service.ReviewFilter) ([]model.ReviewQueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.ClientID, "clientID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + reviewItemColumns + ` FROM review_items WHERE client_id = ?`
	args := []any{filter.ClientID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ResolveReviewItem moves a PENDING item to a terminal status. The status
// compare-and-swap, the feedback insert, the post call and the voucher update
// share one transaction: if post fails nothing is written and the item stays
// PENDING. Losing the compare-and-swap yields common.ErrInvalidState, which
// also matches common.ErrConflict.
func (s *SQLiteStorage) ResolveReviewItem(ctx context.Context, res service.Resolution, post service.PostFunc) (*model.ReviewQueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(res.ItemID, "itemID"); err != nil {
		return nil, err
	}
	if err := validateString(res.Actor, "actor"); err != nil {
		return nil, err
	}
	if !res.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidReviewItem, res.Status)
	}

	var item *model.ReviewQueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE review_items
			SET status = ?, final_account = ?, final_vat = ?, resolved_at = ?, resolved_by = ?, notes = ?
			WHERE id = ? AND status = 'PENDING'
		`, string(res.Status), nullString(res.FinalAccount), nullString(res.FinalVAT),
			now, res.Actor, nullString(res.Notes), res.ItemID)
		if err != nil {
			return fmt.Errorf("failed to resolve review item %s: %w", res.ItemID, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			if _, getErr := getReviewItemTx(ctx, tx, res.ItemID); getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: review item %s is no longer pending", common.ErrInvalidState, res.ItemID)
		}

		res.Feedback.RecordedAt = now
		if err := insertFeedbackTx(ctx, tx, &res.Feedback); err != nil {
			return err
		}

		item, err = getReviewItemTx(ctx, tx, res.ItemID)
		if err != nil {
			return err
		}

		if post != nil {
			voucherID, err := post(ctx, *item)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrPostingFailed, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE review_items SET voucher_id = ? WHERE id = ?`, voucherID, res.ItemID); err != nil {
				return fmt.Errorf("failed to store voucher ID: %w", err)
			}
			item.VoucherID = voucherID
		}

		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  item.ClientID,
			Action:    model.AuditReviewResolved,
			SubjectID: item.ID,
			Actor:     res.Actor,
			Detail: fmt.Sprintf("status=%s account=%s vat=%s voucher=%s",
				item.Status, item.FinalAccount, item.FinalVAT, item.VoucherID),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecordAudit appends an audit event outside any other mutation.
func (s *SQLiteStorage) RecordAudit(ctx context.Context, event model.AuditEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(event.ClientID, "clientID"); err != nil {
		return err
	}
	return writeAudit(ctx, s.db, event)
}

func scanReviewItem(row rowScanner) (*model.ReviewQueueItem, error) {
	var item model.ReviewQueueItem
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.SubjectRef,
		&item.Amount,
		&item.Description,
		&item.SuggestedAccount,
		&item.SuggestedVAT,
		&item.Confidence.Account,
		&item.Confidence.VAT,
		&item.Confidence.Global,
		&status,
		&item.FinalAccount,
		&item.FinalVAT,
		&item.VoucherID,
		&resolvedAt,
		&item.ResolvedBy,
		&item.Notes,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = model.ReviewStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}
	return &item, nil
}
