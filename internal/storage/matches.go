package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

const matchColumns = `
	id, client_id, bank_transaction_id, ledger_entry_id, match_type, score, rule_id,
	active, created_at, created_by, unmatched_at, COALESCE(unmatched_by, '')`

// CreateMatch links a bank transaction to a ledger entry. The existence and
// uniqueness checks, the insert, both status updates and the audit row commit
// together or not at all. A side that already has an active match yields
// common.ErrConflict.
func (s *SQLiteStorage) CreateMatch(ctx context.Context, m model.NewMatch) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateNewMatch(m); err != nil {
		return nil, err
	}

	var record *model.MatchRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = createMatchTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func createMatchTx(ctx context.Context, tx *sql.Tx, m model.NewMatch) (*model.MatchRecord, error) {
	txn, err := getBankTransactionTx(ctx, tx, m.BankTransactionID)
	if err != nil {
		return nil, err
	}
	entry, err := getLedgerEntryTx(ctx, tx, m.LedgerEntryID)
	if err != nil {
		return nil, err
	}
	if txn.ClientID != entry.ClientID {
		return nil, fmt.Errorf("%w: transaction %s and entry %s belong to different clients",
			ErrInvalidMatch, txn.ID, entry.ID)
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM matches
		WHERE active = 1 AND (bank_transaction_id = ? OR ledger_entry_id = ?)
		LIMIT 1
	`, m.BankTransactionID, m.LedgerEntryID).Scan(&existing)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: transaction %s or entry %s already matched by %s",
			common.ErrConflict, m.BankTransactionID, m.LedgerEntryID, existing)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check existing matches: %w", err)
	}

	record := &model.MatchRecord{
		ID:                uuid.NewString(),
		ClientID:          txn.ClientID,
		BankTransactionID: m.BankTransactionID,
		LedgerEntryID:     m.LedgerEntryID,
		Type:              m.Type,
		Score:             m.Score,
		RuleID:            m.RuleID,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
		CreatedBy:         m.Actor,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (
			id, client_id, bank_transaction_id, ledger_entry_id, match_type,
			score, rule_id, active, created_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, record.ID, record.ClientID, record.BankTransactionID, record.LedgerEntryID,
		string(record.Type), record.Score, record.RuleID, record.CreatedAt, record.CreatedBy)
	if err != nil {
		return nil, conflictOr(err, "failed to insert match")
	}

	if err := setBankTransactionStatus(ctx, tx, txn.ID, model.StatusMatched); err != nil {
		return nil, err
	}
	if err := setLedgerEntryStatus(ctx, tx, entry.ID, model.StatusMatched); err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("txn=%s entry=%s type=%s", txn.ID, entry.ID, record.Type)
	if record.Score != nil {
		detail += fmt.Sprintf(" score=%d", *record.Score)
	}
	if record.RuleID != nil {
		detail += fmt.Sprintf(" rule=%d", *record.RuleID)
	}
	if err := writeAudit(ctx, tx, model.AuditEvent{
		ClientID:  record.ClientID,
		Action:    model.AuditMatchCreated,
		SubjectID: record.ID,
		Actor:     m.Actor,
		Detail:    detail,
		CreatedAt: record.CreatedAt,
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// GetMatch retrieves a match record, active or not.
func (s *SQLiteStorage) GetMatch(ctx context.Context, id string) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getMatchTx(ctx, s.db, id)
}

func getMatchTx(ctx context.Context, q queryable, id string) (*model.MatchRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	record, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return record, nil
}

// Unmatch deactivates a match and reopens both sides. Unmatching an already
// inactive record is a no-op; an unknown ID yields common.ErrNotFound.
func (s *SQLiteStorage) Unmatch(ctx context.Context, matchID, actor string) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchID, "matchID"); err != nil {
		return nil, err
	}
	if err := validateString(actor, "actor"); err != nil {
		return nil, err
	}

	var record *model.MatchRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = getMatchTx(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if !record.Active {
			return nil
		}
		return unmatchTx(ctx, tx, record, actor)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UnmatchTransaction deactivates the active match of a bank transaction, if any.
// It returns nil, nil when the transaction exists but is not matched.
func (s *SQLiteStorage) UnmatchTransaction(ctx context.Context, txnID, actor string) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(txnID, "txnID"); err != nil {
		return nil, err
	}
	if err := validateString(actor, "actor"); err != nil {
		return nil, err
	}

	var record *model.MatchRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBankTransactionTx(ctx, tx, txnID); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+matchColumns+` FROM matches WHERE bank_transaction_id = ? AND active = 1`, txnID)
		found, err := scanMatch(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find active match: %w", err)
		}
		record = found
		return unmatchTx(ctx, tx, record, actor)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func unmatchTx(ctx context.Context, tx *sql.Tx, record *model.MatchRecord, actor string) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE matches SET active = 0, unmatched_at = ?, unmatched_by = ?
		WHERE id = ? AND active = 1
	`, now, actor, record.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate match %s: %w", record.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if err := setBankTransactionStatus(ctx, tx, record.BankTransactionID, model.StatusUnmatched); err != nil {
		return err
	}
	if err := setLedgerEntryStatus(ctx, tx, record.LedgerEntryID, model.StatusUnmatched); err != nil {
		return err
	}

	record.Active = false
	record.UnmatchedAt = &now
	record.UnmatchedBy = actor

	return writeAudit(ctx, tx, model.AuditEvent{
		ClientID:  record.ClientID,
		Action:    model.AuditMatchUnmatched,
		SubjectID: record.ID,
		Actor:     actor,
		Detail:    fmt.Sprintf("txn=%s entry=%s", record.BankTransactionID, record.LedgerEntryID),
		CreatedAt: now,
	})
}

// ListUnmatched returns the open transactions and entries of a scope.
func (s *SQLiteStorage) ListUnmatched(ctx context.Context, scope model.Scope) (*service.UnmatchedSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	filter := service.TransactionFilter{Scope: scope, Status: model.StatusUnmatched}
	txns, err := listBankTransactionsTx(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	entries, err := listLedgerEntriesTx(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	return &service.UnmatchedSet{Transactions: txns, Entries: entries}, nil
}

// ListMatched returns the active matches whose bank transaction falls in scope.
func (s *SQLiteStorage) ListMatched(ctx context.Context, scope model.Scope) ([]model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.client_id, m.bank_transaction_id, m.ledger_entry_id, m.match_type,
			m.score, m.rule_id, m.active, m.created_at, m.created_by, m.unmatched_at,
			COALESCE(m.unmatched_by, '')
		FROM matches m
		JOIN bank_transactions t ON t.id = m.bank_transaction_id
		WHERE m.active = 1 AND m.client_id = ?`
	args := []any{scope.ClientID}
	if scope.AccountID != "" {
		query += " AND t.account_id = ?"
		args = append(args, scope.AccountID)
	}
	query, args = periodFilter(query, args, "t.date", scope)
	query += " ORDER BY t.date ASC, t.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MatchRecord
	for rows.Next() {
		record, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListMatchAudit returns the audit trail of one match record.
func (s *SQLiteStorage) ListMatchAudit(ctx context.Context, matchID string) ([]model.AuditEvent, error) {
	record, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.ListAuditEvents(ctx, service.AuditFilter{ClientID: record.ClientID, SubjectID: record.ID})
}

func scanMatch(row rowScanner) (*model.MatchRecord, error) {
	var record model.MatchRecord
	var matchType string
	var score sql.NullInt64
	var ruleID sql.NullInt64
	var unmatchedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.ClientID,
		&record.BankTransactionID,
		&record.LedgerEntryID,
		&matchType,
		&score,
		&ruleID,
		&record.Active,
		&record.CreatedAt,
		&record.CreatedBy,
		&unmatchedAt,
		&record.UnmatchedBy,
	)
	if err != nil {
		return nil, err
	}

	record.Type = model.MatchType(matchType)
	if score.Valid {
		v := int(score.Int64)
		record.Score = &v
	}
	if ruleID.Valid {
		v := ruleID.Int64
		record.RuleID = &v
	}
	if unmatchedAt.Valid {
		t := unmatchedAt.Time
		record.UnmatchedAt = &t
	}
	return &record, nil
}
