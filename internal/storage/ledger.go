package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

const ledgerEntryColumns = `
	id, client_id, account_code, date, debit, credit, description,
	COALESCE(voucher_number, ''), COALESCE(reference, ''), status`

// SaveLedgerEntries upserts ledger entries. Status is preserved for entries
// that already exist so a re-import never unmatches anything.
func (s *SQLiteStorage) SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateLedgerEntries(entries); err != nil {
		return 0, err
	}

	saved := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ledger_entries (
				id, client_id, account_code, date, debit, credit,
				description, voucher_number, reference, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'unmatched')
			ON CONFLICT(id) DO UPDATE SET
				account_code = excluded.account_code,
				date = excluded.date,
				debit = excluded.debit,
				credit = excluded.credit,
				description = excluded.description,
				voucher_number = excluded.voucher_number,
				reference = excluded.reference
			WHERE ledger_entries.client_id = excluded.client_id
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, entry := range entries {
			res, err := stmt.ExecContext(ctx,
				entry.ID,
				entry.ClientID,
				entry.AccountCode,
				dateOnly(entry.Date),
				entry.Debit.String(),
				entry.Credit.String(),
				entry.Description,
				nullString(entry.VoucherNumber),
				nullString(entry.Reference),
			)
			if err != nil {
				return fmt.Errorf("failed to save ledger entry %s: %w", entry.ID, err)
			}
			n, _ := res.RowsAffected()
			saved += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// GetLedgerEntry retrieves a single ledger entry by ID.
func (s *SQLiteStorage) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getLedgerEntryTx(ctx, s.db, id)
}

func getLedgerEntryTx(ctx context.Context, q queryable, id string) (*model.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ledgerEntryColumns+` FROM ledger_entries WHERE id = ?`, id)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger entry %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// ListLedgerEntries returns the client's entries ordered by date then ID.
// Ledger entries are not bound to a bank account, so Scope.AccountID is ignored.
func (s *SQLiteStorage) ListLedgerEntries(ctx context.Context, filter service.TransactionFilter) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateScope(filter.Scope); err != nil {
		return nil, err
	}
	return listLedgerEntriesTx(ctx, s.db, filter)
}

func listLedgerEntriesTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE client_id = ?`
	args := []any{filter.Scope.ClientID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query, args = periodFilter(query, args, "date", filter.Scope)
	query += " ORDER BY date ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	var status string
	err := row.Scan(
		&entry.ID,
		&entry.ClientID,
		&entry.AccountCode,
		&entry.Date,
		&entry.Debit,
		&entry.Credit,
		&entry.Description,
		&entry.VoucherNumber,
		&entry.Reference,
		&status,
	)
	if err != nil {
		return nil, err
	}
	entry.Status = model.MatchStatus(status)
	return &entry, nil
}

func setLedgerEntryStatus(ctx context.Context, q queryable, id string, status model.MatchStatus) error {
	if _, err := q.ExecContext(ctx, `UPDATE ledger_entries SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("failed to update ledger entry %s: %w", id, err)
	}
	return nil
}
