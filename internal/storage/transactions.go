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

const bankTransactionColumns = `
	id, client_id, account_id, hash, date, amount, currency, description,
	COALESCE(kid, ''), COALESCE(counterparty, ''), status, posted`

// SaveBankTransactions inserts transactions, skipping any whose hash is already
// stored. It returns the number of rows actually inserted.
func (s *SQLiteStorage) SaveBankTransactions(ctx context.Context, txns []model.BankTransaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateBankTransactions(txns); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO bank_transactions (
				id, client_id, account_id, hash, date, amount, currency,
				description, kid, counterparty, status, posted
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range txns {
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}
			if txn.Status == "" {
				txn.Status = model.StatusUnmatched
			}
			if txn.Currency == "" {
				txn.Currency = "NOK"
			}

			res, err := stmt.ExecContext(ctx,
				txn.ID,
				txn.ClientID,
				txn.AccountID,
				txn.Hash,
				dateOnly(txn.Date),
				txn.Amount.String(),
				txn.Currency,
				txn.Description,
				nullString(txn.KID),
				nullString(txn.Counterparty),
				string(txn.Status),
				txn.Posted,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetBankTransaction retrieves a single transaction by ID.
func (s *SQLiteStorage) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getBankTransactionTx(ctx, s.db, id)
}

func getBankTransactionTx(ctx context.Context, q queryable, id string) (*model.BankTransaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bankTransactionColumns+` FROM bank_transactions WHERE id = ?`, id)
	txn, err := scanBankTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bank transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank transaction: %w", err)
	}
	return txn, nil
}

// ListBankTransactions returns the scope's transactions ordered by date then ID.
func (s *SQLiteStorage) ListBankTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateScope(filter.Scope); err != nil {
		return nil, err
	}
	return listBankTransactionsTx(ctx, s.db, filter)
}

func listBankTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	query := `SELECT ` + bankTransactionColumns + ` FROM bank_transactions WHERE client_id = ?`
	args := []any{filter.Scope.ClientID}

	if filter.Scope.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.Scope.AccountID)
	}
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
		return nil, fmt.Errorf("failed to query bank transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.BankTransaction
	for rows.Next() {
		txn, err := scanBankTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBankTransaction(row rowScanner) (*model.BankTransaction, error) {
	var txn model.BankTransaction
	var status string
	err := row.Scan(
		&txn.ID,
		&txn.ClientID,
		&txn.AccountID,
		&txn.Hash,
		&txn.Date,
		&txn.Amount,
		&txn.Currency,
		&txn.Description,
		&txn.KID,
		&txn.Counterparty,
		&status,
		&txn.Posted,
	)
	if err != nil {
		return nil, err
	}
	txn.Status = model.MatchStatus(status)
	return &txn, nil
}

func setBankTransactionStatus(ctx context.Context, q queryable, id string, status model.MatchStatus) error {
	if _, err := q.ExecContext(ctx, `UPDATE bank_transactions SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("failed to update bank transaction %s: %w", id, err)
	}
	return nil
}
