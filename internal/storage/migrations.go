package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Veraticus/tally/internal/common"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Bank transactions and ledger entries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id TEXT PRIMARY KEY,
					client_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					date DATE NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT 'NOK',
					description TEXT NOT NULL,
					kid TEXT,
					counterparty TEXT,
					status TEXT NOT NULL DEFAULT 'unmatched'
						CHECK (status IN ('unmatched', 'matched', 'reviewed')),
					posted INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_bank_transactions_scope ON bank_transactions(client_id, account_id, date)`,
				`CREATE INDEX idx_bank_transactions_status ON bank_transactions(client_id, status)`,

				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id TEXT PRIMARY KEY,
					client_id TEXT NOT NULL,
					account_code TEXT NOT NULL,
					date DATE NOT NULL,
					debit TEXT NOT NULL DEFAULT '0',
					credit TEXT NOT NULL DEFAULT '0',
					description TEXT NOT NULL,
					voucher_number TEXT,
					reference TEXT,
					status TEXT NOT NULL DEFAULT 'unmatched'
						CHECK (status IN ('unmatched', 'matched', 'reviewed')),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_ledger_entries_scope ON ledger_entries(client_id, date)`,
				`CREATE INDEX idx_ledger_entries_status ON ledger_entries(client_id, status)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Matches and matching rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS matching_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					client_id TEXT NOT NULL,
					name TEXT NOT NULL,
					kind TEXT NOT NULL,
					params TEXT NOT NULL DEFAULT '{}',
					priority INTEGER NOT NULL DEFAULT 100,
					enabled INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_matching_rules_order ON matching_rules(client_id, enabled, priority, id)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					client_id TEXT NOT NULL,
					bank_transaction_id TEXT NOT NULL REFERENCES bank_transactions(id),
					ledger_entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
					match_type TEXT NOT NULL CHECK (match_type IN ('auto', 'manual', 'rule')),
					score INTEGER,
					rule_id INTEGER REFERENCES matching_rules(id),
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					created_by TEXT NOT NULL,
					unmatched_at DATETIME,
					unmatched_by TEXT
				)`,
				// At most one active match per side; history rows stay with active = 0.
				`CREATE UNIQUE INDEX idx_matches_active_txn ON matches(bank_transaction_id) WHERE active = 1`,
				`CREATE UNIQUE INDEX idx_matches_active_entry ON matches(ledger_entry_id) WHERE active = 1`,
				`CREATE INDEX idx_matches_client ON matches(client_id, active)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Review queue, feedback and thresholds",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS review_items (
					id TEXT PRIMARY KEY,
					client_id TEXT NOT NULL,
					subject_ref TEXT NOT NULL,
					amount TEXT NOT NULL,
					description TEXT,
					suggested_account TEXT NOT NULL,
					suggested_vat TEXT NOT NULL,
					account_confidence REAL NOT NULL,
					vat_confidence REAL NOT NULL,
					global_confidence REAL NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING'
						CHECK (status IN ('PENDING', 'APPROVED', 'CORRECTED', 'REJECTED')),
					final_account TEXT,
					final_vat TEXT,
					voucher_id TEXT,
					resolved_at DATETIME,
					resolved_by TEXT,
					notes TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_review_items_queue ON review_items(client_id, status, created_at)`,

				`CREATE TABLE IF NOT EXISTS feedback_records (
					id TEXT PRIMARY KEY,
					item_id TEXT NOT NULL REFERENCES review_items(id),
					client_id TEXT NOT NULL,
					resolution TEXT NOT NULL CHECK (resolution IN ('approved', 'corrected', 'rejected')),
					suggested_account TEXT NOT NULL,
					suggested_vat TEXT NOT NULL,
					final_account TEXT,
					final_vat TEXT,
					account_correct INTEGER NOT NULL,
					vat_correct INTEGER NOT NULL,
					fully_correct INTEGER NOT NULL,
					recorded_at DATETIME NOT NULL,
					recorded_by TEXT NOT NULL
				)`,
				`CREATE INDEX idx_feedback_client ON feedback_records(client_id, recorded_at)`,
				`CREATE INDEX idx_feedback_item ON feedback_records(item_id)`,

				`CREATE TABLE IF NOT EXISTS thresholds (
					client_id TEXT PRIMARY KEY,
					account REAL NOT NULL CHECK (account BETWEEN 0 AND 100),
					vat REAL NOT NULL CHECK (vat BETWEEN 0 AND 100),
					global REAL NOT NULL CHECK (global BETWEEN 0 AND 100),
					updated_at DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Audit log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					client_id TEXT NOT NULL,
					action TEXT NOT NULL,
					subject_id TEXT NOT NULL,
					actor TEXT NOT NULL,
					detail TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_audit_log_subject ON audit_log(subject_id, id)`,
				`CREATE INDEX idx_audit_log_client ON audit_log(client_id, id)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: schema version mismatch: expected %d, got %d",
			common.ErrDatabaseCorrupted, ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
