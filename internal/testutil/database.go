// Package testutil provides shared fixtures for tally tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
)

// TestDB represents a migrated in-memory database with fixture helpers.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Day returns midnight UTC of the given day in March 2024.
func Day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

// Amount parses a decimal literal, failing the test on malformed input.
func Amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad amount %q: %v", s, err)
	}
	return d
}

// SeedTransactions stores bank transactions.
func (db *TestDB) SeedTransactions(txns ...model.BankTransaction) {
	db.t.Helper()
	if _, err := db.Storage.SaveBankTransactions(context.Background(), txns); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
}

// SeedEntries stores ledger entries.
func (db *TestDB) SeedEntries(entries ...model.LedgerEntry) {
	db.t.Helper()
	if _, err := db.Storage.SaveLedgerEntries(context.Background(), entries); err != nil {
		db.t.Fatalf("failed to seed ledger entries: %v", err)
	}
}

// SeedRules stores matching rules, assigning their IDs.
func (db *TestDB) SeedRules(rules ...*model.MatchingRule) {
	db.t.Helper()
	for _, r := range rules {
		if err := db.Storage.CreateRule(context.Background(), r, "test"); err != nil {
			db.t.Fatalf("failed to seed rule %q: %v", r.Name, err)
		}
	}
}
