package matching

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/testutil"
)

func TestService_Run(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	db.SeedTransactions(
		withKID(txn("t1", 10, "5000.00"), "123456"),
		txn("t2", 10, "750.00"),
		txn("t3", 10, "1000.00"),
	)
	db.SeedEntries(
		withRef(entry("e1", 10, "5000.00"), "123456"),
		entry("e2", 13, "750.00"),
		entry("e3", 10, "2000.00"),
	)

	svc := NewService(db.Storage, nil)
	scope := model.Scope{ClientID: "c1"}

	report, err := svc.Run(ctx, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Transactions)
	assert.Equal(t, 1, report.AutoMatched)
	assert.Equal(t, 1, report.Suggested)
	assert.Equal(t, 1, report.Unmatched)
	assert.True(t, report.MatchedAmount.Equal(decimal.RequireFromString("5000")))
	assert.True(t, report.UnmatchedAmount.Equal(decimal.RequireFromString("1750")))

	matched, err := db.Storage.ListMatched(ctx, scope)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "t1", matched[0].BankTransactionID)
	assert.Equal(t, "e1", matched[0].LedgerEntryID)
	assert.Equal(t, model.MatchTypeAuto, matched[0].Type)
	assert.Equal(t, SystemActor, matched[0].CreatedBy)

	// A second run finds nothing new to link.
	again, err := svc.Run(ctx, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Transactions)
	assert.Zero(t, again.AutoMatched)

	matched, err = db.Storage.ListMatched(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestService_Preview(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	db.SeedTransactions(withKID(txn("t1", 10, "5000.00"), "9"))
	db.SeedEntries(withRef(entry("e1", 10, "5000.00"), "9"))

	report, err := NewService(db.Storage, nil).Preview(ctx, model.Scope{ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutoMatched)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, OutcomeAuto, report.Rows[0].Outcome)

	matched, err := db.Storage.ListMatched(ctx, model.Scope{ClientID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestService_RunWithRules(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	rent := txn("t1", 1, "-12000.00")
	rent.Description = "HUSLEIE MARS"
	db.SeedTransactions(rent)
	db.SeedEntries(model.LedgerEntry{
		ID: "e1", ClientID: "c1", AccountCode: "6300", Date: testutil.Day(1),
		Credit: testutil.Amount(t, "12000.00"),
	})
	rule := &model.MatchingRule{
		ClientID: "c1", Name: "rent", Kind: model.RuleDescriptionContains,
		Params: []byte(`{"text":"husleie"}`), Priority: 1, Enabled: true,
	}
	db.SeedRules(rule)

	report, err := NewService(db.Storage, nil).Run(ctx, model.Scope{ClientID: "c1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RuleMatched)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "rent", report.Rows[0].RuleName)

	matched, err := db.Storage.ListMatched(ctx, model.Scope{ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, model.MatchTypeRule, matched[0].Type)
	require.NotNil(t, matched[0].RuleID)
	assert.Equal(t, rule.ID, *matched[0].RuleID)
}

// conflictStore hands out an open set and refuses every match.
type conflictStore struct {
	service.MatchRepository
	set *service.UnmatchedSet
}

func (s *conflictStore) ListUnmatched(context.Context, model.Scope) (*service.UnmatchedSet, error) {
	return s.set, nil
}

func (s *conflictStore) ListRules(context.Context, string, bool) ([]model.MatchingRule, error) {
	return nil, nil
}

func (s *conflictStore) CreateMatch(_ context.Context, m model.NewMatch) (*model.MatchRecord, error) {
	return nil, fmt.Errorf("%w: entry %s already matched", common.ErrConflict, m.LedgerEntryID)
}

func TestService_RunReportsLostRacesAsConflicts(t *testing.T) {
	store := &conflictStore{set: &service.UnmatchedSet{
		Transactions: []model.BankTransaction{withKID(txn("t1", 10, "5000.00"), "1")},
		Entries:      []model.LedgerEntry{withRef(entry("e1", 10, "5000.00"), "1")},
	}}

	svc := NewService(store, nil)
	svc.now = func() time.Time { return day(31) }

	report, err := svc.Run(context.Background(), model.Scope{ClientID: "c1"}, nil)
	require.NoError(t, err)
	assert.Zero(t, report.AutoMatched)
	assert.Zero(t, report.Unmatched)
	assert.Equal(t, 1, report.Conflicted)
	assert.Equal(t, 1, report.Transactions)
	assert.Equal(t, day(31), report.GeneratedAt)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, OutcomeConflict, row.Outcome)
	assert.Equal(t, "e1", row.EntryID)
	assert.GreaterOrEqual(t, row.Score, 85, "the score that won the pair is kept")
}

func TestService_RunHonorsCancellation(t *testing.T) {
	store := &conflictStore{set: &service.UnmatchedSet{
		Transactions: []model.BankTransaction{withKID(txn("t1", 10, "5000.00"), "1")},
		Entries:      []model.LedgerEntry{withRef(entry("e1", 10, "5000.00"), "1")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(store, nil).Run(ctx, model.Scope{ClientID: "c1"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
