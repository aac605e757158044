package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func bankTxn(id, client string, d int, amount string) model.BankTransaction {
	return model.BankTransaction{
		ID:          id,
		ClientID:    client,
		AccountID:   "1920",
		Date:        day(d),
		Amount:      decimal.RequireFromString(amount),
		Description: "Payment " + id,
	}
}

func ledgerEntry(id, client string, d int, debit string) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          id,
		ClientID:    client,
		AccountCode: "1920",
		Date:        day(d),
		Debit:       decimal.RequireFromString(debit),
		Description: "Invoice " + id,
	}
}

func seed(t *testing.T, s *SQLiteStorage, txns []model.BankTransaction, entries []model.LedgerEntry) {
	t.Helper()
	ctx := context.Background()
	if len(txns) > 0 {
		_, err := s.SaveBankTransactions(ctx, txns)
		require.NoError(t, err)
	}
	if len(entries) > 0 {
		_, err := s.SaveLedgerEntries(ctx, entries)
		require.NoError(t, err)
	}
}

func intPtr(v int) *int { return &v }

func TestSQLiteStorage_SaveBankTransactions(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	txns := []model.BankTransaction{
		bankTxn("t1", "c1", 1, "100.00"),
		bankTxn("t2", "c1", 2, "-50.25"),
	}

	n, err := s.SaveBankTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-importing the same statement inserts nothing.
	n, err = s.SaveBankTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.GetBankTransaction(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("-50.25")))
	assert.Equal(t, model.StatusUnmatched, got.Status)
	assert.Equal(t, "NOK", got.Currency)
	assert.True(t, got.Date.Equal(day(2)))

	_, err = s.GetBankTransaction(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_SaveBankTransactionsValidation(t *testing.T) {
	s := createTestStorage(t)

	bad := bankTxn("t1", "", 1, "10")
	_, err := s.SaveBankTransactions(context.Background(), []model.BankTransaction{bad})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = s.SaveBankTransactions(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestSQLiteStorage_ListBankTransactionsScope(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	other := bankTxn("t3", "c1", 3, "30")
	other.AccountID = "1921"
	seed(t, s, []model.BankTransaction{
		bankTxn("t2", "c1", 5, "20"),
		bankTxn("t1", "c1", 1, "10"),
		other,
		bankTxn("x1", "c2", 1, "10"),
	}, nil)

	tests := []struct {
		name  string
		scope model.Scope
		want  []string
	}{
		{
			name:  "client only, date ordered",
			scope: model.Scope{ClientID: "c1"},
			want:  []string{"t1", "t3", "t2"},
		},
		{
			name:  "account filter",
			scope: model.Scope{ClientID: "c1", AccountID: "1920"},
			want:  []string{"t1", "t2"},
		},
		{
			name:  "period filter is inclusive",
			scope: model.Scope{ClientID: "c1", Period: &model.DateRange{Start: day(3), End: day(5)}},
			want:  []string{"t3", "t2"},
		},
		{
			name:  "other client sees only its own",
			scope: model.Scope{ClientID: "c2"},
			want:  []string{"x1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListBankTransactions(ctx, service.TransactionFilter{Scope: tt.scope})
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, txn := range got {
				ids = append(ids, txn.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err := s.ListBankTransactions(ctx, service.TransactionFilter{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSQLiteStorage_SaveLedgerEntriesKeepsStatus(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s, []model.BankTransaction{bankTxn("t1", "c1", 1, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100")})

	_, err := s.CreateMatch(ctx, model.NewMatch{
		BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "alice",
	})
	require.NoError(t, err)

	updated := ledgerEntry("e1", "c1", 1, "100")
	updated.Description = "Invoice 1001 corrected"
	_, err = s.SaveLedgerEntries(ctx, []model.LedgerEntry{updated})
	require.NoError(t, err)

	got, err := s.GetLedgerEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice 1001 corrected", got.Description)
	assert.Equal(t, model.StatusMatched, got.Status)
}

func TestSQLiteStorage_LedgerEntryValidation(t *testing.T) {
	s := createTestStorage(t)
	both := ledgerEntry("e1", "c1", 1, "100")
	both.Credit = decimal.NewFromInt(5)

	_, err := s.SaveLedgerEntries(context.Background(), []model.LedgerEntry{both})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestSQLiteStorage_MatchRoundTrip(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s,
		[]model.BankTransaction{bankTxn("t1", "c1", 1, "100"), bankTxn("t2", "c1", 2, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100"), ledgerEntry("e2", "c1", 2, "100")})

	scope := model.Scope{ClientID: "c1"}
	before, err := s.ListUnmatched(ctx, scope)
	require.NoError(t, err)
	require.Len(t, before.Transactions, 2)
	require.Len(t, before.Entries, 2)

	record, err := s.CreateMatch(ctx, model.NewMatch{
		BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeAuto, Score: intPtr(95), Actor: "system",
	})
	require.NoError(t, err)
	assert.True(t, record.Active)
	assert.Equal(t, "c1", record.ClientID)
	_, err = uuid.Parse(record.ID)
	assert.NoError(t, err)

	during, err := s.ListUnmatched(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, during.Transactions, 1)
	assert.Len(t, during.Entries, 1)

	matched, err := s.ListMatched(ctx, scope)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.NotNil(t, matched[0].Score)
	assert.Equal(t, 95, *matched[0].Score)

	unmatched, err := s.Unmatch(ctx, record.ID, "bob")
	require.NoError(t, err)
	assert.False(t, unmatched.Active)
	assert.Equal(t, "bob", unmatched.UnmatchedBy)

	after, err := s.ListUnmatched(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// History is kept.
	stored, err := s.GetMatch(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.UnmatchedAt)

	audit, err := s.ListMatchAudit(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, model.AuditMatchCreated, audit[0].Action)
	assert.Equal(t, "system", audit[0].Actor)
	assert.Equal(t, model.AuditMatchUnmatched, audit[1].Action)
	assert.Equal(t, "bob", audit[1].Actor)
}

func TestSQLiteStorage_CreateMatchConflicts(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s,
		[]model.BankTransaction{bankTxn("t1", "c1", 1, "100"), bankTxn("t2", "c1", 1, "100"), bankTxn("x1", "c2", 1, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100"), ledgerEntry("e2", "c1", 1, "100")})

	_, err := s.CreateMatch(ctx, model.NewMatch{BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "a"})
	require.NoError(t, err)

	tests := []struct {
		wantErr error
		name    string
		match   model.NewMatch
	}{
		{
			name:    "transaction already matched",
			match:   model.NewMatch{BankTransactionID: "t1", LedgerEntryID: "e2", Type: model.MatchTypeManual, Actor: "a"},
			wantErr: common.ErrConflict,
		},
		{
			name:    "entry already matched",
			match:   model.NewMatch{BankTransactionID: "t2", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "a"},
			wantErr: common.ErrConflict,
		},
		{
			name:    "unknown transaction",
			match:   model.NewMatch{BankTransactionID: "nope", LedgerEntryID: "e2", Type: model.MatchTypeManual, Actor: "a"},
			wantErr: common.ErrNotFound,
		},
		{
			name:    "cross client",
			match:   model.NewMatch{BankTransactionID: "x1", LedgerEntryID: "e2", Type: model.MatchTypeManual, Actor: "a"},
			wantErr: common.ErrValidation,
		},
		{
			name:    "rule match needs rule",
			match:   model.NewMatch{BankTransactionID: "t2", LedgerEntryID: "e2", Type: model.MatchTypeRule, Actor: "a"},
			wantErr: common.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateMatch(ctx, tt.match)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Failed attempts leave no partial state.
	txn, err := s.GetBankTransaction(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, txn.Status)
	entry, err := s.GetLedgerEntry(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, entry.Status)
}

func TestSQLiteStorage_ConcurrentCreateMatch(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s, []model.BankTransaction{bankTxn("t1", "c1", 1, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100"), ledgerEntry("e2", "c1", 1, "100")})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, entryID := range []string{"e1", "e2"} {
		wg.Add(1)
		go func(i int, entryID string) {
			defer wg.Done()
			_, errs[i] = s.CreateMatch(ctx, model.NewMatch{
				BankTransactionID: "t1", LedgerEntryID: entryID, Type: model.MatchTypeManual, Actor: "a",
			})
		}(i, entryID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, common.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	matched, err := s.ListMatched(ctx, model.Scope{ClientID: "c1"})
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestSQLiteStorage_UniqueIndexBacksInvariant(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s, []model.BankTransaction{bankTxn("t1", "c1", 1, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100"), ledgerEntry("e2", "c1", 1, "100")})

	_, err := s.CreateMatch(ctx, model.NewMatch{BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "a"})
	require.NoError(t, err)

	// Bypass the application check and hit the partial index directly.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches (id, client_id, bank_transaction_id, ledger_entry_id, match_type, active, created_at, created_by)
		VALUES ('raw', 'c1', 't1', 'e2', 'manual', 1, ?, 'a')
	`, time.Now())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.True(t, errors.Is(conflictOr(err, "insert"), common.ErrConflict))
}

func TestSQLiteStorage_UnmatchEdgeCases(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()
	seed(t, s, []model.BankTransaction{bankTxn("t1", "c1", 1, "100")},
		[]model.LedgerEntry{ledgerEntry("e1", "c1", 1, "100")})

	_, err := s.Unmatch(ctx, "no-such-match", "a")
	assert.ErrorIs(t, err, common.ErrNotFound)

	record, err := s.UnmatchTransaction(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Nil(t, record, "unmatching an unmatched transaction is a no-op")

	_, err = s.UnmatchTransaction(ctx, "missing", "a")
	assert.ErrorIs(t, err, common.ErrNotFound)

	created, err := s.CreateMatch(ctx, model.NewMatch{BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "a"})
	require.NoError(t, err)

	record, err = s.UnmatchTransaction(ctx, "t1", "b")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, created.ID, record.ID)

	// Second unmatch of the same record changes nothing.
	again, err := s.Unmatch(ctx, created.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, "b", again.UnmatchedBy)

	audit, err := s.ListMatchAudit(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 2)

	// The pair can be matched again once released.
	_, err = s.CreateMatch(ctx, model.NewMatch{BankTransactionID: "t1", LedgerEntryID: "e1", Type: model.MatchTypeManual, Actor: "a"})
	assert.NoError(t, err)
}

func TestSQLiteStorage_Rules(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	rules := []*model.MatchingRule{
		{ClientID: "c1", Name: "late", Kind: model.RuleKIDExact, Priority: 20, Enabled: true},
		{ClientID: "c1", Name: "early", Kind: model.RuleAmountTolerance, Priority: 10, Enabled: true,
			Params: []byte(`{"tolerance":"0.50"}`)},
		{ClientID: "c1", Name: "tie", Kind: model.RuleKIDExact, Priority: 20, Enabled: true},
		{ClientID: "c2", Name: "other", Kind: model.RuleKIDExact, Priority: 1, Enabled: true},
	}
	for _, r := range rules {
		require.NoError(t, s.CreateRule(ctx, r, "admin"))
		assert.NotZero(t, r.ID)
	}

	got, err := s.ListRules(ctx, "c1", true)
	require.NoError(t, err)
	names := []string{}
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"early", "late", "tie"}, names)
	assert.JSONEq(t, `{"tolerance":"0.50"}`, string(got[0].Params))
	assert.JSONEq(t, `{}`, string(got[1].Params))

	require.NoError(t, s.SetRuleEnabled(ctx, rules[0].ID, false, "admin"))
	got, err = s.ListRules(ctx, "c1", true)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := s.ListRules(ctx, "c1", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, s.SetRuleEnabled(ctx, 9999, false, "admin"), common.ErrNotFound)
	assert.ErrorIs(t, s.CreateRule(ctx, &model.MatchingRule{ClientID: "c1", Name: "bad", Kind: model.RuleKIDExact,
		Params: []byte(`{not json`)}, "admin"), common.ErrValidation)
}

func pendingItem(client string) *model.ReviewQueueItem {
	return &model.ReviewQueueItem{
		ID:               uuid.NewString(),
		ClientID:         client,
		SubjectRef:       "INV-1001",
		Amount:           decimal.RequireFromString("1250.00"),
		Description:      "Office chairs",
		SuggestedAccount: "6340",
		SuggestedVAT:     "1",
		Confidence:       model.Confidence{Account: 70, VAT: 90, Global: 75},
		Status:           model.ReviewPending,
	}
}

func feedbackFor(item *model.ReviewQueueItem, res model.Resolution) model.FeedbackRecord {
	return model.FeedbackRecord{
		ID:               uuid.NewString(),
		ItemID:           item.ID,
		ClientID:         item.ClientID,
		Resolution:       res,
		SuggestedAccount: item.SuggestedAccount,
		SuggestedVAT:     item.SuggestedVAT,
		FinalAccount:     item.SuggestedAccount,
		FinalVAT:         item.SuggestedVAT,
		AccountCorrect:   true,
		VATCorrect:       true,
		FullyCorrect:     true,
		RecordedBy:       "alice",
	}
}

func TestSQLiteStorage_ReviewItemLifecycle(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	item := pendingItem("c1")
	require.NoError(t, s.CreateReviewItem(ctx, item))

	pending, err := s.ListReviewItems(ctx, service.ReviewFilter{ClientID: "c1", Status: model.ReviewPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.Confidence{Account: 70, VAT: 90, Global: 75}, pending[0].Confidence)

	posted := 0
	resolved, err := s.ResolveReviewItem(ctx, service.Resolution{
		ItemID:       item.ID,
		Status:       model.ReviewApproved,
		FinalAccount: "6340",
		FinalVAT:     "1",
		Actor:        "alice",
		Feedback:     feedbackFor(item, model.ResolutionApproved),
	}, func(_ context.Context, got model.ReviewQueueItem) (string, error) {
		posted++
		assert.Equal(t, model.ReviewApproved, got.Status)
		return "V-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, posted)
	assert.Equal(t, model.ReviewApproved, resolved.Status)
	assert.Equal(t, "V-1", resolved.VoucherID)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = s.ResolveReviewItem(ctx, service.Resolution{
		ItemID: item.ID, Status: model.ReviewRejected, Actor: "bob",
		Feedback: feedbackFor(item, model.ResolutionRejected),
	}, nil)
	assert.ErrorIs(t, err, common.ErrConflict)

	records, err := s.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = s.ResolveReviewItem(ctx, service.Resolution{
		ItemID: "missing", Status: model.ReviewApproved, Actor: "bob",
	}, nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_ResolveRollsBackOnPostFailure(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	item := pendingItem("c1")
	require.NoError(t, s.CreateReviewItem(ctx, item))

	_, err := s.ResolveReviewItem(ctx, service.Resolution{
		ItemID: item.ID, Status: model.ReviewApproved, Actor: "alice",
		Feedback: feedbackFor(item, model.ResolutionApproved),
	}, func(context.Context, model.ReviewQueueItem) (string, error) {
		return "", errors.New("ledger offline")
	})
	require.ErrorIs(t, err, common.ErrPostingFailed)

	got, err := s.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, got.Status)
	assert.Nil(t, got.ResolvedAt)

	records, err := s.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLiteStorage_FeedbackFilters(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	item := pendingItem("c1")
	require.NoError(t, s.CreateReviewItem(ctx, item))

	old := feedbackFor(item, model.ResolutionApproved)
	old.RecordedAt = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendFeedback(ctx, &old))

	recent := feedbackFor(item, model.ResolutionCorrected)
	recent.RecordedAt = time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendFeedback(ctx, &recent))

	feb, err := s.ListFeedback(ctx, service.FeedbackFilter{
		ClientID: "c1",
		Period:   &model.DateRange{Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, recent.ID, feb[0].ID)

	limited, err := s.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, old.ID, limited[0].ID)

	none, err := s.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStorage_Thresholds(t *testing.T) {
	s := createTestStorage(t)
	ctx := context.Background()

	cfg, err := s.GetThresholds(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultThresholds("c1"), cfg)

	require.NoError(t, s.SaveThresholds(ctx, model.ThresholdConfig{ClientID: "c1", Account: 60, VAT: 70, Global: 65}, "admin"))
	cfg, err = s.GetThresholds(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 60, cfg.Account, 0.001)
	assert.InDelta(t, 70, cfg.VAT, 0.001)
	assert.InDelta(t, 65, cfg.Global, 0.001)

	err = s.SaveThresholds(ctx, model.ThresholdConfig{ClientID: "c1", Account: 101, VAT: 70, Global: 65}, "admin")
	assert.ErrorIs(t, err, common.ErrValidation)

	events, err := s.ListAuditEvents(ctx, service.AuditFilter{ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.AuditThresholdsUpdated, events[0].Action)
}
