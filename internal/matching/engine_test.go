package matching

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func txn(id string, d int, amount string) model.BankTransaction {
	return model.BankTransaction{
		ID:          id,
		ClientID:    "c1",
		AccountID:   "acct",
		Date:        day(d),
		Amount:      decimal.RequireFromString(amount),
		Description: "Innbetaling",
		Status:      model.StatusUnmatched,
	}
}

func entry(id string, d int, debit string) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          id,
		ClientID:    "c1",
		AccountCode: "1500",
		Date:        day(d),
		Debit:       decimal.RequireFromString(debit),
		Status:      model.StatusUnmatched,
	}
}

func withKID(t model.BankTransaction, kid string) model.BankTransaction {
	t.KID = kid
	return t
}

func withRef(e model.LedgerEntry, ref string) model.LedgerEntry {
	e.Reference = ref
	return e
}

func bucketOf(res Result) map[string]Outcome {
	out := make(map[string]Outcome)
	for _, am := range res.AutoMatched {
		if am.Type == model.MatchTypeRule {
			out[am.Transaction.ID] = OutcomeRule
		} else {
			out[am.Transaction.ID] = OutcomeAuto
		}
	}
	for _, s := range res.Suggested {
		out[s.Transaction.ID] = OutcomeSuggested
	}
	for _, u := range res.Unmatched {
		out[u.Transaction.ID] = OutcomeUnmatched
	}
	return out
}

func TestReconcile_Partition(t *testing.T) {
	txns := []model.BankTransaction{
		withKID(txn("t1", 10, "5000.00"), "123456"),
		txn("t2", 10, "750.00"),
		txn("t3", 10, "1000.00"),
	}
	entries := []model.LedgerEntry{
		withRef(entry("e1", 10, "5000.00"), "123456"),
		entry("e2", 13, "750.00"),
		entry("e3", 10, "2000.00"),
	}

	res := New().Reconcile(txns, entries, nil)

	assert.Equal(t, map[string]Outcome{
		"t1": OutcomeAuto,
		"t2": OutcomeSuggested,
		"t3": OutcomeUnmatched,
	}, bucketOf(res))
	assert.Len(t, res.AutoMatched, 1)
	assert.Len(t, res.Suggested, 1)
	assert.Len(t, res.Unmatched, 1)

	auto := res.AutoMatched[0]
	assert.Equal(t, "e1", auto.Entry.ID)
	require.NotNil(t, auto.Score)
	assert.Equal(t, 90, *auto.Score)
	assert.Nil(t, auto.RuleID)

	assert.Equal(t, "e2", res.Suggested[0].Entry.ID)
	assert.Equal(t, 55, res.Suggested[0].Score.Points)

	assert.True(t, res.Unmatched[0].HadCandidates)
	assert.Equal(t, 30, res.Unmatched[0].BestScore)
}

func TestReconcile_AutoMatchConsumesEntry(t *testing.T) {
	txns := []model.BankTransaction{
		withKID(txn("late", 12, "400.00"), "42"),
		withKID(txn("early", 11, "400.00"), "42"),
	}
	entries := []model.LedgerEntry{withRef(entry("e1", 11, "400.00"), "42")}

	res := New().Reconcile(txns, entries, nil)

	require.Len(t, res.AutoMatched, 1)
	assert.Equal(t, "early", res.AutoMatched[0].Transaction.ID)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, "late", res.Unmatched[0].Transaction.ID)
	assert.False(t, res.Unmatched[0].HadCandidates)
}

func TestReconcile_SuggestionsDoNotConsume(t *testing.T) {
	txns := []model.BankTransaction{txn("t1", 10, "300.00"), txn("t2", 10, "300.00")}
	entries := []model.LedgerEntry{entry("e1", 12, "300.00")}

	res := New().Reconcile(txns, entries, nil)

	require.Len(t, res.Suggested, 2)
	assert.Equal(t, "e1", res.Suggested[0].Entry.ID)
	assert.Equal(t, "e1", res.Suggested[1].Entry.ID)
	assert.Empty(t, res.AutoMatched)
}

func TestReconcile_RulesRunBeforeScoring(t *testing.T) {
	rent := txn("t1", 1, "-12000.00")
	rent.Description = "Husleie mars"
	landlord := model.LedgerEntry{
		ID: "e1", ClientID: "c1", AccountCode: "6300", Date: day(1),
		Credit: decimal.RequireFromString("12000.00"), Status: model.StatusUnmatched,
	}
	defs := []model.MatchingRule{{
		ID:       7,
		ClientID: "c1",
		Name:     "rent",
		Kind:     model.RuleDescriptionContains,
		Params:   json.RawMessage(`{"text":"husleie","account_code":"6300"}`),
		Priority: 1,
		Enabled:  true,
	}}

	res := New().Reconcile([]model.BankTransaction{rent}, []model.LedgerEntry{landlord}, defs)

	require.Len(t, res.AutoMatched, 1)
	am := res.AutoMatched[0]
	assert.Equal(t, model.MatchTypeRule, am.Type)
	require.NotNil(t, am.RuleID)
	assert.Equal(t, int64(7), *am.RuleID)
	assert.Equal(t, "rent", am.RuleName)
	assert.Nil(t, am.Score)

	nm := am.NewMatch(SystemActor)
	assert.Equal(t, "t1", nm.BankTransactionID)
	assert.Equal(t, "e1", nm.LedgerEntryID)
	assert.Equal(t, SystemActor, nm.Actor)
}

func TestReconcile_TieBreaks(t *testing.T) {
	t.Run("closest date wins on equal score", func(t *testing.T) {
		// Both entries are outside the date window so only amount and KID score.
		tx := withKID(txn("t1", 10, "100.00"), "777")
		far := withRef(entry("a", 20, "100.00"), "777")
		near := withRef(entry("b", 16, "100.00"), "777")

		res := New().Reconcile([]model.BankTransaction{tx}, []model.LedgerEntry{far, near}, nil)

		require.Len(t, res.Suggested, 1)
		assert.Equal(t, "b", res.Suggested[0].Entry.ID)
		assert.Equal(t, 60, res.Suggested[0].Score.Points)
	})

	t.Run("lowest ID wins on equal score and distance", func(t *testing.T) {
		tx := txn("t1", 10, "100.00")

		res := New().Reconcile([]model.BankTransaction{tx},
			[]model.LedgerEntry{entry("e9", 11, "100.00"), entry("e2", 9, "100.00")}, nil)

		require.Len(t, res.Suggested, 1)
		assert.Equal(t, "e2", res.Suggested[0].Entry.ID)
	})
}

func TestReconcile_ClientIsolation(t *testing.T) {
	tx := withKID(txn("t1", 10, "5000.00"), "1")
	other := withRef(entry("e1", 10, "5000.00"), "1")
	other.ClientID = "c2"

	res := New().Reconcile([]model.BankTransaction{tx}, []model.LedgerEntry{other}, nil)

	assert.Empty(t, res.AutoMatched)
	require.Len(t, res.Unmatched, 1)
	assert.False(t, res.Unmatched[0].HadCandidates)
}

func TestReconcile_IgnoresClosedItems(t *testing.T) {
	matched := withKID(txn("t1", 10, "5000.00"), "1")
	matched.Status = model.StatusMatched
	open := withKID(txn("t2", 10, "5000.00"), "1")
	closed := withRef(entry("e1", 10, "5000.00"), "1")
	closed.Status = model.StatusMatched

	res := New().Reconcile([]model.BankTransaction{matched, open}, []model.LedgerEntry{closed}, nil)

	assert.Equal(t, map[string]Outcome{"t2": OutcomeUnmatched}, bucketOf(res))
}

func TestReconcile_Deterministic(t *testing.T) {
	var txns []model.BankTransaction
	var entries []model.LedgerEntry
	for i := 1; i <= 12; i++ {
		amount := decimal.NewFromInt(int64(100 * (i%4 + 1))).String()
		txns = append(txns, txn("t"+string(rune('a'+i)), i%5+1, amount))
		entries = append(entries, entry("e"+string(rune('a'+i)), i%6+1, amount))
	}

	engine := New()
	want := engine.Reconcile(txns, entries, nil)

	rng := rand.New(rand.NewSource(1))
	for range 5 {
		rng.Shuffle(len(txns), func(i, j int) { txns[i], txns[j] = txns[j], txns[i] })
		rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

		got := engine.Reconcile(txns, entries, nil)
		assert.Equal(t, want, got)
	}

	// Every transaction lands in exactly one bucket and no entry is auto matched twice.
	assert.Len(t, bucketOf(want), len(txns))
	assert.Equal(t, len(txns), len(want.AutoMatched)+len(want.Suggested)+len(want.Unmatched))
	seen := map[string]bool{}
	for _, am := range want.AutoMatched {
		assert.False(t, seen[am.Entry.ID], "entry %s matched twice", am.Entry.ID)
		seen[am.Entry.ID] = true
	}
}

func TestReconcile_Progress(t *testing.T) {
	var calls [][2]int
	New().ReconcileWithProgress(
		[]model.BankTransaction{txn("t1", 1, "1"), txn("t2", 2, "2")},
		nil, nil,
		func(done, total int) { calls = append(calls, [2]int{done, total}) },
	)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestClassify(t *testing.T) {
	e := New()
	assert.Equal(t, OutcomeAuto, e.Classify(100))
	assert.Equal(t, OutcomeAuto, e.Classify(85))
	assert.Equal(t, OutcomeSuggested, e.Classify(84))
	assert.Equal(t, OutcomeSuggested, e.Classify(50))
	assert.Equal(t, OutcomeUnmatched, e.Classify(49))
	assert.Equal(t, OutcomeUnmatched, e.Classify(0))
}
