package review

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/booking"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/testutil"
)

func setup(t *testing.T) (*Engine, *testutil.TestDB, *booking.MockBooker) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	booker := booking.NewMockBooker()
	return NewEngine(db.Storage, booker), db, booker
}

func suggestion(ref string, account, vat, global float64) model.Suggestion {
	return model.Suggestion{
		ClientID:    "c1",
		SubjectRef:  ref,
		AccountCode: "6340",
		VATCode:     "1",
		Description: "Kontorrekvisita",
		Amount:      decimal.RequireFromString("1250.00"),
		Confidence:  model.Confidence{Account: account, VAT: vat, Global: global},
	}
}

func queue(t *testing.T, e *Engine, ref string) *model.ReviewQueueItem {
	t.Helper()
	d, err := e.Submit(context.Background(), suggestion(ref, 60, 60, 60), model.DefaultThresholds("c1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, d.Outcome)
	return d.Item
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	thresholds := model.DefaultThresholds("c1")

	t.Run("clearing every threshold posts directly", func(t *testing.T) {
		e, db, booker := setup(t)

		d, err := e.Submit(ctx, suggestion("INV-1", 80, 85, 99), thresholds)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAutoPosted, d.Outcome)
		assert.Equal(t, "V-1", d.VoucherID)
		assert.Nil(t, d.Item)

		posted := booker.Posted()
		require.Len(t, posted, 1)
		assert.Equal(t, "6340", posted[0].AccountCode)
		assert.Empty(t, posted[0].ItemID)

		items, err := db.Storage.ListReviewItems(ctx, service.ReviewFilter{ClientID: "c1"})
		require.NoError(t, err)
		assert.Empty(t, items)
		records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1"})
		require.NoError(t, err)
		assert.Empty(t, records)

		events, err := db.Storage.ListAuditEvents(ctx, service.AuditFilter{ClientID: "c1", SubjectID: "INV-1"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.AuditSuggestionPosted, events[0].Action)
	})

	t.Run("one low score queues the suggestion", func(t *testing.T) {
		e, db, booker := setup(t)

		d, err := e.Submit(ctx, suggestion("INV-2", 95, 84.9, 95), thresholds)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, d.Outcome)
		require.NotNil(t, d.Item)
		assert.Equal(t, model.ReviewPending, d.Item.Status)
		assert.Empty(t, booker.Posted())

		stored, err := db.Storage.GetReviewItem(ctx, d.Item.ID)
		require.NoError(t, err)
		assert.Equal(t, "6340", stored.SuggestedAccount)
		assert.InDelta(t, 84.9, stored.Confidence.VAT, 0.001)
	})

	t.Run("stored thresholds apply per client", func(t *testing.T) {
		e, db, _ := setup(t)
		require.NoError(t, db.Storage.SaveThresholds(ctx, model.ThresholdConfig{
			ClientID: "c1", Account: 50, VAT: 50, Global: 50,
		}, "admin"))

		d, err := e.SubmitForClient(ctx, suggestion("INV-3", 60, 60, 60))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAutoPosted, d.Outcome)
	})

	t.Run("booking failure is reported", func(t *testing.T) {
		e, _, booker := setup(t)
		booker.Err = errors.New("ledger offline")

		_, err := e.Submit(ctx, suggestion("INV-4", 100, 100, 100), thresholds)
		assert.ErrorIs(t, err, common.ErrPostingFailed)
	})

	t.Run("invalid suggestions", func(t *testing.T) {
		e, _, _ := setup(t)

		bad := suggestion("INV-5", 101, 0, 0)
		_, err := e.Submit(ctx, bad, thresholds)
		assert.ErrorIs(t, err, common.ErrValidation)

		bad = suggestion("", 10, 10, 10)
		_, err = e.Submit(ctx, bad, thresholds)
		assert.ErrorIs(t, err, common.ErrValidation)

		bad = suggestion("INV-6", math.NaN(), 100, 100)
		_, err = e.Submit(ctx, bad, thresholds)
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestApprove_RecordsFullyCorrectFeedback(t *testing.T) {
	ctx := context.Background()
	e, db, booker := setup(t)
	item := queue(t, e, "INV-1")

	resolved, err := e.Approve(ctx, item.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, resolved.Status)
	assert.Equal(t, "6340", resolved.FinalAccount)
	assert.Equal(t, "V-1", resolved.VoucherID)

	posted := booker.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, item.ID, posted[0].ItemID)
	assert.Equal(t, "6340", posted[0].AccountCode)

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].AccountCorrect)
	assert.True(t, records[0].VATCorrect)
	assert.True(t, records[0].FullyCorrect)
	assert.Equal(t, "alice", records[0].RecordedBy)
}

func TestCorrect(t *testing.T) {
	ctx := context.Background()
	e, db, booker := setup(t)
	item := queue(t, e, "INV-1")

	_, err := e.Correct(ctx, item.ID, "alice", model.Correction{Notes: "only a note"})
	require.ErrorIs(t, err, common.ErrValidation)

	resolved, err := e.Correct(ctx, item.ID, "alice", model.Correction{AccountCode: "6300", Notes: "office rent"})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewCorrected, resolved.Status)
	assert.Equal(t, "6300", resolved.FinalAccount)
	assert.Equal(t, "1", resolved.FinalVAT)
	assert.Equal(t, "office rent", resolved.Notes)

	posted := booker.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, "6300", posted[0].AccountCode)

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].AccountCorrect)
	assert.True(t, records[0].VATCorrect)
	assert.False(t, records[0].FullyCorrect)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	e, db, booker := setup(t)
	item := queue(t, e, "INV-1")

	resolved, err := e.Reject(ctx, item.ID, "alice", "duplicate invoice")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewRejected, resolved.Status)
	assert.Empty(t, resolved.VoucherID)
	assert.Empty(t, booker.Posted())

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].AccountCorrect)
	assert.False(t, records[0].VATCorrect)
	assert.False(t, records[0].FullyCorrect)
}

func TestTerminalItemsRejectTransitions(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setup(t)
	item := queue(t, e, "INV-1")

	_, err := e.Reject(ctx, item.ID, "alice", "")
	require.NoError(t, err)

	_, err = e.Approve(ctx, item.ID, "bob")
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = e.Correct(ctx, item.ID, "bob", model.Correction{AccountCode: "6300"})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = e.Reject(ctx, item.ID, "bob", "")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = e.Approve(ctx, "missing", "bob")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = e.Approve(ctx, item.ID, " ")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestConcurrentApprove(t *testing.T) {
	ctx := context.Background()
	e, db, booker := setup(t)
	item := queue(t, e, "INV-1")

	const callers = 2
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Approve(ctx, item.ID, "accountant")
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, booker.Posted(), 1)

	stored, err := db.Storage.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, stored.Status)

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBookingFailureLeavesItemPending(t *testing.T) {
	ctx := context.Background()
	e, db, booker := setup(t)
	item := queue(t, e, "INV-1")
	booker.Err = errors.New("ledger offline")

	_, err := e.Approve(ctx, item.ID, "alice")
	require.ErrorIs(t, err, common.ErrPostingFailed)

	stored, err := db.Storage.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, stored.Status)
	assert.Empty(t, stored.FinalAccount)

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	assert.Empty(t, records)

	booker.Err = nil
	resolved, err := e.Approve(ctx, item.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, resolved.Status)
}

func TestRevise(t *testing.T) {
	ctx := context.Background()
	e, db, _ := setup(t)
	item := queue(t, e, "INV-1")

	_, err := e.Revise(ctx, item.ID, "alice", model.Correction{AccountCode: "6300"})
	require.ErrorIs(t, err, common.ErrInvalidState)

	_, err = e.Approve(ctx, item.ID, "alice")
	require.NoError(t, err)

	_, err = e.Revise(ctx, item.ID, "bob", model.Correction{})
	require.ErrorIs(t, err, common.ErrValidation)

	rec, err := e.Revise(ctx, item.ID, "bob", model.Correction{AccountCode: "6300"})
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionCorrected, rec.Resolution)
	assert.False(t, rec.AccountCorrect)
	assert.Equal(t, "bob", rec.RecordedBy)

	stored, err := db.Storage.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, stored.Status)
	assert.Equal(t, "6340", stored.FinalAccount)

	records, err := db.Storage.ListFeedback(ctx, service.FeedbackFilter{ClientID: "c1", ItemID: item.ID})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPending(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setup(t)
	first := queue(t, e, "INV-1")
	second := queue(t, e, "INV-2")

	_, err := e.Reject(ctx, first.ID, "alice", "")
	require.NoError(t, err)

	pending, err := e.Pending(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}
