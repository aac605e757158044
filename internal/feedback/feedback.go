// Package feedback compares AI suggestions with accountant decisions and
// aggregates the result into accuracy metrics and training data.
package feedback

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Final holds the values a resolution settled on. Empty fields on a
// correction fall back to the suggested value.
type Final struct {
	AccountCode string
	VATCode     string
}

// Build derives a feedback record from a review item and its resolution.
// It is pure: the record gets a fresh ID but no timestamp or author.
func Build(item model.ReviewQueueItem, resolution model.Resolution, final Final) (model.FeedbackRecord, error) {
	rec := model.FeedbackRecord{
		ID:               uuid.New().String(),
		ItemID:           item.ID,
		ClientID:         item.ClientID,
		Resolution:       resolution,
		SuggestedAccount: item.SuggestedAccount,
		SuggestedVAT:     item.SuggestedVAT,
	}

	switch resolution {
	case model.ResolutionApproved:
		rec.FinalAccount = item.SuggestedAccount
		rec.FinalVAT = item.SuggestedVAT
	case model.ResolutionCorrected:
		rec.FinalAccount = orDefault(final.AccountCode, item.SuggestedAccount)
		rec.FinalVAT = orDefault(final.VATCode, item.SuggestedVAT)
	case model.ResolutionRejected:
		// Nothing was posted, so nothing was correct.
		return rec, nil
	default:
		return model.FeedbackRecord{}, common.Validationf("unknown resolution %q", resolution)
	}

	rec.AccountCorrect = rec.FinalAccount == rec.SuggestedAccount
	rec.VATCorrect = rec.FinalVAT == rec.SuggestedVAT
	rec.FullyCorrect = rec.AccountCorrect && rec.VATCorrect
	return rec, nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

// Recorder appends feedback records and reads them back as metrics.
type Recorder struct {
	store service.FeedbackStore
	now   func() time.Time
}

// NewRecorder creates a recorder over store.
func NewRecorder(store service.FeedbackStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record builds and appends a feedback record outside of any resolution.
// Review resolutions write their feedback atomically through the review
// store; Record serves later revisions.
func (r *Recorder) Record(ctx context.Context, item model.ReviewQueueItem, resolution model.Resolution,
	final Final, actor string,
) (*model.FeedbackRecord, error) {
	rec, err := Build(item, resolution, final)
	if err != nil {
		return nil, err
	}
	rec.RecordedBy = actor
	rec.RecordedAt = r.now().UTC()

	if err := r.store.AppendFeedback(ctx, &rec); err != nil {
		return nil, fmt.Errorf("failed to append feedback for %s: %w", item.ID, err)
	}
	return &rec, nil
}

// AggregateAccuracy summarizes a client's feedback over an optional period.
// Only the latest record per item counts, so revisions replace earlier
// verdicts. Percentages are over all counted items, rejected ones included.
func (r *Recorder) AggregateAccuracy(ctx context.Context, clientID string, period *model.DateRange) (model.AccuracySummary, error) {
	records, err := r.store.ListFeedback(ctx, service.FeedbackFilter{ClientID: clientID, Period: period})
	if err != nil {
		return model.AccuracySummary{}, fmt.Errorf("failed to load feedback: %w", err)
	}
	return Summarize(clientID, latestPerItem(records)), nil
}

// Summarize aggregates records as given.
func Summarize(clientID string, records []model.FeedbackRecord) model.AccuracySummary {
	sum := model.AccuracySummary{ClientID: clientID, Total: len(records)}
	var account, vat, full int
	for _, rec := range records {
		switch rec.Resolution {
		case model.ResolutionApproved:
			sum.ApprovedCount++
		case model.ResolutionCorrected:
			sum.CorrectedCount++
		case model.ResolutionRejected:
			sum.RejectedCount++
		}
		if rec.AccountCorrect {
			account++
		}
		if rec.VATCorrect {
			vat++
		}
		if rec.FullyCorrect {
			full++
		}
	}
	if sum.Total == 0 {
		return sum
	}
	sum.AccountAccuracyPct = pct(account, sum.Total)
	sum.VATAccuracyPct = pct(vat, sum.Total)
	sum.FullyCorrectPct = pct(full, sum.Total)
	return sum
}

func pct(n, total int) float64 {
	return math.Round(float64(n)/float64(total)*10000) / 100
}

// ExportTrainingData returns the latest verdict per item as training rows,
// oldest first. A positive limit keeps only the most recent rows.
func (r *Recorder) ExportTrainingData(ctx context.Context, clientID string, limit int) ([]model.TrainingRow, error) {
	records, err := r.store.ListFeedback(ctx, service.FeedbackFilter{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	latest := latestPerItem(records)
	if limit > 0 && len(latest) > limit {
		latest = latest[len(latest)-limit:]
	}

	rows := make([]model.TrainingRow, 0, len(latest))
	for _, rec := range latest {
		rows = append(rows, ToTrainingRow(rec))
	}
	return rows, nil
}

// ToTrainingRow projects a record onto the export schema.
func ToTrainingRow(rec model.FeedbackRecord) model.TrainingRow {
	return model.TrainingRow{
		RecordedAt:       rec.RecordedAt.UTC(),
		ItemID:           rec.ItemID,
		Resolution:       rec.Resolution,
		SuggestedAccount: rec.SuggestedAccount,
		SuggestedVAT:     rec.SuggestedVAT,
		FinalAccount:     rec.FinalAccount,
		FinalVAT:         rec.FinalVAT,
		AccountCorrect:   rec.AccountCorrect,
		VATCorrect:       rec.VATCorrect,
		FullyCorrect:     rec.FullyCorrect,
	}
}

// latestPerItem keeps the newest record of each item, ordered by record time.
func latestPerItem(records []model.FeedbackRecord) []model.FeedbackRecord {
	byItem := make(map[string]model.FeedbackRecord, len(records))
	for _, rec := range records {
		prev, ok := byItem[rec.ItemID]
		if !ok || !rec.RecordedAt.Before(prev.RecordedAt) {
			byItem[rec.ItemID] = rec
		}
	}

	out := make([]model.FeedbackRecord, 0, len(byItem))
	for _, rec := range byItem {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}
