// Package review decides whether AI posting suggestions are booked directly
// or queued for an accountant, and resolves queued items.
package review

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// SystemActor is recorded on automatic decisions.
const SystemActor = "system"

// Booker posts a suggestion to the accounting system and returns the voucher ID.
type Booker interface {
	Post(ctx context.Context, p model.Posting) (string, error)
}

// Store is the persistence the review engine needs.
type Store interface {
	service.ReviewStore
	service.FeedbackStore
	service.ThresholdStore
}

// Outcome is what Submit did with a suggestion.
type Outcome string

// Submit outcomes.
const (
	OutcomeAutoPosted Outcome = "auto_posted"
	OutcomeQueued     Outcome = "queued"
)

// Decision reports the result of a submission. Item is set when queued,
// VoucherID when posted.
type Decision struct {
	Item      *model.ReviewQueueItem `json:"item,omitempty"`
	Outcome   Outcome                `json:"outcome"`
	VoucherID string                 `json:"voucher_id,omitempty"`
}

// Engine runs the review queue state machine.
type Engine struct {
	store    Store
	booker   Booker
	recorder *feedback.Recorder
	now      func() time.Time
}

// NewEngine creates a review engine.
func NewEngine(store Store, booker Booker) *Engine {
	return &Engine{
		store:    store,
		booker:   booker,
		recorder: feedback.NewRecorder(store),
		now:      time.Now,
	}
}

// Submit posts s directly when every confidence clears its threshold, and
// queues it as a PENDING item otherwise. Direct posts create no item and no
// feedback.
func (e *Engine) Submit(ctx context.Context, s model.Suggestion, thresholds model.ThresholdConfig) (*Decision, error) {
	if err := validateSuggestion(s); err != nil {
		return nil, err
	}

	if thresholds.Clears(s.Confidence) {
		return e.autoPost(ctx, s)
	}

	item := &model.ReviewQueueItem{
		CreatedAt:        e.now().UTC(),
		ID:               uuid.New().String(),
		ClientID:         s.ClientID,
		SubjectRef:       s.SubjectRef,
		Description:      s.Description,
		SuggestedAccount: s.AccountCode,
		SuggestedVAT:     s.VATCode,
		Status:           model.ReviewPending,
		Amount:           s.Amount,
		Confidence:       s.Confidence,
	}
	if err := e.store.CreateReviewItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to queue suggestion %s: %w", s.SubjectRef, err)
	}

	common.Logger(ctx).Info("Suggestion queued for review",
		"client_id", s.ClientID,
		"item_id", item.ID,
		"subject_ref", s.SubjectRef,
		"account_confidence", s.Confidence.Account,
		"vat_confidence", s.Confidence.VAT,
		"global_confidence", s.Confidence.Global)
	return &Decision{Outcome: OutcomeQueued, Item: item}, nil
}

// SubmitForClient is Submit with the client's stored thresholds.
func (e *Engine) SubmitForClient(ctx context.Context, s model.Suggestion) (*Decision, error) {
	thresholds, err := e.store.GetThresholds(ctx, s.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}
	return e.Submit(ctx, s, thresholds)
}

func (e *Engine) autoPost(ctx context.Context, s model.Suggestion) (*Decision, error) {
	voucherID, err := e.booker.Post(ctx, model.Posting{
		ClientID:    s.ClientID,
		SubjectRef:  s.SubjectRef,
		AccountCode: s.AccountCode,
		VATCode:     s.VATCode,
		Description: s.Description,
		Amount:      s.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPostingFailed, err)
	}

	if err := e.store.RecordAudit(ctx, model.AuditEvent{
		CreatedAt: e.now().UTC(),
		ClientID:  s.ClientID,
		Action:    model.AuditSuggestionPosted,
		SubjectID: s.SubjectRef,
		Actor:     SystemActor,
		Detail: fmt.Sprintf("voucher=%s account=%s vat=%s confidence=%.0f/%.0f/%.0f",
			voucherID, s.AccountCode, s.VATCode,
			s.Confidence.Account, s.Confidence.VAT, s.Confidence.Global),
	}); err != nil {
		// The voucher exists; losing its audit row must not hide that.
		common.Logger(ctx).Error("Failed to audit auto-posted suggestion",
			"subject_ref", s.SubjectRef, "voucher_id", voucherID, "error", err)
	}

	common.Logger(ctx).Info("Suggestion auto-posted",
		"client_id", s.ClientID,
		"subject_ref", s.SubjectRef,
		"voucher_id", voucherID)
	return &Decision{Outcome: OutcomeAutoPosted, VoucherID: voucherID}, nil
}

// Approve accepts the suggestion unchanged and books it.
func (e *Engine) Approve(ctx context.Context, itemID, actor string) (*model.ReviewQueueItem, error) {
	return e.resolve(ctx, itemID, actor, model.ResolutionApproved, feedback.Final{}, "")
}

// Correct books the item with the accountant's replacement values. At least
// one of account and VAT code must be given.
func (e *Engine) Correct(ctx context.Context, itemID, actor string, c model.Correction) (*model.ReviewQueueItem, error) {
	if isEmptyCorrection(c) {
		return nil, common.Validationf("correction of %s needs an account or VAT code", itemID)
	}
	final := feedback.Final{AccountCode: c.AccountCode, VATCode: c.VATCode}
	return e.resolve(ctx, itemID, actor, model.ResolutionCorrected, final, c.Notes)
}

// Reject discards the suggestion without booking anything.
func (e *Engine) Reject(ctx context.Context, itemID, actor, notes string) (*model.ReviewQueueItem, error) {
	return e.resolve(ctx, itemID, actor, model.ResolutionRejected, feedback.Final{}, notes)
}

func (e *Engine) resolve(ctx context.Context, itemID, actor string, resolution model.Resolution,
	final feedback.Final, notes string,
) (*model.ReviewQueueItem, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, common.Validationf("resolving %s needs an actor", itemID)
	}

	item, err := e.store.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: review item %s is already %s", common.ErrInvalidState, itemID, item.Status)
	}

	rec, err := feedback.Build(*item, resolution, final)
	if err != nil {
		return nil, err
	}
	rec.RecordedBy = actor

	var post service.PostFunc
	if resolution != model.ResolutionRejected {
		post = e.post
	}

	resolved, err := e.store.ResolveReviewItem(ctx, service.Resolution{
		ItemID:       itemID,
		Status:       resolution.TerminalStatus(),
		FinalAccount: rec.FinalAccount,
		FinalVAT:     rec.FinalVAT,
		Actor:        actor,
		Notes:        notes,
		Feedback:     rec,
	}, post)
	if err != nil {
		return nil, err
	}

	common.Logger(ctx).Info("Review item resolved",
		"item_id", itemID,
		"status", resolved.Status,
		"actor", actor,
		"voucher_id", resolved.VoucherID)
	return resolved, nil
}

func (e *Engine) post(ctx context.Context, item model.ReviewQueueItem) (string, error) {
	return e.booker.Post(ctx, model.Posting{
		ClientID:    item.ClientID,
		ItemID:      item.ID,
		SubjectRef:  item.SubjectRef,
		AccountCode: item.FinalAccount,
		VATCode:     item.FinalVAT,
		Description: item.Description,
		Amount:      item.Amount,
	})
}

// Revise records a later correction of an already resolved item. The item
// itself is left as it is.
func (e *Engine) Revise(ctx context.Context, itemID, actor string, c model.Correction) (*model.FeedbackRecord, error) {
	if isEmptyCorrection(c) {
		return nil, common.Validationf("revision of %s needs an account or VAT code", itemID)
	}
	if strings.TrimSpace(actor) == "" {
		return nil, common.Validationf("revising %s needs an actor", itemID)
	}

	item, err := e.store.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: review item %s is still pending", common.ErrInvalidState, itemID)
	}

	return e.recorder.Record(ctx, *item, model.ResolutionCorrected,
		feedback.Final{AccountCode: c.AccountCode, VATCode: c.VATCode}, actor)
}

// Pending lists a client's PENDING items, oldest first.
func (e *Engine) Pending(ctx context.Context, clientID string, limit int) ([]model.ReviewQueueItem, error) {
	return e.store.ListReviewItems(ctx, service.ReviewFilter{
		ClientID: clientID,
		Status:   model.ReviewPending,
		Limit:    limit,
	})
}

func isEmptyCorrection(c model.Correction) bool {
	return strings.TrimSpace(c.AccountCode) == "" && strings.TrimSpace(c.VATCode) == ""
}

func validateSuggestion(s model.Suggestion) error {
	switch {
	case strings.TrimSpace(s.ClientID) == "":
		return common.Validationf("suggestion without client ID")
	case strings.TrimSpace(s.SubjectRef) == "":
		return common.Validationf("suggestion without subject reference")
	case strings.TrimSpace(s.AccountCode) == "":
		return common.Validationf("suggestion %s without account code", s.SubjectRef)
	}
	for name, v := range map[string]float64{
		"account": s.Confidence.Account,
		"vat":     s.Confidence.VAT,
		"global":  s.Confidence.Global,
	} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return common.Validationf("suggestion %s: %s confidence %.2f outside 0-100", s.SubjectRef, name, v)
		}
	}
	return nil
}
