package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

// ReviewItemResponse is the wire form of a review queue item.
type ReviewItemResponse struct {
	CreatedAt        time.Time          `json:"created_at"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
	ID               string             `json:"id"`
	ClientID         string             `json:"client_id"`
	SubjectRef       string             `json:"subject_ref"`
	Description      string             `json:"description"`
	SuggestedAccount string             `json:"suggested_account"`
	SuggestedVAT     string             `json:"suggested_vat"`
	FinalAccount     string             `json:"final_account,omitempty"`
	FinalVAT         string             `json:"final_vat,omitempty"`
	VoucherID        string             `json:"voucher_id,omitempty"`
	ResolvedBy       string             `json:"resolved_by,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	Status           model.ReviewStatus `json:"status"`
	Amount           decimal.Decimal    `json:"amount"`
	Confidence       model.Confidence   `json:"confidence"`
}

// ReviewListResponse wraps a page of review items.
type ReviewListResponse struct {
	Items []ReviewItemResponse `json:"items"`
	Count int                  `json:"count"`
}

// SubmitResponse reports what happened to a submitted suggestion.
type SubmitResponse struct {
	Item      *ReviewItemResponse `json:"item,omitempty"`
	Outcome   string              `json:"outcome"`
	VoucherID string              `json:"voucher_id,omitempty"`
}

// CorrectionRequest carries replacement values, plus notes for rejections.
type CorrectionRequest struct {
	AccountCode string `json:"account_code"`
	VATCode     string `json:"vat_code"`
	Notes       string `json:"notes"`
}

// ThresholdsRequest replaces a client's auto-approval thresholds.
type ThresholdsRequest struct {
	Account float64 `json:"account"`
	VAT     float64 `json:"vat"`
	Global  float64 `json:"global"`
}

// MatchResponse is the wire form of a match record.
type MatchResponse struct {
	CreatedAt         time.Time       `json:"created_at"`
	UnmatchedAt       *time.Time      `json:"unmatched_at,omitempty"`
	Score             *int            `json:"score,omitempty"`
	RuleID            *int64          `json:"rule_id,omitempty"`
	ID                string          `json:"id"`
	ClientID          string          `json:"client_id"`
	BankTransactionID string          `json:"bank_transaction_id"`
	LedgerEntryID     string          `json:"ledger_entry_id"`
	Type              model.MatchType `json:"type"`
	CreatedBy         string          `json:"created_by"`
	UnmatchedBy       string          `json:"unmatched_by,omitempty"`
	Active            bool            `json:"active"`
}

// CreateMatchRequest links a transaction to an entry by hand.
type CreateMatchRequest struct {
	TransactionID string `json:"transaction_id"`
	EntryID       string `json:"entry_id"`
}

// TransactionResponse is the wire form of a bank transaction.
type TransactionResponse struct {
	Date         string            `json:"date"`
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description"`
	KID          string            `json:"kid,omitempty"`
	Counterparty string            `json:"counterparty,omitempty"`
	Status       model.MatchStatus `json:"status"`
	Amount       decimal.Decimal   `json:"amount"`
}

// EntryResponse is the wire form of a ledger entry.
type EntryResponse struct {
	Date          string            `json:"date"`
	ID            string            `json:"id"`
	AccountCode   string            `json:"account_code"`
	Description   string            `json:"description"`
	VoucherNumber string            `json:"voucher_number,omitempty"`
	Reference     string            `json:"reference,omitempty"`
	Status        model.MatchStatus `json:"status"`
	Debit         decimal.Decimal   `json:"debit"`
	Credit        decimal.Decimal   `json:"credit"`
}

// UnmatchedResponse lists the open side of a scope.
type UnmatchedResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Entries      []EntryResponse       `json:"entries"`
}

// ReconcileRequest scopes a reconciliation run.
type ReconcileRequest struct {
	AccountID string `json:"account_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	DryRun    bool   `json:"dry_run"`
}

// AuditEventResponse is the wire form of an audit row.
type AuditEventResponse struct {
	CreatedAt time.Time         `json:"created_at"`
	Action    model.AuditAction `json:"action"`
	SubjectID string            `json:"subject_id"`
	Actor     string            `json:"actor"`
	Detail    string            `json:"detail,omitempty"`
	ID        int64             `json:"id"`
}

// FeedbackResponse is the wire form of a feedback record.
type FeedbackResponse struct {
	RecordedAt       time.Time        `json:"recorded_at"`
	ID               string           `json:"id"`
	ItemID           string           `json:"item_id"`
	Resolution       model.Resolution `json:"resolution"`
	SuggestedAccount string           `json:"suggested_account"`
	SuggestedVAT     string           `json:"suggested_vat"`
	FinalAccount     string           `json:"final_account"`
	FinalVAT         string           `json:"final_vat"`
	RecordedBy       string           `json:"recorded_by"`
	AccountCorrect   bool             `json:"account_correct"`
	VATCorrect       bool             `json:"vat_correct"`
	FullyCorrect     bool             `json:"fully_correct"`
}

func toReviewItemResponse(item *model.ReviewQueueItem) ReviewItemResponse {
	return ReviewItemResponse{
		CreatedAt:        item.CreatedAt,
		ResolvedAt:       item.ResolvedAt,
		ID:               item.ID,
		ClientID:         item.ClientID,
		SubjectRef:       item.SubjectRef,
		Description:      item.Description,
		SuggestedAccount: item.SuggestedAccount,
		SuggestedVAT:     item.SuggestedVAT,
		FinalAccount:     item.FinalAccount,
		FinalVAT:         item.FinalVAT,
		VoucherID:        item.VoucherID,
		ResolvedBy:       item.ResolvedBy,
		Notes:            item.Notes,
		Status:           item.Status,
		Amount:           item.Amount,
		Confidence:       item.Confidence,
	}
}

func toMatchResponse(m *model.MatchRecord) MatchResponse {
	return MatchResponse{
		CreatedAt:         m.CreatedAt,
		UnmatchedAt:       m.UnmatchedAt,
		Score:             m.Score,
		RuleID:            m.RuleID,
		ID:                m.ID,
		ClientID:          m.ClientID,
		BankTransactionID: m.BankTransactionID,
		LedgerEntryID:     m.LedgerEntryID,
		Type:              m.Type,
		CreatedBy:         m.CreatedBy,
		UnmatchedBy:       m.UnmatchedBy,
		Active:            m.Active,
	}
}

func toTransactionResponse(t model.BankTransaction) TransactionResponse {
	return TransactionResponse{
		Date:         t.Date.Format(time.DateOnly),
		ID:           t.ID,
		AccountID:    t.AccountID,
		Currency:     t.Currency,
		Description:  t.Description,
		KID:          t.KID,
		Counterparty: t.Counterparty,
		Status:       t.Status,
		Amount:       t.Amount,
	}
}

func toEntryResponse(e model.LedgerEntry) EntryResponse {
	return EntryResponse{
		Date:          e.Date.Format(time.DateOnly),
		ID:            e.ID,
		AccountCode:   e.AccountCode,
		Description:   e.Description,
		VoucherNumber: e.VoucherNumber,
		Reference:     e.Reference,
		Status:        e.Status,
		Debit:         e.Debit,
		Credit:        e.Credit,
	}
}

func toFeedbackResponse(r *model.FeedbackRecord) FeedbackResponse {
	return FeedbackResponse{
		RecordedAt:       r.RecordedAt,
		ID:               r.ID,
		ItemID:           r.ItemID,
		Resolution:       r.Resolution,
		SuggestedAccount: r.SuggestedAccount,
		SuggestedVAT:     r.SuggestedVAT,
		FinalAccount:     r.FinalAccount,
		FinalVAT:         r.FinalVAT,
		RecordedBy:       r.RecordedBy,
		AccountCorrect:   r.AccountCorrect,
		VATCorrect:       r.VATCorrect,
		FullyCorrect:     r.FullyCorrect,
	}
}
