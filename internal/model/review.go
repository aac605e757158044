package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReviewStatus is the state of a review queue item.
type ReviewStatus string

// Review status constants. Everything except ReviewPending is terminal.
const (
	ReviewPending   ReviewStatus = "PENDING"
	ReviewApproved  ReviewStatus = "APPROVED"
	ReviewCorrected ReviewStatus = "CORRECTED"
	ReviewRejected  ReviewStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ReviewStatus) IsTerminal() bool {
	return s == ReviewApproved || s == ReviewCorrected || s == ReviewRejected
}

// Confidence is the breakdown an AI suggestion arrives with, each on a 0-100 scale.
type Confidence struct {
	Account float64 `json:"account"`
	VAT     float64 `json:"vat"`
	Global  float64 `json:"global"`
}

// Suggestion is an AI-proposed posting awaiting a threshold decision.
type Suggestion struct {
	ClientID    string          `json:"client_id"`
	SubjectRef  string          `json:"subject_ref"` // invoice or voucher reference
	AccountCode string          `json:"account_code"`
	VATCode     string          `json:"vat_code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Confidence  Confidence      `json:"confidence"`
}

// ReviewQueueItem wraps one AI suggestion that needs human judgment.
type ReviewQueueItem struct {
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	ID               string
	ClientID         string
	SubjectRef       string
	Description      string
	SuggestedAccount string
	SuggestedVAT     string
	FinalAccount     string
	FinalVAT         string
	VoucherID        string
	ResolvedBy       string
	Notes            string
	Status           ReviewStatus
	Amount           decimal.Decimal
	Confidence       Confidence
}

// ThresholdConfig holds a client's auto-approval thresholds, each 0-100.
type ThresholdConfig struct {
	UpdatedAt time.Time `json:"updated_at"`
	ClientID  string    `json:"client_id"`
	Account   float64   `json:"account"`
	VAT       float64   `json:"vat"`
	Global    float64   `json:"global"`
}

// DefaultThresholds returns the thresholds used when a client has none configured.
func DefaultThresholds(clientID string) ThresholdConfig {
	return ThresholdConfig{
		ClientID: clientID,
		Account:  80,
		VAT:      85,
		Global:   85,
	}
}

// Clears reports whether every score in c meets its threshold.
func (t ThresholdConfig) Clears(c Confidence) bool {
	return c.Account >= t.Account && c.VAT >= t.VAT && c.Global >= t.Global
}

// Posting is what the booking collaborator receives when a suggestion is posted.
type Posting struct {
	ClientID    string
	ItemID      string // empty for auto-posted suggestions
	SubjectRef  string
	AccountCode string
	VATCode     string
	Description string
	Amount      decimal.Decimal
}

// Correction carries the replacement values an accountant supplies.
// Empty fields keep the AI-suggested value.
type Correction struct {
	AccountCode string `json:"account_code"`
	VATCode     string `json:"vat_code"`
	Notes       string `json:"notes"`
}
