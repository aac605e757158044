package model

import "time"

// Resolution is the accountant action that produced a feedback record.
type Resolution string

// Resolution constants.
const (
	ResolutionApproved  Resolution = "approved"
	ResolutionCorrected Resolution = "corrected"
	ResolutionRejected  Resolution = "rejected"
)

// TerminalStatus maps a resolution to the review status it leaves the item in.
func (r Resolution) TerminalStatus() ReviewStatus {
	switch r {
	case ResolutionApproved:
		return ReviewApproved
	case ResolutionCorrected:
		return ReviewCorrected
	case ResolutionRejected:
		return ReviewRejected
	}
	return ""
}

// FeedbackRecord is an immutable comparison of an AI suggestion with the
// accountant's final answer.
type FeedbackRecord struct {
	RecordedAt       time.Time
	ID               string
	ItemID           string
	ClientID         string
	Resolution       Resolution
	SuggestedAccount string
	SuggestedVAT     string
	FinalAccount     string
	FinalVAT         string
	RecordedBy       string
	AccountCorrect   bool
	VATCorrect       bool
	FullyCorrect     bool
}

// AccuracySummary aggregates feedback for one client.
type AccuracySummary struct {
	ClientID           string  `json:"client_id"`
	Total              int     `json:"total"`
	ApprovedCount      int     `json:"approved_count"`
	CorrectedCount     int     `json:"corrected_count"`
	RejectedCount      int     `json:"rejected_count"`
	AccountAccuracyPct float64 `json:"account_accuracy_pct"`
	VATAccuracyPct     float64 `json:"vat_accuracy_pct"`
	FullyCorrectPct    float64 `json:"fully_correct_pct"`
}

// TrainingRow is the export shape consumed by offline retraining.
// Field names and order are a stable contract.
type TrainingRow struct {
	RecordedAt       time.Time  `json:"recorded_at"`
	ItemID           string     `json:"item_id"`
	Resolution       Resolution `json:"resolution"`
	SuggestedAccount string     `json:"suggested_account"`
	SuggestedVAT     string     `json:"suggested_vat"`
	FinalAccount     string     `json:"final_account"`
	FinalVAT         string     `json:"final_vat"`
	AccountCorrect   bool       `json:"account_correct"`
	VATCorrect       bool       `json:"vat_correct"`
	FullyCorrect     bool       `json:"fully_correct"`
}

// DateRange is an inclusive period filter.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
