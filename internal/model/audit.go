package model

import "time"

// AuditAction names a mutation recorded in the audit trail.
type AuditAction string

// Audit action constants.
const (
	AuditMatchCreated      AuditAction = "match.created"
	AuditMatchUnmatched    AuditAction = "match.unmatched"
	AuditSuggestionPosted  AuditAction = "suggestion.auto_posted"
	AuditSuggestionQueued  AuditAction = "suggestion.queued"
	AuditReviewResolved    AuditAction = "review.resolved"
	AuditFeedbackRevised   AuditAction = "feedback.revised"
	AuditThresholdsUpdated AuditAction = "thresholds.updated"
	AuditRuleCreated       AuditAction = "rule.created"
	AuditRuleEnabled       AuditAction = "rule.enabled"
	AuditRuleDisabled      AuditAction = "rule.disabled"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	CreatedAt time.Time
	ClientID  string
	Action    AuditAction
	SubjectID string
	Actor     string
	Detail    string
	ID        int64
}

// Scope narrows reconciliation reads to one client and optionally one account and period.
type Scope struct {
	Period    *DateRange
	ClientID  string
	AccountID string
}
