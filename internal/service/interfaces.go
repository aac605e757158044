// Package service defines the interfaces between the tally engines and their
// persistence and delivery collaborators.
package service

import (
	"context"

	"github.com/Veraticus/tally/internal/model"
)

// TransactionFilter narrows bank transaction and ledger entry reads.
type TransactionFilter struct {
	Scope  model.Scope
	Status model.MatchStatus
	Limit  int
}

// UnmatchedSet is the open side of a reconciliation scope.
type UnmatchedSet struct {
	Transactions []model.BankTransaction
	Entries      []model.LedgerEntry
}

// ReviewFilter narrows review queue reads.
type ReviewFilter struct {
	ClientID string
	Status   model.ReviewStatus
	Limit    int
}

// FeedbackFilter narrows feedback reads. Period bounds are inclusive calendar days.
type FeedbackFilter struct {
	Period   *model.DateRange
	ClientID string
	ItemID   string
	Limit    int
}

// AuditFilter narrows audit trail reads.
type AuditFilter struct {
	ClientID  string
	SubjectID string
	Limit     int
}

// Resolution is a terminal transition request for a review item together
// with the feedback it produces.
type Resolution struct {
	ItemID       string
	Status       model.ReviewStatus
	FinalAccount string
	FinalVAT     string
	Actor        string
	Notes        string
	Feedback     model.FeedbackRecord
}

// PostFunc books a resolved item and returns the voucher ID. It runs inside
// the resolving transaction, so a failure leaves the item untouched.
type PostFunc func(ctx context.Context, item model.ReviewQueueItem) (string, error)

// LedgerStore persists the inputs of reconciliation.
type LedgerStore interface {
	SaveBankTransactions(ctx context.Context, txns []model.BankTransaction) (int, error)
	GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	ListBankTransactions(ctx context.Context, filter TransactionFilter) ([]model.BankTransaction, error)
	SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) (int, error)
	GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, filter TransactionFilter) ([]model.LedgerEntry, error)
}

// MatchRepository keeps the one-to-one match invariant and its history.
type MatchRepository interface {
	CreateMatch(ctx context.Context, m model.NewMatch) (*model.MatchRecord, error)
	GetMatch(ctx context.Context, id string) (*model.MatchRecord, error)
	Unmatch(ctx context.Context, matchID, actor string) (*model.MatchRecord, error)
	UnmatchTransaction(ctx context.Context, txnID, actor string) (*model.MatchRecord, error)
	ListUnmatched(ctx context.Context, scope model.Scope) (*UnmatchedSet, error)
	ListMatched(ctx context.Context, scope model.Scope) ([]model.MatchRecord, error)
	ListMatchAudit(ctx context.Context, matchID string) ([]model.AuditEvent, error)
}

// RuleStore persists matching rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *model.MatchingRule, actor string) error
	GetRule(ctx context.Context, id int64) (*model.MatchingRule, error)
	ListRules(ctx context.Context, clientID string, enabledOnly bool) ([]model.MatchingRule, error)
	SetRuleEnabled(ctx context.Context, id int64, enabled bool, actor string) error
}

// ReviewStore persists the review queue.
type ReviewStore interface {
	CreateReviewItem(ctx context.Context, item *model.ReviewQueueItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewQueueItem, error)
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueItem, error)
	ResolveReviewItem(ctx context.Context, res Resolution, post PostFunc) (*model.ReviewQueueItem, error)
	RecordAudit(ctx context.Context, event model.AuditEvent) error
}

// FeedbackStore persists append-only feedback records.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]model.FeedbackRecord, error)
}

// ThresholdStore persists per-client auto-approval thresholds.
type ThresholdStore interface {
	GetThresholds(ctx context.Context, clientID string) (model.ThresholdConfig, error)
	SaveThresholds(ctx context.Context, cfg model.ThresholdConfig, actor string) error
}

// AuditStore reads the audit trail.
type AuditStore interface {
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	LedgerStore
	MatchRepository
	RuleStore
	ReviewStore
	FeedbackStore
	ThresholdStore
	AuditStore

	Migrate(ctx context.Context) error
	Close() error
}
