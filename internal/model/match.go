package model

import "time"

// MatchType records how a match came to exist.
type MatchType string

// Match type constants.
const (
	MatchTypeAuto   MatchType = "auto"
	MatchTypeManual MatchType = "manual"
	MatchTypeRule   MatchType = "rule"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchTypeAuto, MatchTypeManual, MatchTypeRule:
		return true
	}
	return false
}

// MatchRecord links exactly one bank transaction to exactly one ledger entry.
type MatchRecord struct {
	CreatedAt         time.Time
	UnmatchedAt       *time.Time
	Score             *int // nil for rule and manual matches
	RuleID            *int64
	ID                string
	ClientID          string
	BankTransactionID string
	LedgerEntryID     string
	Type              MatchType
	CreatedBy         string
	UnmatchedBy       string
	Active            bool
}

// NewMatch describes a match to be created.
type NewMatch struct {
	Score             *int
	RuleID            *int64
	BankTransactionID string
	LedgerEntryID     string
	Type              MatchType
	Actor             string
}
