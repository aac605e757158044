package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus tracks where a bank transaction or ledger entry is in reconciliation.
type MatchStatus string

// Match status constants.
const (
	StatusUnmatched MatchStatus = "unmatched"
	StatusMatched   MatchStatus = "matched"
	StatusReviewed  MatchStatus = "reviewed"
)

// BankTransaction represents a single movement on a bank account.
//
// Amount is signed from the bank account's point of view: positive amounts are
// money in, negative amounts are money out.
type BankTransaction struct {
	Date         time.Time
	ID           string
	ClientID     string
	AccountID    string
	Currency     string
	Description  string // Raw statement text
	KID          string // Structured payment reference, optional
	Counterparty string
	Hash         string
	Status       MatchStatus
	Amount       decimal.Decimal
	Posted       bool
}

// GenerateHash creates a unique hash for duplicate detection on import.
func (t *BankTransaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		t.ClientID,
		t.AccountID,
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Description,
		t.KID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// IsOpen reports whether the transaction can still be matched.
func (t *BankTransaction) IsOpen() bool {
	return t.Status == "" || t.Status == StatusUnmatched
}

// LedgerEntry is the general-ledger or invoice posting a bank transaction settles.
// Exactly one of Debit and Credit is non-zero.
type LedgerEntry struct {
	Date          time.Time
	ID            string
	ClientID      string
	AccountCode   string
	Description   string
	VoucherNumber string
	Reference     string // Structured reference (KID) on the invoice, optional
	Status        MatchStatus
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// NetAmount returns debit minus credit.
func (e *LedgerEntry) NetAmount() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}

// IsOpen reports whether the entry can still be matched.
func (e *LedgerEntry) IsOpen() bool {
	return e.Status == "" || e.Status == StatusUnmatched
}
