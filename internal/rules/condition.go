// Package rules evaluates deterministic matching rules ahead of scoring.
package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/scoring"
)

// Condition is a side-effect free predicate over a transaction and a candidate
// entry. The set of implementations is closed; see Parse.
type Condition interface {
	Satisfied(txn model.BankTransaction, entry model.LedgerEntry) bool
	Kind() model.RuleKind
	condition()
}

// exactTolerance is the amount slack used by conditions that require the
// amounts to agree but carry no tolerance of their own.
var exactTolerance = decimal.NewFromFloat(0.01)

// KIDExact fires when the transaction's KID equals the entry's reference.
type KIDExact struct{}

// AmountTolerance fires when the absolute amounts differ by at most Tolerance.
type AmountTolerance struct {
	Tolerance decimal.Decimal
}

// DescriptionContains fires when the transaction text contains Text, the
// amounts agree and, when AccountCode is set, the entry is posted to that
// account.
type DescriptionContains struct {
	Text        string
	AccountCode string
}

// DateRange fires for transactions dated within [From, To] whose amount
// agrees with an entry at most MaxDaysApart days away.
type DateRange struct {
	From         *time.Time
	To           *time.Time
	MaxDaysApart int
}

func (KIDExact) condition()            {}
func (AmountTolerance) condition()     {}
func (DescriptionContains) condition() {}
func (DateRange) condition()           {}

// Kind implements Condition.
func (KIDExact) Kind() model.RuleKind { return model.RuleKIDExact }

// Kind implements Condition.
func (AmountTolerance) Kind() model.RuleKind { return model.RuleAmountTolerance }

// Kind implements Condition.
func (DescriptionContains) Kind() model.RuleKind { return model.RuleDescriptionContains }

// Kind implements Condition.
func (DateRange) Kind() model.RuleKind { return model.RuleDateRange }

// Satisfied implements Condition.
func (KIDExact) Satisfied(txn model.BankTransaction, entry model.LedgerEntry) bool {
	if !compatible(txn, entry) {
		return false
	}
	kid := scoring.NormalizeReference(txn.KID)
	return kid != "" && kid == scoring.NormalizeReference(entry.Reference)
}

// Satisfied implements Condition.
func (c AmountTolerance) Satisfied(txn model.BankTransaction, entry model.LedgerEntry) bool {
	return compatible(txn, entry) && amountsAgree(txn, entry, c.Tolerance)
}

// Satisfied implements Condition.
func (c DescriptionContains) Satisfied(txn model.BankTransaction, entry model.LedgerEntry) bool {
	if !compatible(txn, entry) || !amountsAgree(txn, entry, exactTolerance) {
		return false
	}
	if c.AccountCode != "" && entry.AccountCode != c.AccountCode {
		return false
	}
	needle := strings.ToLower(c.Text)
	return strings.Contains(strings.ToLower(txn.Description), needle) ||
		strings.Contains(strings.ToLower(txn.Counterparty), needle)
}

// Satisfied implements Condition.
func (c DateRange) Satisfied(txn model.BankTransaction, entry model.LedgerEntry) bool {
	if !compatible(txn, entry) || !amountsAgree(txn, entry, exactTolerance) {
		return false
	}
	if c.From != nil && txn.Date.Before(*c.From) {
		return false
	}
	if c.To != nil && txn.Date.After(*c.To) {
		return false
	}
	return scoring.DaysApart(txn, entry) <= c.MaxDaysApart
}

func compatible(txn model.BankTransaction, entry model.LedgerEntry) bool {
	return txn.Amount.Sign() == entry.NetAmount().Sign()
}

func amountsAgree(txn model.BankTransaction, entry model.LedgerEntry, tolerance decimal.Decimal) bool {
	return txn.Amount.Abs().Sub(entry.NetAmount().Abs()).Abs().LessThanOrEqual(tolerance)
}
