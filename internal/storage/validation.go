// Package storage provides the data persistence layer for the tally application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Validation errors. Each wraps common.ErrValidation.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = fmt.Errorf("%w: string parameter cannot be empty", common.ErrValidation)
	ErrNilParameter       = fmt.Errorf("%w: parameter cannot be nil", common.ErrValidation)
	ErrEmptySlice         = fmt.Errorf("%w: slice cannot be empty", common.ErrValidation)
	ErrInvalidDateRange   = fmt.Errorf("%w: start date must be before end date", common.ErrValidation)
	ErrInvalidTransaction = fmt.Errorf("%w: invalid bank transaction", common.ErrValidation)
	ErrInvalidEntry       = fmt.Errorf("%w: invalid ledger entry", common.ErrValidation)
	ErrInvalidMatch       = fmt.Errorf("%w: invalid match", common.ErrValidation)
	ErrInvalidRule        = fmt.Errorf("%w: invalid matching rule", common.ErrValidation)
	ErrInvalidReviewItem  = fmt.Errorf("%w: invalid review item", common.ErrValidation)
	ErrInvalidThresholds  = fmt.Errorf("%w: invalid thresholds", common.ErrValidation)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateScope(scope model.Scope) error {
	if err := validateString(scope.ClientID, "clientID"); err != nil {
		return err
	}
	if scope.Period != nil && scope.Period.End.Before(scope.Period.Start) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange,
			scope.Period.Start.Format("2006-01-02"), scope.Period.End.Format("2006-01-02"))
	}
	return nil
}

func validateBankTransactions(txns []model.BankTransaction) error {
	if txns == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(txns) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i := range txns {
		if err := validateBankTransaction(&txns[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateBankTransaction(txn *model.BankTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	switch {
	case txn.ID == "":
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	case txn.ClientID == "":
		return fmt.Errorf("%w: missing client ID", ErrInvalidTransaction)
	case txn.AccountID == "":
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	case txn.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	case strings.TrimSpace(txn.Description) == "":
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	return nil
}

func validateLedgerEntries(entries []model.LedgerEntry) error {
	if entries == nil {
		return fmt.Errorf("%w: entries", ErrNilParameter)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: entries", ErrEmptySlice)
	}
	for i := range entries {
		if err := validateLedgerEntry(&entries[i]); err != nil {
			return fmt.Errorf("entry at index %d: %w", i, err)
		}
	}
	return nil
}

func validateLedgerEntry(entry *model.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	switch {
	case entry.ID == "":
		return fmt.Errorf("%w: missing ID", ErrInvalidEntry)
	case entry.ClientID == "":
		return fmt.Errorf("%w: missing client ID", ErrInvalidEntry)
	case entry.AccountCode == "":
		return fmt.Errorf("%w: missing account code", ErrInvalidEntry)
	case entry.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrInvalidEntry)
	case entry.Debit.IsNegative() || entry.Credit.IsNegative():
		return fmt.Errorf("%w: debit and credit must not be negative", ErrInvalidEntry)
	case !entry.Debit.IsZero() && !entry.Credit.IsZero():
		return fmt.Errorf("%w: only one of debit and credit may be set", ErrInvalidEntry)
	}
	return nil
}

func validateNewMatch(m model.NewMatch) error {
	switch {
	case m.BankTransactionID == "":
		return fmt.Errorf("%w: missing bank transaction ID", ErrInvalidMatch)
	case m.LedgerEntryID == "":
		return fmt.Errorf("%w: missing ledger entry ID", ErrInvalidMatch)
	case !m.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMatch, m.Type)
	case m.Type == model.MatchTypeRule && m.RuleID == nil:
		return fmt.Errorf("%w: rule match without rule ID", ErrInvalidMatch)
	case m.Score != nil && (*m.Score < 0 || *m.Score > 100):
		return fmt.Errorf("%w: score %d out of range", ErrInvalidMatch, *m.Score)
	}
	return validateString(m.Actor, "actor")
}

func validateRule(rule *model.MatchingRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	switch {
	case strings.TrimSpace(rule.ClientID) == "":
		return fmt.Errorf("%w: missing client ID", ErrInvalidRule)
	case strings.TrimSpace(rule.Name) == "":
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	case rule.Kind == "":
		return fmt.Errorf("%w: missing kind", ErrInvalidRule)
	}
	return nil
}

func validateReviewItem(item *model.ReviewQueueItem) error {
	if item == nil {
		return fmt.Errorf("%w: review item", ErrNilParameter)
	}
	switch {
	case item.ID == "":
		return fmt.Errorf("%w: missing ID", ErrInvalidReviewItem)
	case item.ClientID == "":
		return fmt.Errorf("%w: missing client ID", ErrInvalidReviewItem)
	case item.SubjectRef == "":
		return fmt.Errorf("%w: missing subject reference", ErrInvalidReviewItem)
	case item.SuggestedAccount == "":
		return fmt.Errorf("%w: missing suggested account", ErrInvalidReviewItem)
	case item.Status != model.ReviewPending:
		return fmt.Errorf("%w: new items must be %s", ErrInvalidReviewItem, model.ReviewPending)
	}
	return nil
}

// ValidateThresholds checks every threshold lies within 0-100.
func ValidateThresholds(cfg model.ThresholdConfig) error {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: missing client ID", ErrInvalidThresholds)
	}
	for name, v := range map[string]float64{"account": cfg.Account, "vat": cfg.VAT, "global": cfg.Global} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %s threshold %.2f outside 0-100", ErrInvalidThresholds, name, v)
		}
	}
	return nil
}
