// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// ErrInvalidState is returned when a transition is attempted on a record
	// that is no longer in the state the transition requires.
	ErrInvalidState = fmt.Errorf("%w: invalid state", ErrConflict)

	// Input errors.
	ErrValidation = errors.New("validation failed")

	// Bank feed errors.
	ErrPlaidConnection = errors.New("plaid connection failed")
	ErrPlaidRateLimit  = errors.New("plaid rate limit exceeded")

	// Posting errors.
	ErrPostingFailed = errors.New("posting failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Validationf returns an ErrValidation wrapping a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
