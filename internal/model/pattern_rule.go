// Package model defines the core data structures for the tally application.
package model

import (
	"encoding/json"
	"time"
)

// RuleKind identifies which deterministic condition a matching rule carries.
type RuleKind string

// Rule kind constants.
const (
	RuleKIDExact            RuleKind = "kid_exact"
	RuleAmountTolerance     RuleKind = "amount_tolerance"
	RuleDescriptionContains RuleKind = "description_contains"
	RuleDateRange           RuleKind = "date_range"
)

// MatchingRule is a persisted deterministic matching criterion.
// Params holds the kind-specific parameters as JSON; lower Priority runs first.
type MatchingRule struct {
	CreatedAt time.Time       `json:"created_at" yaml:"-"`
	ClientID  string          `json:"client_id" yaml:"client_id"`
	Name      string          `json:"name" yaml:"name"`
	Kind      RuleKind        `json:"kind" yaml:"kind"`
	Params    json.RawMessage `json:"params,omitempty" yaml:"-"`
	ID        int64           `json:"id" yaml:"-"`
	Priority  int             `json:"priority" yaml:"priority"`
	Enabled   bool            `json:"enabled" yaml:"enabled"`
}
