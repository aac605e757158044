package rules

import (
	"log/slog"
	"sort"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/scoring"
)

// Decision is a rule firing for one transaction.
type Decision struct {
	Rule  Rule
	Entry model.LedgerEntry
}

// Evaluator runs a fixed, pre-parsed rule set.
type Evaluator struct {
	logger  *slog.Logger
	rules   []Rule
	skipped int
}

// NewEvaluator parses defs once. Disabled rules are dropped; malformed rules
// are logged and dropped so one bad definition cannot abort a run.
func NewEvaluator(defs []model.MatchingRule) *Evaluator {
	e := &Evaluator{logger: slog.Default().With("component", "rules")}

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		rule, err := Parse(def)
		if err != nil {
			e.skipped++
			e.logger.Warn("Skipping malformed matching rule",
				"rule_id", def.ID,
				"name", def.Name,
				"kind", def.Kind,
				"error", err)
			continue
		}
		e.rules = append(e.rules, rule)
	}

	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority < e.rules[j].Priority
		}
		return e.rules[i].ID < e.rules[j].ID
	})

	return e
}

// Rules returns the active rules in evaluation order.
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Skipped returns how many enabled rules failed to parse.
func (e *Evaluator) Skipped() int {
	return e.skipped
}

// Evaluate returns the first rule, in priority order, that some candidate
// satisfies. Within a rule candidates are tried closest date first, then by
// lowest ID. It returns nil when no rule fires.
func (e *Evaluator) Evaluate(txn model.BankTransaction, candidates []model.LedgerEntry) *Decision {
	if len(e.rules) == 0 || len(candidates) == 0 {
		return nil
	}

	ordered := OrderCandidates(txn, candidates)
	for _, rule := range e.rules {
		for _, entry := range ordered {
			if rule.Condition.Satisfied(txn, entry) {
				return &Decision{Rule: rule, Entry: entry}
			}
		}
	}
	return nil
}

// OrderCandidates returns a copy of candidates sorted by distance in days
// from txn, then by entry ID.
func OrderCandidates(txn model.BankTransaction, candidates []model.LedgerEntry) []model.LedgerEntry {
	ordered := make([]model.LedgerEntry, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := scoring.DaysApart(txn, ordered[i]), scoring.DaysApart(txn, ordered[j])
		if di != dj {
			return di < dj
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
