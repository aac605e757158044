// Package matching reconciles open bank transactions against open ledger entries.
package matching

import (
	"sort"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
	"github.com/Veraticus/tally/internal/scoring"
)

// Config holds the classification thresholds and the scoring weights.
type Config struct {
	Scoring          scoring.Config
	AutoThreshold    int
	SuggestThreshold int
}

// DefaultConfig returns the default configuration: 85 and above is matched
// automatically, 50 to 84 is suggested.
func DefaultConfig() Config {
	return Config{
		Scoring:          scoring.DefaultConfig(),
		AutoThreshold:    85,
		SuggestThreshold: 50,
	}
}

// Outcome is the bucket a transaction lands in.
type Outcome string

// Outcome constants.
const (
	OutcomeAuto      Outcome = "auto"
	OutcomeRule      Outcome = "rule"
	OutcomeSuggested Outcome = "suggested"
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeConflict marks a pair the engine chose that another writer
	// matched first.
	OutcomeConflict Outcome = "conflict"
)

// AutoMatch is a pair the engine decided to link, by rule or by score.
type AutoMatch struct {
	Score       *int
	RuleID      *int64
	RuleName    string
	Type        model.MatchType
	Transaction model.BankTransaction
	Entry       model.LedgerEntry
}

// NewMatch converts the decision into a persistence request.
func (m AutoMatch) NewMatch(actor string) model.NewMatch {
	return model.NewMatch{
		BankTransactionID: m.Transaction.ID,
		LedgerEntryID:     m.Entry.ID,
		Type:              m.Type,
		Score:             m.Score,
		RuleID:            m.RuleID,
		Actor:             actor,
	}
}

// Suggestion is an advisory pair awaiting human confirmation.
type Suggestion struct {
	Transaction model.BankTransaction
	Entry       model.LedgerEntry
	Score       scoring.Result
}

// Unmatched is a transaction left open, with its best score if it had candidates.
type Unmatched struct {
	Transaction   model.BankTransaction
	BestScore     int
	HadCandidates bool
}

// Result partitions every input transaction into exactly one bucket.
type Result struct {
	AutoMatched []AutoMatch
	Suggested   []Suggestion
	Unmatched   []Unmatched
	// Conflicted holds auto or rule matches that lost to a concurrent writer
	// when persisted. Only Service.Run fills it.
	Conflicted []AutoMatch
}

// UnmatchedTransactions returns the transactions of the unmatched bucket.
func (r Result) UnmatchedTransactions() []model.BankTransaction {
	txns := make([]model.BankTransaction, 0, len(r.Unmatched))
	for _, u := range r.Unmatched {
		txns = append(txns, u.Transaction)
	}
	return txns
}

// ProgressFunc is told how many transactions of total have been processed.
type ProgressFunc func(done, total int)

// Engine runs rules and scoring over an open set. It holds no state between
// calls.
type Engine struct {
	calc *scoring.Calculator
	cfg  Config
}

// New creates an engine with the default configuration.
func New() *Engine {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an engine with a custom configuration.
func NewWithConfig(cfg Config) *Engine {
	return &Engine{
		calc: scoring.NewCalculator(cfg.Scoring),
		cfg:  cfg,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Classify maps a score onto its outcome.
func (e *Engine) Classify(points int) Outcome {
	switch {
	case points >= e.cfg.AutoThreshold:
		return OutcomeAuto
	case points >= e.cfg.SuggestThreshold:
		return OutcomeSuggested
	default:
		return OutcomeUnmatched
	}
}

// Reconcile partitions txns against entries using ruleDefs first and scoring
// second.
func (e *Engine) Reconcile(txns []model.BankTransaction, entries []model.LedgerEntry, ruleDefs []model.MatchingRule) Result {
	return e.ReconcileWithProgress(txns, entries, ruleDefs, nil)
}

// ReconcileWithProgress is Reconcile with a progress callback.
//
// Transactions are processed by date, then ID. A rule firing or a score at or
// above the auto threshold consumes both sides for the rest of the pass;
// suggestions consume nothing. Only open items are considered and an entry is
// never a candidate for a transaction of another client.
func (e *Engine) ReconcileWithProgress(txns []model.BankTransaction, entries []model.LedgerEntry,
	ruleDefs []model.MatchingRule, progress ProgressFunc,
) Result {
	evaluator := rules.NewEvaluator(ruleDefs)

	ordered := make([]model.BankTransaction, 0, len(txns))
	for _, txn := range txns {
		if txn.IsOpen() {
			ordered = append(ordered, txn)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	open := make([]model.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsOpen() {
			open = append(open, entry)
		}
	}
	consumed := make(map[string]bool, len(open))

	var res Result
	for i, txn := range ordered {
		candidates := make([]model.LedgerEntry, 0, len(open))
		for _, entry := range open {
			if !consumed[entry.ID] && entry.ClientID == txn.ClientID {
				candidates = append(candidates, entry)
			}
		}

		e.place(&res, evaluator, txn, candidates, consumed)

		if progress != nil {
			progress(i+1, len(ordered))
		}
	}
	return res
}

func (e *Engine) place(res *Result, evaluator *rules.Evaluator, txn model.BankTransaction,
	candidates []model.LedgerEntry, consumed map[string]bool,
) {
	if len(candidates) == 0 {
		res.Unmatched = append(res.Unmatched, Unmatched{Transaction: txn})
		return
	}

	if d := evaluator.Evaluate(txn, candidates); d != nil {
		ruleID := d.Rule.ID
		res.AutoMatched = append(res.AutoMatched, AutoMatch{
			Transaction: txn,
			Entry:       d.Entry,
			Type:        model.MatchTypeRule,
			RuleID:      &ruleID,
			RuleName:    d.Rule.Name,
		})
		consumed[d.Entry.ID] = true
		return
	}

	best, bestScore := e.bestCandidate(txn, candidates)
	switch e.Classify(bestScore.Points) {
	case OutcomeAuto:
		points := bestScore.Points
		res.AutoMatched = append(res.AutoMatched, AutoMatch{
			Transaction: txn,
			Entry:       best,
			Type:        model.MatchTypeAuto,
			Score:       &points,
		})
		consumed[best.ID] = true
	case OutcomeSuggested:
		res.Suggested = append(res.Suggested, Suggestion{Transaction: txn, Entry: best, Score: bestScore})
	default:
		res.Unmatched = append(res.Unmatched, Unmatched{
			Transaction:   txn,
			BestScore:     bestScore.Points,
			HadCandidates: true,
		})
	}
}

// bestCandidate picks the highest score, breaking ties by closest date and
// then lowest entry ID. candidates must not be empty.
func (e *Engine) bestCandidate(txn model.BankTransaction, candidates []model.LedgerEntry) (model.LedgerEntry, scoring.Result) {
	ordered := rules.OrderCandidates(txn, candidates)

	best := ordered[0]
	bestScore := e.calc.Score(txn, best)
	for _, entry := range ordered[1:] {
		// ordered already encodes both tie-breaks, so only a strictly
		// higher score displaces the current best.
		if s := e.calc.Score(txn, entry); s.Points > bestScore.Points {
			best, bestScore = entry, s
		}
	}
	return best, bestScore
}
