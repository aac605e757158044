package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// SystemActor is recorded on matches the engine creates.
const SystemActor = "system"

// Store is the persistence a reconciliation run needs.
type Store interface {
	service.MatchRepository
	ListRules(ctx context.Context, clientID string, enabledOnly bool) ([]model.MatchingRule, error)
}

// Service loads an open set, reconciles it, and persists the automatic matches.
type Service struct {
	store  Store
	engine *Engine
	now    func() time.Time
}

// NewService creates a reconciliation service.
func NewService(store Store, engine *Engine) *Service {
	if engine == nil {
		engine = New()
	}
	return &Service{store: store, engine: engine, now: time.Now}
}

// Run reconciles the open items in scope and persists every automatic match.
// An automatic match that loses a race with a concurrent writer is reported
// as conflicted; it is never retried against another entry within the same run.
func (s *Service) Run(ctx context.Context, scope model.Scope, progress ProgressFunc) (*Report, error) {
	result, err := s.reconcile(ctx, scope, progress)
	if err != nil {
		return nil, err
	}

	logger := common.Logger(ctx)
	kept := result.AutoMatched[:0]
	for _, am := range result.AutoMatched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.store.CreateMatch(ctx, am.NewMatch(SystemActor))
		switch {
		case errors.Is(err, common.ErrConflict):
			logger.Warn("Match lost to a concurrent writer",
				"transaction_id", am.Transaction.ID,
				"entry_id", am.Entry.ID)
			result.Conflicted = append(result.Conflicted, am)
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to persist match for %s: %w", am.Transaction.ID, err)
		}

		logger.Debug("Persisted match",
			"match_id", rec.ID,
			"type", rec.Type,
			"transaction_id", am.Transaction.ID,
			"entry_id", am.Entry.ID)
		kept = append(kept, am)
	}
	result.AutoMatched = kept

	report := BuildReport(scope, result, s.now())
	logger.Info("Reconciliation complete",
		"client_id", scope.ClientID,
		"auto_matched", report.AutoMatched,
		"rule_matched", report.RuleMatched,
		"suggested", report.Suggested,
		"unmatched", report.Unmatched)
	return &report, nil
}

// Preview reconciles the open items in scope without persisting anything.
func (s *Service) Preview(ctx context.Context, scope model.Scope) (*Report, error) {
	result, err := s.reconcile(ctx, scope, nil)
	if err != nil {
		return nil, err
	}
	report := BuildReport(scope, result, s.now())
	return &report, nil
}

func (s *Service) reconcile(ctx context.Context, scope model.Scope, progress ProgressFunc) (Result, error) {
	set, err := s.store.ListUnmatched(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load open items: %w", err)
	}
	defs, err := s.store.ListRules(ctx, scope.ClientID, true)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load rules: %w", err)
	}

	common.Logger(ctx).Info("Starting reconciliation",
		"client_id", scope.ClientID,
		"account_id", scope.AccountID,
		"transactions", len(set.Transactions),
		"entries", len(set.Entries),
		"rules", len(defs))

	return s.engine.ReconcileWithProgress(set.Transactions, set.Entries, defs, progress), nil
}
