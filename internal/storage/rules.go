package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

const ruleColumns = `id, client_id, name, kind, params, priority, enabled, created_at`

// CreateRule persists a new matching rule and sets its ID.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.MatchingRule, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	params := rule.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if !json.Valid(params) {
		return fmt.Errorf("%w: params are not valid JSON", ErrInvalidRule)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO matching_rules (client_id, name, kind, params, priority, enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rule.ClientID, rule.Name, string(rule.Kind), string(params), rule.Priority, rule.Enabled, now)
		if err != nil {
			return fmt.Errorf("failed to create matching rule: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get matching rule ID: %w", err)
		}
		rule.ID = id
		rule.Params = params
		rule.CreatedAt = now

		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  rule.ClientID,
			Action:    model.AuditRuleCreated,
			SubjectID: fmt.Sprintf("rule:%d", id),
			Actor:     actor,
			Detail:    fmt.Sprintf("%s kind=%s priority=%d", rule.Name, rule.Kind, rule.Priority),
			CreatedAt: now,
		})
	})
}

// GetRule retrieves a matching rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.MatchingRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM matching_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("matching rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matching rule: %w", err)
	}
	return rule, nil
}

// ListRules returns a client's rules in evaluation order: priority, then ID.
func (s *SQLiteStorage) ListRules(ctx context.Context, clientID string, enabledOnly bool) ([]model.MatchingRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(clientID, "clientID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM matching_rules WHERE client_id = ?`
	if enabledOnly {
		query += " AND enabled = 1"
	}
	query += " ORDER BY priority ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.MatchingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matching rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SetRuleEnabled toggles a rule.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, id int64, enabled bool, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var clientID string
		err := tx.QueryRowContext(ctx, `SELECT client_id FROM matching_rules WHERE id = ?`, id).Scan(&clientID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("matching rule %d: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get matching rule: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE matching_rules SET enabled = ? WHERE id = ?`, enabled, id); err != nil {
			return fmt.Errorf("failed to update matching rule: %w", err)
		}

		action := model.AuditRuleDisabled
		if enabled {
			action = model.AuditRuleEnabled
		}
		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  clientID,
			Action:    action,
			SubjectID: fmt.Sprintf("rule:%d", id),
			Actor:     actor,
			Detail:    fmt.Sprintf("enabled=%t", enabled),
		})
	})
}

func scanRule(row rowScanner) (*model.MatchingRule, error) {
	var rule model.MatchingRule
	var kind, params string
	err := row.Scan(&rule.ID, &rule.ClientID, &rule.Name, &kind, &params, &rule.Priority, &rule.Enabled, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	rule.Kind = model.RuleKind(kind)
	rule.Params = json.RawMessage(params)
	return &rule, nil
}
