package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// GetThresholds returns the client's thresholds, or the defaults when none are stored.
func (s *SQLiteStorage) GetThresholds(ctx context.Context, clientID string) (model.ThresholdConfig, error) {
	if err := validateContext(ctx); err != nil {
		return model.ThresholdConfig{}, err
	}
	if err := validateString(clientID, "clientID"); err != nil {
		return model.ThresholdConfig{}, err
	}

	cfg := model.ThresholdConfig{ClientID: clientID}
	err := s.db.QueryRowContext(ctx, `
		SELECT account, vat, global, updated_at FROM thresholds WHERE client_id = ?
	`, clientID).Scan(&cfg.Account, &cfg.VAT, &cfg.Global, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultThresholds(clientID), nil
	}
	if err != nil {
		return model.ThresholdConfig{}, fmt.Errorf("failed to get thresholds: %w", err)
	}
	return cfg, nil
}

// SaveThresholds replaces the client's thresholds.
func (s *SQLiteStorage) SaveThresholds(ctx context.Context, cfg model.ThresholdConfig, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateThresholds(cfg); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thresholds (client_id, account, vat, global, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(client_id) DO UPDATE SET
				account = excluded.account,
				vat = excluded.vat,
				global = excluded.global,
				updated_at = excluded.updated_at
		`, cfg.ClientID, cfg.Account, cfg.VAT, cfg.Global, now)
		if err != nil {
			return fmt.Errorf("failed to save thresholds: %w", err)
		}

		return writeAudit(ctx, tx, model.AuditEvent{
			ClientID:  cfg.ClientID,
			Action:    model.AuditThresholdsUpdated,
			SubjectID: "thresholds:" + cfg.ClientID,
			Actor:     actor,
			Detail:    fmt.Sprintf("account=%.0f vat=%.0f global=%.0f", cfg.Account, cfg.VAT, cfg.Global),
			CreatedAt: now,
		})
	})
}
