package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/booking"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/storage"
)

// app is the wired set of collaborators a command runs against.
type app struct {
	cfg   *config.Config
	store *storage.SQLiteStorage
	out   io.Writer
}

// openApp opens and migrates the configured database.
func (g *globals) openApp(cmd *cobra.Command) (*app, error) {
	store, err := storage.NewSQLiteStorage(g.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &app{cfg: g.cfg, store: store, out: cmd.OutOrStdout()}, nil
}

// run opens the app, calls fn and closes the database afterwards.
func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := g.openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.store.Close() }()
	return fn(cmd.Context(), a)
}

func (a *app) reviewEngine() (*review.Engine, error) {
	journal, err := booking.NewJournal(a.cfg.Booking.JournalPath)
	if err != nil {
		return nil, err
	}
	return review.NewEngine(a.store, journal), nil
}

func (a *app) matchingService() *matching.Service {
	return matching.NewService(a.store, matching.NewWithConfig(a.cfg.Matching))
}

func (a *app) recorder() *feedback.Recorder {
	return feedback.NewRecorder(a.store)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(s string) {
	_, _ = fmt.Fprintln(a.out, s)
}

func addClientFlag(cmd *cobra.Command) {
	cmd.Flags().String("client", "", "client ID (required)")
	_ = cmd.MarkFlagRequired("client")
}

func clientFlag(cmd *cobra.Command) string {
	client, _ := cmd.Flags().GetString("client")
	return client
}

func addActorFlag(cmd *cobra.Command) {
	cmd.Flags().String("actor", "", "user recorded on the change (default: review.actor)")
}

// actorFlag resolves --actor, falling back to review.actor.
func (g *globals) actorFlag(cmd *cobra.Command) (string, error) {
	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		actor = g.cfg.Review.Actor
	}
	if strings.TrimSpace(actor) == "" {
		return "", common.Validationf("no actor: pass --actor or set review.actor")
	}
	return actor, nil
}

func addScopeFlags(cmd *cobra.Command) {
	addClientFlag(cmd)
	cmd.Flags().String("account", "", "limit to one bank account")
	cmd.Flags().String("from", "", "first day of the period (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last day of the period (YYYY-MM-DD)")
}

func scopeFlags(cmd *cobra.Command) (model.Scope, error) {
	account, _ := cmd.Flags().GetString("account")
	period, err := periodFlags(cmd)
	if err != nil {
		return model.Scope{}, err
	}
	return model.Scope{ClientID: clientFlag(cmd), AccountID: account, Period: period}, nil
}

// periodFlags reads --from/--to. Both or neither must be given.
func periodFlags(cmd *cobra.Command) (*model.DateRange, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, common.Validationf("--from and --to must be given together")
	}
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, common.Validationf("--from: %v", err)
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, common.Validationf("--to: %v", err)
	}
	if end.Before(start) {
		return nil, common.Validationf("--to %s is before --from %s", to, from)
	}
	return &model.DateRange{Start: start, End: end}, nil
}

func formatScore(score *int) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *score)
}

func formatDay(t time.Time) string {
	return t.Format(time.DateOnly)
}
