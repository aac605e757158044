package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/storage"
)

func migrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every other command migrates on open as well; run this explicitly when
setting up a new database or to check its schema version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetBool("status")
			dbPath := g.cfg.Database.Path

			store, err := storage.NewSQLiteStorage(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			current, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if status {
				_, err := fmt.Fprintf(out, "%s\n  Database: %s\n  Current version: %d\n  Latest version: %d\n",
					cli.FormatTitle("Database Migration Status"), dbPath, current, storage.ExpectedSchemaVersion)
				return err
			}

			slog.Info("Running database migrations", "database", dbPath, "from_version", current)
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			_, err = fmt.Fprintln(out, cli.FormatSuccess(
				fmt.Sprintf("Database at schema version %d", storage.ExpectedSchemaVersion)))
			return err
		},
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	return cmd
}
