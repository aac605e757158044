package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/ledger"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/ofx"
	"github.com/Veraticus/tally/internal/plaid"
	"github.com/Veraticus/tally/internal/simplefin"
)

// Bank feed constructors, swapped out in tests.
var (
	newPlaidFetcher = func(cfg plaid.Config) (plaid.TransactionFetcher, error) {
		return plaid.NewClient(cfg)
	}
	newSimpleFINFetcher = func(ctx context.Context, cfg simplefin.Config) (plaid.TransactionFetcher, error) {
		return simplefin.NewClient(ctx, cfg)
	}
)

func importCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank transactions and ledger entries",
	}
	cmd.AddCommand(importOFXCmd(g), importPlaidCmd(g), importSimpleFINCmd(g), importLedgerCmd(g))
	return cmd
}

func importOFXCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ofx [files...]",
		Short: "Import bank transactions from OFX/QFX files",
		Long: `Import bank transactions from OFX or QFX statement files.

Transactions already imported (same client, account, date, amount,
description and reference) are skipped.

Examples:
  tally import ofx --client acme ~/Downloads/dnb_2024_03.ofx
  tally import ofx --client acme ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			files, err := expandGlobs(args)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				txns, err := parseOFXFiles(ctx, files, clientFlag(cmd))
				if err != nil {
					return err
				}
				return a.saveTransactions(ctx, txns, dryRun)
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	return cmd
}

func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

func parseOFXFiles(ctx context.Context, files []string, clientID string) ([]model.BankTransaction, error) {
	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var all []model.BankTransaction

	for _, path := range files {
		f, err := os.Open(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		txns, err := parser.ParseFile(ctx, f, clientID)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		added := 0
		for _, tx := range txns {
			if tx.Hash == "" {
				tx.Hash = tx.GenerateHash()
			}
			if seen[tx.Hash] {
				continue
			}
			seen[tx.Hash] = true
			all = append(all, tx)
			added++
		}
		slog.Info("Processed file",
			"file", filepath.Base(path),
			"transactions_found", len(txns),
			"added", added,
			"duplicates", len(txns)-added)
	}
	return all, nil
}

func (a *app) saveTransactions(ctx context.Context, txns []model.BankTransaction, dryRun bool) error {
	if len(txns) == 0 {
		a.println(cli.FormatWarning("No transactions found"))
		return nil
	}
	if dryRun {
		a.printTransactions(txns)
		a.println(cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions parsed, nothing saved", len(txns))))
		return nil
	}

	inserted, err := a.store.SaveBankTransactions(ctx, txns)
	if err != nil {
		return err
	}
	a.println(cli.FormatSuccess(fmt.Sprintf("Imported %d transactions (%d already present)", inserted, len(txns)-inserted)))
	return nil
}

func (a *app) printTransactions(txns []model.BankTransaction) {
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, []string{t.ID, formatDay(t.Date), t.AccountID, cli.FormatAmount(t.Amount), t.Currency, t.KID, t.Description})
	}
	a.println(cli.RenderTable([]string{"Transaction", "Date", "Account", "Amount", "Currency", "KID", "Description"}, rows))
}

func importPlaidCmd(g *globals) *cobra.Command {
	return feedImportCmd(g, "plaid", "Fetch bank transactions from Plaid",
		`Fetch bank transactions for the configured Plaid access token.

Credentials come from plaid.client_id, plaid.secret, plaid.environment and
plaid.access_token (or TALLY_PLAID_* environment variables).`,
		func(_ context.Context, a *app) (plaid.TransactionFetcher, error) {
			return newPlaidFetcher(a.cfg.Plaid)
		})
}

func importSimpleFINCmd(g *globals) *cobra.Command {
	return feedImportCmd(g, "simplefin", "Fetch bank transactions from a SimpleFIN Bridge",
		`Fetch posted bank transactions from a SimpleFIN Bridge.

The first run claims the setup token in simplefin.token (or
TALLY_SIMPLEFIN_TOKEN) and saves the access URL to simplefin.state_file.
Later runs reuse the saved access URL. Pending transactions are skipped.`,
		func(ctx context.Context, a *app) (plaid.TransactionFetcher, error) {
			return newSimpleFINFetcher(ctx, a.cfg.SimpleFIN)
		})
}

// feedImportCmd builds an import command for a bank feed that fetches a
// date range.
func feedImportCmd(g *globals, use, short, long string, connect func(context.Context, *app) (plaid.TransactionFetcher, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			days, _ := cmd.Flags().GetInt("days")

			period, err := periodFlags(cmd)
			if err != nil {
				return err
			}
			if period == nil {
				end := time.Now().UTC().Truncate(24 * time.Hour)
				period = &model.DateRange{Start: end.AddDate(0, 0, -days), End: end}
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				fetcher, err := connect(ctx, a)
				if err != nil {
					return err
				}
				txns, err := fetcher.GetTransactions(ctx, clientFlag(cmd), period.Start, period.End)
				if err != nil {
					return err
				}
				return a.saveTransactions(ctx, txns, dryRun)
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().Int("days", 30, "days back to fetch when --from/--to are not given")
	cmd.Flags().String("from", "", "first day to fetch (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last day to fetch (YYYY-MM-DD)")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	return cmd
}

func importLedgerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger FILE",
		Short: "Import ledger entries from a CSV export",
		Long: `Import general-ledger entries from CSV.

The header must name the columns id, date, account, description, debit and
credit; voucher and reference are optional. Entries whose ID is already
stored are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			f, err := os.Open(config.ExpandPath(args[0])) // #nosec G304
			if err != nil {
				return fmt.Errorf("failed to open ledger file: %w", err)
			}
			defer func() { _ = f.Close() }()

			entries, err := ledger.ParseCSV(f, clientFlag(cmd))
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				if len(entries) == 0 {
					a.println(cli.FormatWarning("No ledger entries found"))
					return nil
				}
				if dryRun {
					a.println(cli.FormatInfo(fmt.Sprintf("Dry run: %d ledger entries parsed, nothing saved", len(entries))))
					return nil
				}
				inserted, err := a.store.SaveLedgerEntries(ctx, entries)
				if err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Imported %d ledger entries (%d already present)",
					inserted, len(entries)-inserted)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	return cmd
}
