package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/matching"
)

func reconcileCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match open bank transactions against open ledger entries",
		Long: `Score every open bank transaction against the open ledger entries of the
same client. Matching rules run first; otherwise candidates scoring at or
above matching.auto_threshold are matched automatically and those above
matching.suggest_threshold are listed as suggestions.

Examples:
  tally reconcile --client acme
  tally reconcile --client acme --account 1503.12.34567 --from 2024-03-01 --to 2024-03-31
  tally reconcile --client acme --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			showRows, _ := cmd.Flags().GetBool("rows")
			scope, err := scopeFlags(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				handler := cli.NewInterruptHandler(a.out, "Matches persisted so far are kept; run tally reconcile again to continue.")
				ctx, stop := handler.HandleInterrupts(ctx)
				defer stop()

				svc := a.matchingService()
				var report *matching.Report
				if dryRun {
					report, err = svc.Preview(ctx, scope)
				} else {
					bar := newReconcileBar(a)
					report, err = svc.Run(ctx, scope, func(done, total int) {
						bar.ChangeMax(total)
						if err := bar.Set(done); err != nil {
							slog.Warn("Failed to update progress bar", "error", err)
						}
					})
					_ = bar.Finish()
					a.println("")
				}
				if err != nil {
					return err
				}

				a.printReport(report, showRows)
				if dryRun {
					a.println(cli.FormatInfo("Dry run: no matches were saved"))
				}
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().BoolP("dry-run", "d", false, "Score without saving any matches")
	cmd.Flags().Bool("rows", true, "List every transaction with its outcome")
	return cmd
}

func newReconcileBar(a *app) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(a.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reconciling...[reset]"),
	)
}

func (a *app) printReport(r *matching.Report, showRows bool) {
	a.println(cli.FormatTitle("Reconciliation Report: " + r.ClientID))

	summary := cli.RenderTable([]string{"Outcome", "Count"}, [][]string{
		{"Auto matched", fmt.Sprint(r.AutoMatched)},
		{"Rule matched", fmt.Sprint(r.RuleMatched)},
		{"Suggested", fmt.Sprint(r.Suggested)},
		{"Unmatched", fmt.Sprint(r.Unmatched)},
		{"Conflicted", fmt.Sprint(r.Conflicted)},
		{"Transactions", fmt.Sprint(r.Transactions)},
	})
	a.println(summary)
	a.printf("\nMatched amount: %s   Unmatched amount: %s\n",
		r.MatchedAmount.StringFixed(2), r.UnmatchedAmount.StringFixed(2))

	if !showRows || len(r.Rows) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		score := "-"
		if row.Score > 0 {
			score = fmt.Sprint(row.Score)
		}
		rows = append(rows, []string{
			formatDay(row.Date),
			row.TransactionID,
			cli.FormatAmount(row.Amount),
			outcomeLabel(row.Outcome),
			score,
			row.EntryID,
			row.RuleName,
			row.Description,
		})
	}
	a.println("")
	a.println(cli.RenderTable([]string{"Date", "Transaction", "Amount", "Outcome", "Score", "Entry", "Rule", "Description"}, rows))
}

func outcomeLabel(o matching.Outcome) string {
	switch o {
	case matching.OutcomeAuto, matching.OutcomeRule:
		return cli.SuccessStyle.Render(string(o))
	case matching.OutcomeSuggested:
		return cli.WarningStyle.Render(string(o))
	case matching.OutcomeUnmatched, matching.OutcomeConflict:
		return cli.ErrorStyle.Render(string(o))
	}
	return string(o)
}
