package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/model"
)

func feedbackCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Report suggestion accuracy and export training data",
	}
	cmd.AddCommand(feedbackStatsCmd(g), feedbackExportCmd(g))
	return cmd
}

func feedbackStatsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how often AI suggestions were right",
		Long: `Summarize feedback for a client. Each review item counts once, by its most
recent feedback record, so a revision replaces the original judgment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, err := periodFlags(cmd)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app) error {
				summary, err := a.recorder().AggregateAccuracy(ctx, clientFlag(cmd), period)
				if err != nil {
					return err
				}
				a.printAccuracy(summary)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().String("from", "", "first day of the period (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last day of the period (YYYY-MM-DD)")
	return cmd
}

func (a *app) printAccuracy(s model.AccuracySummary) {
	a.println(cli.FormatTitle(cli.ChartIcon + " Suggestion accuracy: " + s.ClientID))
	if s.Total == 0 {
		a.println(cli.FormatInfo("No feedback recorded"))
		return
	}
	a.println(cli.RenderTable([]string{"Measure", "Value"}, [][]string{
		{"Items", fmt.Sprint(s.Total)},
		{"Approved", fmt.Sprint(s.ApprovedCount)},
		{"Corrected", fmt.Sprint(s.CorrectedCount)},
		{"Rejected", fmt.Sprint(s.RejectedCount)},
		{"Account correct", fmt.Sprintf("%.1f%%", s.AccountAccuracyPct)},
		{"VAT correct", fmt.Sprintf("%.1f%%", s.VATAccuracyPct)},
		{"Fully correct", fmt.Sprintf("%.1f%%", s.FullyCorrectPct)},
	}))
}

func feedbackExportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export feedback as training data",
		Long: `Export the latest feedback of each review item, oldest first, as JSON lines
or CSV.
With --sheets the rows and an accuracy summary are written to Google Sheets
instead.`,
		Example: `  tally feedback export --client acme --format csv --output training.csv
  tally feedback export --client acme --sheets`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			limit, _ := cmd.Flags().GetInt("limit")
			toSheets, _ := cmd.Flags().GetBool("sheets")
			f := feedback.Format(format)
			if f != feedback.FormatJSONL && f != feedback.FormatCSV {
				return common.Validationf("unknown format %q", format)
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				client := clientFlag(cmd)
				rows, err := a.recorder().ExportTrainingData(ctx, client, limit)
				if err != nil {
					return err
				}

				if toSheets {
					summary, err := a.recorder().AggregateAccuracy(ctx, client, nil)
					if err != nil {
						return err
					}
					writer, err := newReportWriter(ctx, g)
					if err != nil {
						return err
					}
					id, err := writer.WriteTraining(ctx, summary, rows)
					if err != nil {
						return err
					}
					a.println(cli.FormatSuccess(fmt.Sprintf("Wrote %d training rows to spreadsheet %s", len(rows), id)))
					return nil
				}

				var w io.Writer = a.out
				if output != "" {
					file, err := os.Create(config.ExpandPath(output)) // #nosec G304
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer func() { _ = file.Close() }()
					w = file
				}
				if err := feedback.Write(w, f, rows); err != nil {
					return err
				}
				if output != "" {
					a.println(cli.FormatSuccess(fmt.Sprintf("Wrote %d training rows to %s", len(rows), output)))
				}
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().String("format", string(feedback.FormatJSONL), "jsonl or csv")
	cmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	cmd.Flags().Int("limit", 0, "maximum rows (0 for all)")
	cmd.Flags().Bool("sheets", false, "write to Google Sheets")
	return cmd
}
