package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/sheets"
)

// newReportWriter is swapped out in tests.
var newReportWriter = func(ctx context.Context, g *globals) (sheets.ReportWriter, error) {
	cfg, err := config.LoadSheetsConfig(g.v)
	if err != nil {
		return nil, err
	}
	return sheets.NewWriter(ctx, *cfg, slog.Default())
}

func exportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reports to Google Sheets",
		Long: `Export reconciliation reports to Google Sheets.

Authentication uses either a service account (sheets.service_account_path)
or OAuth2 (sheets.client_id, sheets.client_secret plus sheets.refresh_token
or a token saved by "tally export auth" to sheets.token_file).`,
	}
	cmd.AddCommand(exportReportCmd(g), exportAuthCmd(g))
	return cmd
}

func exportReportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a reconciliation report for a scope to Google Sheets",
		Long: `Score the open transactions of a scope, as "tally reconcile --dry-run"
does, and write the report to Google Sheets. Nothing is matched.`,
		Example: "  tally export report --client acme --from 2024-03-01 --to 2024-03-31",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := scopeFlags(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				report, err := a.matchingService().Preview(ctx, scope)
				if err != nil {
					return err
				}
				writer, err := newReportWriter(ctx, g)
				if err != nil {
					return err
				}
				id, err := writer.WriteReport(ctx, *report)
				if err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Wrote report for %d transactions to spreadsheet %s",
					report.Transactions, id)))
				a.println(cli.FormatInfo("https://docs.google.com/spreadsheets/d/" + id))
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func exportAuthCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Sheets access with OAuth2",
		Long: `Open the Google consent page, wait for the redirect on a local listener and
save the token to sheets.token_file. Later exports reuse and refresh it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			addr, _ := cmd.Flags().GetString("callback-addr")

			clientID := g.v.GetString("sheets.client_id")
			secret := g.v.GetString("sheets.client_secret")
			tokenFile := config.ExpandPath(g.v.GetString("sheets.token_file"))
			if clientID == "" || secret == "" || tokenFile == "" {
				return fmt.Errorf("%w: sheets.client_id, sheets.client_secret and sheets.token_file are required",
					common.ErrMissingConfig)
			}

			token, err := sheets.GetOrCreateToken(cmd.Context(), sheets.OAuth2Config{
				ClientID:     clientID,
				ClientSecret: secret,
				TokenFile:    tokenFile,
				CallbackAddr: addr,
				Timeout:      timeout,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Authorized; token saved to %s (expires %s)", tokenFile, token.Expiry.Format(time.RFC3339))))
			return err
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "how long to wait for the browser redirect")
	cmd.Flags().String("callback-addr", sheets.DefaultCallbackAddr, "host:port of the local redirect listener")
	return cmd
}
