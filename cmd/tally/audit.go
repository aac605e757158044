package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

func auditCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of a client",
		Long: `List recorded changes, newest first: matches created and undone, review
resolutions, feedback revisions, threshold and rule changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			limit, _ := cmd.Flags().GetInt("limit")

			return g.run(cmd, func(ctx context.Context, a *app) error {
				events, err := a.store.ListAuditEvents(ctx, service.AuditFilter{
					ClientID:  clientFlag(cmd),
					SubjectID: subject,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				a.printAudit(events)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().String("subject", "", "only events about this match, item or rule ID")
	cmd.Flags().Int("limit", 50, "maximum events")
	return cmd
}

func (a *app) printAudit(events []model.AuditEvent) {
	if len(events) == 0 {
		a.println(cli.FormatInfo("No audit events"))
		return
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04:05"), string(e.Action), e.SubjectID, e.Actor, e.Detail,
		})
	}
	a.println(cli.RenderTable([]string{"Time", "Action", "Subject", "Actor", "Detail"}, rows))
}
