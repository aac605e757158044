package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
)

func thresholdsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Show or change a client's auto-posting thresholds",
		Long: `A suggestion is posted without review only when its account, VAT and
global confidence each meet the client's threshold. Clients without stored
thresholds use account 80, VAT 85 and global 85.`,
	}
	cmd.AddCommand(thresholdsShowCmd(g), thresholdsSetCmd(g))
	return cmd
}

func thresholdsShowCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current thresholds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				t, err := a.store.GetThresholds(ctx, clientFlag(cmd))
				if err != nil {
					return err
				}
				a.printThresholds(t)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	return cmd
}

func thresholdsSetCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Change thresholds; values not given are kept",
		Example: "  tally thresholds set --client acme --account 90 --vat 90",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				t, err := a.store.GetThresholds(ctx, clientFlag(cmd))
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("account") {
					t.Account, _ = flags.GetFloat64("account")
				}
				if flags.Changed("vat") {
					t.VAT, _ = flags.GetFloat64("vat")
				}
				if flags.Changed("global") {
					t.Global, _ = flags.GetFloat64("global")
				}

				if err := a.store.SaveThresholds(ctx, t, actor); err != nil {
					return err
				}
				saved, err := a.store.GetThresholds(ctx, t.ClientID)
				if err != nil {
					return err
				}
				a.println(cli.FormatSuccess("Thresholds updated"))
				a.printThresholds(saved)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().Float64("account", 0, "account confidence threshold (0-100)")
	cmd.Flags().Float64("vat", 0, "VAT confidence threshold (0-100)")
	cmd.Flags().Float64("global", 0, "global confidence threshold (0-100)")
	return cmd
}

func (a *app) printThresholds(t model.ThresholdConfig) {
	a.println(cli.RenderTable([]string{"Client", "Account", "VAT", "Global"}, [][]string{{
		t.ClientID,
		fmt.Sprintf("%g", t.Account),
		fmt.Sprintf("%g", t.VAT),
		fmt.Sprintf("%g", t.Global),
	}}))
}
