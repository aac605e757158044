package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

func rulesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage deterministic matching rules",
		Long: `Matching rules run before confidence scoring. The enabled rule with the
lowest priority number that links a transaction to a candidate entry wins.

Kinds and their params:
  kid_exact             {}
  amount_tolerance      {"tolerance": "0.50"}
  description_contains  {"text": "gebyr", "account_code": "7770"}
  date_range            {"from": "2024-01-01", "to": "2024-12-31", "max_days_apart": 3}`,
	}
	cmd.AddCommand(
		rulesAddCmd(g),
		rulesListCmd(g),
		rulesImportCmd(g),
		rulesToggleCmd(g, "enable", "Enable a matching rule", true),
		rulesToggleCmd(g, "disable", "Disable a matching rule", false),
	)
	return cmd
}

func rulesAddCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a matching rule",
		Example: `  tally rules add --client acme --name "Customer KID" --kind kid_exact --priority 10
  tally rules add --client acme --name "Bank fees" --kind description_contains \
      --params '{"text":"gebyr","account_code":"7770"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			kind, _ := cmd.Flags().GetString("kind")
			priority, _ := cmd.Flags().GetInt("priority")
			params, _ := cmd.Flags().GetString("params")
			disabled, _ := cmd.Flags().GetBool("disabled")
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}
			if !json.Valid([]byte(params)) {
				return common.Validationf("--params is not valid JSON")
			}

			def := model.MatchingRule{
				ClientID: clientFlag(cmd),
				Name:     name,
				Kind:     model.RuleKind(kind),
				Params:   json.RawMessage(params),
				Priority: priority,
				Enabled:  !disabled,
			}
			if _, err := rules.Parse(def); err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.CreateRule(ctx, &def, actor); err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Created rule %d (%s)", def.ID, def.Name)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().String("name", "", "rule name")
	cmd.Flags().String("kind", "", "kid_exact, amount_tolerance, description_contains or date_range")
	cmd.Flags().Int("priority", 100, "lower numbers run first")
	cmd.Flags().String("params", "{}", "kind-specific parameters as JSON")
	cmd.Flags().Bool("disabled", false, "create the rule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func rulesListCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a client's matching rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return g.run(cmd, func(ctx context.Context, a *app) error {
				defs, err := a.store.ListRules(ctx, clientFlag(cmd), !all)
				if err != nil {
					return err
				}
				if len(defs) == 0 {
					a.println(cli.FormatInfo("No matching rules"))
					return nil
				}
				rows := make([][]string, 0, len(defs))
				for _, d := range defs {
					enabled := cli.SuccessIcon
					if !d.Enabled {
						enabled = "-"
					}
					rows = append(rows, []string{
						strconv.FormatInt(d.ID, 10), strconv.Itoa(d.Priority), d.Name,
						string(d.Kind), string(d.Params), enabled,
					})
				}
				a.println(cli.RenderTable([]string{"ID", "Priority", "Name", "Kind", "Params", "Enabled"}, rows))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().Bool("all", false, "include disabled rules")
	return cmd
}

func rulesImportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import matching rules from a YAML file",
		Long: `Import matching rules from YAML:

  rules:
    - name: Customer KID
      kind: kid_exact
      priority: 10
    - name: Bank fees
      kind: description_contains
      priority: 50
      params: {text: "gebyr", account_code: "7770"}

A file with any malformed rule is rejected as a whole.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}
			defs, err := rules.LoadFile(config.ExpandPath(args[0]), clientFlag(cmd))
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				for i := range defs {
					if err := a.store.CreateRule(ctx, &defs[i], actor); err != nil {
						return fmt.Errorf("rule %q: %w", defs[i].Name, err)
					}
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Imported %d rules", len(defs))))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	return cmd
}

func rulesToggleCmd(g *globals, use, short string, enabled bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " RULE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return common.Validationf("rule ID %q is not a number", args[0])
			}
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				rule, err := a.store.GetRule(ctx, id)
				if err != nil {
					return err
				}
				if rule.ClientID != clientFlag(cmd) {
					return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
				}
				if err := a.store.SetRuleEnabled(ctx, id, enabled, actor); err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Rule %d (%s) %sd", id, rule.Name, use)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	return cmd
}
