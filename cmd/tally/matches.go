package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

func matchesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Inspect and edit matches between bank transactions and ledger entries",
	}
	cmd.AddCommand(
		matchesListCmd(g),
		matchesUnmatchedCmd(g),
		matchesCreateCmd(g),
		matchesUnmatchCmd(g),
		matchesHistoryCmd(g),
	)
	return cmd
}

func matchesListCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active matches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := scopeFlags(cmd)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app) error {
				matches, err := a.store.ListMatched(ctx, scope)
				if err != nil {
					return err
				}
				if len(matches) == 0 {
					a.println(cli.FormatInfo("No active matches"))
					return nil
				}
				rows := make([][]string, 0, len(matches))
				for _, m := range matches {
					rows = append(rows, []string{
						m.ID, m.BankTransactionID, m.LedgerEntryID, string(m.Type),
						formatScore(m.Score), m.CreatedBy, formatDay(m.CreatedAt),
					})
				}
				a.println(cli.RenderTable([]string{"Match", "Transaction", "Entry", "Type", "Score", "By", "Created"}, rows))
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func matchesUnmatchedCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "List open bank transactions and ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := scopeFlags(cmd)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app) error {
				set, err := a.store.ListUnmatched(ctx, scope)
				if err != nil {
					return err
				}

				a.println(cli.FormatTitle(fmt.Sprintf("Open bank transactions (%d)", len(set.Transactions))))
				if len(set.Transactions) > 0 {
					a.printTransactions(set.Transactions)
				}

				a.println("")
				a.println(cli.FormatTitle(fmt.Sprintf("Open ledger entries (%d)", len(set.Entries))))
				if len(set.Entries) > 0 {
					rows := make([][]string, 0, len(set.Entries))
					for _, e := range set.Entries {
						rows = append(rows, []string{
							e.ID, formatDay(e.Date), e.AccountCode, cli.FormatAmount(e.NetAmount()),
							e.Reference, e.Description,
						})
					}
					a.println(cli.RenderTable([]string{"Entry", "Date", "Account", "Net", "Reference", "Description"}, rows))
				}
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func matchesCreateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Match a bank transaction to a ledger entry by hand",
		RunE: func(cmd *cobra.Command, _ []string) error {
			txnID, _ := cmd.Flags().GetString("txn")
			entryID, _ := cmd.Flags().GetString("entry")
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.checkOwnership(ctx, clientFlag(cmd), txnID, entryID); err != nil {
					return err
				}
				rec, err := a.store.CreateMatch(ctx, model.NewMatch{
					BankTransactionID: txnID,
					LedgerEntryID:     entryID,
					Type:              model.MatchTypeManual,
					Actor:             actor,
				})
				if err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Matched %s to %s (match %s)", txnID, entryID, rec.ID)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().String("txn", "", "bank transaction ID")
	cmd.Flags().String("entry", "", "ledger entry ID")
	_ = cmd.MarkFlagRequired("txn")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

// checkOwnership keeps commands from reaching across clients.
func (a *app) checkOwnership(ctx context.Context, clientID, txnID, entryID string) error {
	if txnID != "" {
		txn, err := a.store.GetBankTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if txn.ClientID != clientID {
			return fmt.Errorf("bank transaction %s: %w", txnID, common.ErrNotFound)
		}
	}
	if entryID != "" {
		entry, err := a.store.GetLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.ClientID != clientID {
			return fmt.Errorf("ledger entry %s: %w", entryID, common.ErrNotFound)
		}
	}
	return nil
}

func matchesUnmatchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatch [MATCH_ID]",
		Short: "Undo a match and reopen both sides",
		Long: `Undo a match by its ID, or the active match of a bank transaction with --txn.
The match record is kept for the audit trail.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txnID, _ := cmd.Flags().GetString("txn")
			if (len(args) == 0) == (txnID == "") {
				return common.Validationf("give either a match ID or --txn")
			}
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				client := clientFlag(cmd)
				var rec *model.MatchRecord
				if txnID != "" {
					if err := a.checkOwnership(ctx, client, txnID, ""); err != nil {
						return err
					}
					rec, err = a.store.UnmatchTransaction(ctx, txnID, actor)
					if err != nil {
						return err
					}
					if rec == nil {
						a.println(cli.FormatInfo(fmt.Sprintf("Transaction %s is not matched", txnID)))
						return nil
					}
				} else {
					existing, err := a.store.GetMatch(ctx, args[0])
					if err != nil {
						return err
					}
					if existing.ClientID != client {
						return fmt.Errorf("match %s: %w", args[0], common.ErrNotFound)
					}
					if rec, err = a.store.Unmatch(ctx, args[0], actor); err != nil {
						return err
					}
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Unmatched %s from %s", rec.BankTransactionID, rec.LedgerEntryID)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().String("txn", "", "bank transaction whose active match to undo")
	return cmd
}

func matchesHistoryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history MATCH_ID",
		Short: "Show the audit trail of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.store.GetMatch(ctx, args[0])
				if err != nil {
					return err
				}
				if rec.ClientID != clientFlag(cmd) {
					return fmt.Errorf("match %s: %w", args[0], common.ErrNotFound)
				}
				events, err := a.store.ListMatchAudit(ctx, args[0])
				if err != nil {
					return err
				}
				a.printAudit(events)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	return cmd
}
