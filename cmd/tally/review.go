package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/service"
)

func reviewCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Submit AI suggestions and work the review queue",
	}
	cmd.AddCommand(
		reviewSubmitCmd(g),
		reviewListCmd(g),
		reviewShowCmd(g),
		reviewApproveCmd(g),
		reviewCorrectCmd(g),
		reviewRejectCmd(g),
		reviewReviseCmd(g),
		reviewInteractiveCmd(g),
	)
	return cmd
}

func reviewSubmitCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an AI posting suggestion",
		Long: `Submit an AI posting suggestion. It is booked at once when its account,
VAT and global confidence all meet the client's thresholds, and queued for
review otherwise.

The suggestion is given with flags or as JSON with --file:

  {"subject_ref": "INV-1001", "account_code": "6540", "vat_code": "1",
   "description": "Office chairs", "amount": "-4990.00",
   "confidence": {"account": 92, "vat": 97, "global": 90}}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := suggestionFromFlags(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.reviewEngine()
				if err != nil {
					return err
				}
				decision, err := engine.SubmitForClient(ctx, s)
				if err != nil {
					return err
				}
				if decision.Outcome == review.OutcomeAutoPosted {
					a.println(cli.FormatSuccess(fmt.Sprintf("%s posted as voucher %s", s.SubjectRef, decision.VoucherID)))
					return nil
				}
				a.println(cli.FormatInfo(fmt.Sprintf("%s queued for review as %s", s.SubjectRef, decision.Item.ID)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	flags := cmd.Flags()
	flags.String("file", "", "read the suggestion from a JSON file")
	flags.String("subject", "", "invoice or voucher reference")
	flags.String("account", "", "suggested account code")
	flags.String("vat", "", "suggested VAT code")
	flags.String("description", "", "posting text")
	flags.String("amount", "", "amount")
	flags.Float64("account-confidence", 0, "account confidence (0-100)")
	flags.Float64("vat-confidence", 0, "VAT confidence (0-100)")
	flags.Float64("global-confidence", 0, "global confidence (0-100)")
	return cmd
}

func suggestionFromFlags(cmd *cobra.Command) (model.Suggestion, error) {
	flags := cmd.Flags()
	client := clientFlag(cmd)

	if file, _ := flags.GetString("file"); file != "" {
		data, err := os.ReadFile(config.ExpandPath(file)) // #nosec G304
		if err != nil {
			return model.Suggestion{}, fmt.Errorf("failed to read suggestion file: %w", err)
		}
		var s model.Suggestion
		if err := json.Unmarshal(data, &s); err != nil {
			return model.Suggestion{}, common.Validationf("suggestion file: %v", err)
		}
		if s.ClientID != "" && s.ClientID != client {
			return model.Suggestion{}, common.Validationf("suggestion is for client %s, not %s", s.ClientID, client)
		}
		s.ClientID = client
		return s, nil
	}

	s := model.Suggestion{ClientID: client}
	s.SubjectRef, _ = flags.GetString("subject")
	s.AccountCode, _ = flags.GetString("account")
	s.VATCode, _ = flags.GetString("vat")
	s.Description, _ = flags.GetString("description")
	s.Confidence.Account, _ = flags.GetFloat64("account-confidence")
	s.Confidence.VAT, _ = flags.GetFloat64("vat-confidence")
	s.Confidence.Global, _ = flags.GetFloat64("global-confidence")

	amount, _ := flags.GetString("amount")
	if amount == "" {
		return model.Suggestion{}, common.Validationf("--amount or --file is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Suggestion{}, common.Validationf("--amount: %v", err)
	}
	s.Amount = d
	return s, nil
}

func reviewListCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review queue items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			st := model.ReviewStatus(strings.ToUpper(status))
			if st != "" && st != model.ReviewPending && !st.IsTerminal() {
				return common.Validationf("unknown status %q", status)
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				items, err := a.store.ListReviewItems(ctx, service.ReviewFilter{
					ClientID: clientFlag(cmd),
					Status:   st,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if len(items) == 0 {
					a.println(cli.FormatInfo("No review items"))
					return nil
				}
				a.printReviewItems(items)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	cmd.Flags().String("status", string(model.ReviewPending), "PENDING, APPROVED, CORRECTED, REJECTED or empty for all")
	cmd.Flags().Int("limit", 100, "maximum items to list")
	return cmd
}

func (a *app) printReviewItems(items []model.ReviewQueueItem) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID, string(it.Status), it.SubjectRef, cli.FormatAmount(it.Amount),
			it.SuggestedAccount, it.SuggestedVAT,
			fmt.Sprintf("%g/%g/%g", it.Confidence.Account, it.Confidence.VAT, it.Confidence.Global),
			it.Description,
		})
	}
	a.println(cli.RenderTable([]string{"ID", "Status", "Subject", "Amount", "Account", "VAT", "Confidence", "Description"}, rows))
}

// clientReviewItem fetches an item and hides it when it belongs to another client.
func (a *app) clientReviewItem(ctx context.Context, clientID, id string) (*model.ReviewQueueItem, error) {
	item, err := a.store.GetReviewItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.ClientID != clientID {
		return nil, fmt.Errorf("review item %s: %w", id, common.ErrNotFound)
	}
	return item, nil
}

func reviewShowCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show ITEM_ID",
		Short: "Show one review item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				item, err := a.clientReviewItem(ctx, clientFlag(cmd), args[0])
				if err != nil {
					return err
				}
				a.printReviewItem(item)
				return nil
			})
		},
	}
	addClientFlag(cmd)
	return cmd
}

func (a *app) printReviewItem(it *model.ReviewQueueItem) {
	lines := []string{
		fmt.Sprintf("Subject:     %s", it.SubjectRef),
		fmt.Sprintf("Description: %s", it.Description),
		fmt.Sprintf("Amount:      %s", cli.FormatAmount(it.Amount)),
		fmt.Sprintf("Suggested:   account %s, VAT %s", it.SuggestedAccount, it.SuggestedVAT),
		fmt.Sprintf("Confidence:  account %g, VAT %g, global %g", it.Confidence.Account, it.Confidence.VAT, it.Confidence.Global),
		fmt.Sprintf("Status:      %s", it.Status),
		fmt.Sprintf("Created:     %s", it.CreatedAt.Format("2006-01-02 15:04")),
	}
	if it.Status.IsTerminal() {
		lines = append(lines, fmt.Sprintf("Final:       account %s, VAT %s", it.FinalAccount, it.FinalVAT))
		lines = append(lines, fmt.Sprintf("Resolved by: %s", it.ResolvedBy))
		if it.VoucherID != "" {
			lines = append(lines, fmt.Sprintf("Voucher:     %s", it.VoucherID))
		}
		if it.Notes != "" {
			lines = append(lines, fmt.Sprintf("Notes:       %s", it.Notes))
		}
	}
	a.println(cli.RenderBox(cli.RobotIcon+" "+it.ID, strings.Join(lines, "\n")))
}

// resolveCmd builds approve, correct and reject, which share ownership checks
// and output.
func resolveCmd(g *globals, use, short string, withCorrection bool,
	fn func(ctx context.Context, e *review.Engine, id, actor string, c model.Correction) (*model.ReviewQueueItem, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " ITEM_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}
			c := correctionFlags(cmd)

			return g.run(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.clientReviewItem(ctx, clientFlag(cmd), args[0]); err != nil {
					return err
				}
				engine, err := a.reviewEngine()
				if err != nil {
					return err
				}
				item, err := fn(ctx, engine, args[0], actor, c)
				if err != nil {
					return describeResolveError(args[0], err)
				}
				msg := fmt.Sprintf("%s %s", item.SubjectRef, strings.ToLower(string(item.Status)))
				if item.VoucherID != "" {
					msg += " as voucher " + item.VoucherID
				}
				a.println(cli.FormatSuccess(msg))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	if withCorrection {
		cmd.Flags().String("account", "", "correct account code")
		cmd.Flags().String("vat", "", "correct VAT code")
	}
	cmd.Flags().String("notes", "", "note recorded on the item")
	return cmd
}

func correctionFlags(cmd *cobra.Command) model.Correction {
	var c model.Correction
	if f := cmd.Flags().Lookup("account"); f != nil {
		c.AccountCode = f.Value.String()
	}
	if f := cmd.Flags().Lookup("vat"); f != nil {
		c.VATCode = f.Value.String()
	}
	c.Notes, _ = cmd.Flags().GetString("notes")
	return c
}

func describeResolveError(id string, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidState):
		return fmt.Errorf("review item %s was already resolved: %w", id, err)
	case errors.Is(err, common.ErrPostingFailed):
		return fmt.Errorf("booking failed, review item %s left pending: %w", id, err)
	}
	return err
}

func reviewApproveCmd(g *globals) *cobra.Command {
	return resolveCmd(g, "approve", "Approve a suggestion and book it", false,
		func(ctx context.Context, e *review.Engine, id, actor string, _ model.Correction) (*model.ReviewQueueItem, error) {
			return e.Approve(ctx, id, actor)
		})
}

func reviewCorrectCmd(g *globals) *cobra.Command {
	return resolveCmd(g, "correct", "Book a suggestion with a corrected account or VAT code", true,
		func(ctx context.Context, e *review.Engine, id, actor string, c model.Correction) (*model.ReviewQueueItem, error) {
			return e.Correct(ctx, id, actor, c)
		})
}

func reviewRejectCmd(g *globals) *cobra.Command {
	return resolveCmd(g, "reject", "Reject a suggestion without booking", false,
		func(ctx context.Context, e *review.Engine, id, actor string, c model.Correction) (*model.ReviewQueueItem, error) {
			return e.Reject(ctx, id, actor, c.Notes)
		})
}

func reviewReviseCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revise ITEM_ID",
		Short: "Record a later correction of a resolved item",
		Long: `Record that a resolved item turned out to need a different account or VAT
code. A new feedback record is appended; the item and its voucher are not
changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}
			c := correctionFlags(cmd)

			return g.run(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.clientReviewItem(ctx, clientFlag(cmd), args[0]); err != nil {
					return err
				}
				engine, err := a.reviewEngine()
				if err != nil {
					return err
				}
				rec, err := engine.Revise(ctx, args[0], actor, c)
				if err != nil {
					return err
				}
				a.println(cli.FormatSuccess(fmt.Sprintf("Recorded revision %s: account %s, VAT %s",
					rec.ID, rec.FinalAccount, rec.FinalVAT)))
				return nil
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().String("account", "", "correct account code")
	cmd.Flags().String("vat", "", "correct VAT code")
	return cmd
}

func reviewInteractiveCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Work through pending review items one by one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			actor, err := g.actorFlag(cmd)
			if err != nil {
				return err
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.reviewEngine()
				if err != nil {
					return err
				}
				items, err := engine.Pending(ctx, clientFlag(cmd), limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					a.println(cli.FormatSuccess("Review queue is empty"))
					return nil
				}

				handler := cli.NewInterruptHandler(a.out, "Resolved items are saved; run tally review interactive again to continue.")
				ctx, stop := handler.HandleInterrupts(ctx)
				defer stop()

				a.println(cli.FormatTitle(fmt.Sprintf("%s %d pending suggestions", cli.LedgerIcon, len(items))))
				prompter := cli.NewPrompter(cmd.InOrStdin(), a.out)
				_, err = prompter.Run(ctx, items, engine, actor)
				prompter.ShowCompletion()
				if errors.Is(err, cli.ErrQuit) || handler.WasInterrupted() {
					return nil
				}
				return err
			})
		},
	}
	addClientFlag(cmd)
	addActorFlag(cmd)
	cmd.Flags().Int("limit", 0, "maximum items to review (0 for all)")
	return cmd
}
