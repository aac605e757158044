package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// ErrQuit is returned when the user ends a review session early.
var ErrQuit = errors.New("review session ended by user")

// Action is what the accountant chose for one review item.
type Action string

// Review actions.
const (
	ActionApprove Action = "approve"
	ActionCorrect Action = "correct"
	ActionReject  Action = "reject"
	ActionSkip    Action = "skip"
)

// Choice is an action together with the values it needs.
type Choice struct {
	Action     Action
	Correction model.Correction
}

// Resolver applies review decisions. *review.Engine satisfies it.
type Resolver interface {
	Approve(ctx context.Context, itemID, actor string) (*model.ReviewQueueItem, error)
	Correct(ctx context.Context, itemID, actor string, c model.Correction) (*model.ReviewQueueItem, error)
	Reject(ctx context.Context, itemID, actor, notes string) (*model.ReviewQueueItem, error)
}

// SessionStats summarizes an interactive review session.
type SessionStats struct {
	Duration  time.Duration
	Total     int
	Approved  int
	Corrected int
	Rejected  int
	Skipped   int
	Failed    int
}

// Prompter walks an accountant through pending review items.
type Prompter struct {
	startTime   time.Time
	writer      io.Writer
	reader      *NonBlockingReader
	progressBar *progressbar.ProgressBar
	stats       SessionStats
	statsMutex  sync.RWMutex
}

// NewPrompter creates a prompter reading from reader and writing to writer.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader:    NewNonBlockingReader(reader),
		writer:    writer,
		startTime: time.Now(),
	}
}

// Run prompts for each item in order and applies the choice through resolver.
// A failed resolution is reported and the session moves on; cancellation or
// quitting stops it and returns the stats so far.
func (p *Prompter) Run(ctx context.Context, items []model.ReviewQueueItem, resolver Resolver, actor string) (SessionStats, error) {
	p.statsMutex.Lock()
	p.stats = SessionStats{Total: len(items)}
	p.startTime = time.Now()
	p.statsMutex.Unlock()
	p.initProgressBar(len(items))

	for i := range items {
		choice, err := p.Prompt(ctx, items[i])
		if err != nil {
			return p.Stats(), err
		}
		p.apply(ctx, items[i], choice, resolver, actor)
		p.updateProgress()
	}
	p.finishProgressBar()
	return p.Stats(), nil
}

func (p *Prompter) apply(ctx context.Context, item model.ReviewQueueItem, choice Choice, resolver Resolver, actor string) {
	var (
		resolved *model.ReviewQueueItem
		err      error
	)
	switch choice.Action {
	case ActionApprove:
		resolved, err = resolver.Approve(ctx, item.ID, actor)
	case ActionCorrect:
		resolved, err = resolver.Correct(ctx, item.ID, actor, choice.Correction)
	case ActionReject:
		resolved, err = resolver.Reject(ctx, item.ID, actor, choice.Correction.Notes)
	case ActionSkip:
		p.count(ActionSkip)
		return
	}

	if err != nil {
		p.statsMutex.Lock()
		p.stats.Failed++
		p.statsMutex.Unlock()
		p.println(FormatError(fmt.Sprintf("%s: %v", item.SubjectRef, describe(err))))
		return
	}

	p.count(choice.Action)
	msg := fmt.Sprintf("%s %s", item.SubjectRef, strings.ToLower(string(resolved.Status)))
	if resolved.VoucherID != "" {
		msg += " as voucher " + resolved.VoucherID
	}
	p.println(FormatSuccess(msg))
}

func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidState):
		return "already resolved by someone else"
	case errors.Is(err, common.ErrPostingFailed):
		return "booking failed, item left pending"
	}
	return err.Error()
}

// Prompt shows one item and reads the accountant's choice.
func (p *Prompter) Prompt(ctx context.Context, item model.ReviewQueueItem) (Choice, error) {
	if err := ctx.Err(); err != nil {
		return Choice{}, err
	}

	p.println(RenderBox("Review "+item.SubjectRef, p.formatItem(item)))
	p.println(FormatPrompt("Options:"))
	p.println(fmt.Sprintf("  [A] Approve %s / VAT %s", SuccessStyle.Render(item.SuggestedAccount), SuccessStyle.Render(item.SuggestedVAT)))
	p.println("  [C] Correct account or VAT code")
	p.println("  [R] Reject")
	p.println("  [S] Skip")
	p.println("  [Q] Quit")

	choice, err := p.promptChoice(ctx, "Choice", []string{"a", "c", "r", "s", "q"})
	if err != nil {
		return Choice{}, err
	}

	switch choice {
	case "a":
		return Choice{Action: ActionApprove}, nil
	case "c":
		return p.promptCorrection(ctx, item)
	case "r":
		notes, err := p.promptLine(ctx, "Reason (optional)")
		if err != nil {
			return Choice{}, err
		}
		return Choice{Action: ActionReject, Correction: model.Correction{Notes: notes}}, nil
	case "s":
		return Choice{Action: ActionSkip}, nil
	}
	return Choice{}, ErrQuit
}

func (p *Prompter) promptCorrection(ctx context.Context, item model.ReviewQueueItem) (Choice, error) {
	for {
		account, err := p.promptLine(ctx, fmt.Sprintf("Account code [%s]", item.SuggestedAccount))
		if err != nil {
			return Choice{}, err
		}
		vat, err := p.promptLine(ctx, fmt.Sprintf("VAT code [%s]", item.SuggestedVAT))
		if err != nil {
			return Choice{}, err
		}
		if account != "" || vat != "" {
			notes, err := p.promptLine(ctx, "Notes (optional)")
			if err != nil {
				return Choice{}, err
			}
			return Choice{
				Action:     ActionCorrect,
				Correction: model.Correction{AccountCode: account, VATCode: vat, Notes: notes},
			}, nil
		}
		p.println(FormatWarning("Enter a new account or VAT code"))
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, valid []string) (string, error) {
	for {
		answer, err := p.promptLine(ctx, prompt)
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		if slices.Contains(valid, answer) {
			return answer, nil
		}
		p.println(FormatWarning(fmt.Sprintf("Please choose one of: %s", strings.Join(valid, ", "))))
	}
}

func (p *Prompter) promptLine(ctx context.Context, prompt string) (string, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	line, err := p.reader.ReadLine(ctx)
	if errors.Is(err, ErrInputCancelled) {
		return "", ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return "", ErrQuit
	}
	return line, err
}

func (p *Prompter) formatItem(item model.ReviewQueueItem) string {
	details := fmt.Sprintf("%s Details:\n", InfoIcon) +
		fmt.Sprintf("  Client: %s\n", item.ClientID) +
		fmt.Sprintf("  Amount: %s\n", FormatAmount(item.Amount)) +
		fmt.Sprintf("  Description: %s\n", item.Description) +
		fmt.Sprintf("  Queued: %s\n", item.CreatedAt.Local().Format("Jan 2, 2006 15:04"))

	suggestion := fmt.Sprintf("\n%s Suggestion: account %s, VAT %s\n", RobotIcon,
		SuccessStyle.Render(item.SuggestedAccount), SuccessStyle.Render(item.SuggestedVAT)) +
		fmt.Sprintf("  Confidence: account %.0f, VAT %.0f, overall %.0f",
			item.Confidence.Account, item.Confidence.VAT, item.Confidence.Global)

	return details + suggestion
}

func (p *Prompter) count(a Action) {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()
	switch a {
	case ActionApprove:
		p.stats.Approved++
	case ActionCorrect:
		p.stats.Corrected++
	case ActionReject:
		p.stats.Rejected++
	case ActionSkip:
		p.stats.Skipped++
	}
}

// Stats returns statistics about the session so far.
func (p *Prompter) Stats() SessionStats {
	p.statsMutex.RLock()
	defer p.statsMutex.RUnlock()

	stats := p.stats
	stats.Duration = time.Since(p.startTime)
	return stats
}

// ShowCompletion prints the session summary.
func (p *Prompter) ShowCompletion() {
	stats := p.Stats()
	summary := fmt.Sprintf("%s Statistics:\n", ChartIcon) +
		fmt.Sprintf("  • Items: %d\n", stats.Total) +
		fmt.Sprintf("  • Approved: %d\n", stats.Approved) +
		fmt.Sprintf("  • Corrected: %d\n", stats.Corrected) +
		fmt.Sprintf("  • Rejected: %d\n", stats.Rejected) +
		fmt.Sprintf("  • Skipped: %d\n", stats.Skipped) +
		fmt.Sprintf("  • Failed: %d\n", stats.Failed) +
		fmt.Sprintf("  • Time taken: %s", stats.Duration.Round(time.Second))
	p.println(RenderBox("Review Complete", summary))
}

func (p *Prompter) initProgressBar(total int) {
	if total == 0 {
		return
	}
	p.progressBar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reviewing...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *Prompter) updateProgress() {
	if p.progressBar == nil {
		return
	}
	if err := p.progressBar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	p.println("")
}

func (p *Prompter) finishProgressBar() {
	if p.progressBar == nil {
		return
	}
	if err := p.progressBar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
	p.println("")
}

func (p *Prompter) println(s string) {
	if _, err := fmt.Fprintln(p.writer, s); err != nil {
		slog.Warn("Failed to write output", "error", err)
	}
}
