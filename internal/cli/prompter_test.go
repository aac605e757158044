package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

type fakeResolver struct {
	errs  map[string]error
	calls []string
	last  model.Correction
}

func (f *fakeResolver) resolve(itemID string, status model.ReviewStatus) (*model.ReviewQueueItem, error) {
	if err := f.errs[itemID]; err != nil {
		return nil, err
	}
	item := &model.ReviewQueueItem{ID: itemID, Status: status}
	if status != model.ReviewRejected {
		item.VoucherID = "V-" + itemID
	}
	return item, nil
}

func (f *fakeResolver) Approve(_ context.Context, itemID, _ string) (*model.ReviewQueueItem, error) {
	f.calls = append(f.calls, "approve:"+itemID)
	return f.resolve(itemID, model.ReviewApproved)
}

func (f *fakeResolver) Correct(_ context.Context, itemID, _ string, c model.Correction) (*model.ReviewQueueItem, error) {
	f.calls = append(f.calls, "correct:"+itemID)
	f.last = c
	return f.resolve(itemID, model.ReviewCorrected)
}

func (f *fakeResolver) Reject(_ context.Context, itemID, _, notes string) (*model.ReviewQueueItem, error) {
	f.calls = append(f.calls, "reject:"+itemID)
	f.last = model.Correction{Notes: notes}
	return f.resolve(itemID, model.ReviewRejected)
}

func pendingItem(id string) model.ReviewQueueItem {
	return model.ReviewQueueItem{
		CreatedAt:        time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		ID:               id,
		ClientID:         "c1",
		SubjectRef:       "INV-" + id,
		Description:      "Kontorrekvisita",
		SuggestedAccount: "6340",
		SuggestedVAT:     "1",
		Status:           model.ReviewPending,
		Amount:           decimal.RequireFromString("1250.00"),
		Confidence:       model.Confidence{Account: 60, VAT: 70, Global: 65},
	}
}

func TestPrompter_Prompt(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		want       Choice
		wantErr    error
		wantOutput string
	}{
		{
			name:  "approve",
			input: "a\n",
			want:  Choice{Action: ActionApprove},
		},
		{
			name:  "uppercase choice",
			input: "A\n",
			want:  Choice{Action: ActionApprove},
		},
		{
			name:  "correct account only",
			input: "c\n6300\n\nrent\n",
			want:  Choice{Action: ActionCorrect, Correction: model.Correction{AccountCode: "6300", Notes: "rent"}},
		},
		{
			name:       "empty correction asks again",
			input:      "c\n\n\n\n25\n\n",
			want:       Choice{Action: ActionCorrect, Correction: model.Correction{VATCode: "25"}},
			wantOutput: "Enter a new account or VAT code",
		},
		{
			name:  "reject with reason",
			input: "r\nduplicate\n",
			want:  Choice{Action: ActionReject, Correction: model.Correction{Notes: "duplicate"}},
		},
		{
			name:  "skip",
			input: "s\n",
			want:  Choice{Action: ActionSkip},
		},
		{
			name:       "invalid then approve",
			input:      "x\na\n",
			want:       Choice{Action: ActionApprove},
			wantOutput: "Please choose one of",
		},
		{
			name:    "quit",
			input:   "q\n",
			wantErr: ErrQuit,
		},
		{
			name:    "end of input",
			input:   "",
			wantErr: ErrQuit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)

			got, err := p.Prompt(context.Background(), pendingItem("1"))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "INV-1")
			assert.Contains(t, out.String(), "6340")
			if tt.wantOutput != "" {
				assert.Contains(t, out.String(), tt.wantOutput)
			}
		})
	}
}

func TestPrompter_PromptCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPrompter(strings.NewReader("a\n"), &bytes.Buffer{})
	_, err := p.Prompt(ctx, pendingItem("1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrompter_Run(t *testing.T) {
	items := []model.ReviewQueueItem{pendingItem("1"), pendingItem("2"), pendingItem("3"), pendingItem("4")}
	resolver := &fakeResolver{errs: map[string]error{
		"4": fmt.Errorf("%w: review item 4 is already APPROVED", common.ErrInvalidState),
	}}

	var out bytes.Buffer
	input := "a\nc\n\n25\n\nr\nwrong client\na\n"
	p := NewPrompter(strings.NewReader(input), &out)

	stats, err := p.Run(context.Background(), items, resolver, "kari")
	require.NoError(t, err)

	assert.Equal(t, []string{"approve:1", "correct:2", "reject:3", "approve:4"}, resolver.calls)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Corrected)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, out.String(), "INV-1 approved as voucher V-1")
	assert.Contains(t, out.String(), "already resolved by someone else")

	p.ShowCompletion()
	assert.Contains(t, out.String(), "Review Complete")
}

func TestPrompter_RunQuit(t *testing.T) {
	items := []model.ReviewQueueItem{pendingItem("1"), pendingItem("2")}
	resolver := &fakeResolver{}

	p := NewPrompter(strings.NewReader("s\nq\n"), &bytes.Buffer{})
	stats, err := p.Run(context.Background(), items, resolver, "kari")

	assert.ErrorIs(t, err, ErrQuit)
	assert.Empty(t, resolver.calls)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"ID", "Amount"}, [][]string{
		{"t1", "100.00"},
		{"longer-id", "5.00"},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[2], "longer-id")
	assert.Equal(t, strings.Index(lines[1], "100.00"), strings.Index(lines[2], "5.00"))
}

func TestFormatAmount(t *testing.T) {
	assert.Contains(t, FormatAmount(decimal.RequireFromString("-12.5")), "-12.50")
	assert.Contains(t, FormatAmount(decimal.NewFromInt(3)), "3.00")
}
