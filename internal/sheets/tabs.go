package sheets

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/model"
)

// Tab titles.
const (
	ReconciliationTab = "Reconciliation"
	AccuracyTab       = "Accuracy"
	TrainingTab       = "Training"
)

// Tab is one worksheet's worth of values.
type Tab struct {
	Title string
	// Values are written from A1 down.
	Values [][]any
	// HeaderRow is the zero-based index of the column header row, frozen
	// and bolded when formatting is enabled.
	HeaderRow int
	// AmountColumns are zero-based columns formatted as currency below the header row.
	AmountColumns []int
}

// ReportTab lays a reconciliation report out as a summary block followed by
// one line per transaction.
func ReportTab(r matching.Report) Tab {
	period := "all dates"
	if r.Period != nil {
		period = fmt.Sprintf("%s - %s", r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02"))
	}
	account := r.AccountID
	if account == "" {
		account = "all accounts"
	}

	values := make([][]any, 0, 14+len(r.Rows))
	values = append(values,
		[]any{"Reconciliation Report", r.ClientID, account, period},
		[]any{"Generated", r.GeneratedAt.Format("2006-01-02 15:04")},
		[]any{},
		[]any{"Summary"},
		[]any{"Transactions", r.Transactions},
		[]any{"Auto matched", r.AutoMatched},
		[]any{"Rule matched", r.RuleMatched},
		[]any{"Suggested", r.Suggested},
		[]any{"Unmatched", r.Unmatched},
		[]any{"Conflicted", r.Conflicted},
		[]any{"Matched amount", amount(r.MatchedAmount)},
		[]any{"Unmatched amount", amount(r.UnmatchedAmount)},
		[]any{},
		[]any{"Date", "Transaction", "Description", "Amount", "Outcome", "Score", "Ledger entry", "Rule"},
	)
	header := len(values) - 1

	for _, row := range r.Rows {
		values = append(values, []any{
			row.Date.Format("2006-01-02"),
			row.TransactionID,
			row.Description,
			amount(row.Amount),
			string(row.Outcome),
			row.Score,
			row.EntryID,
			row.RuleName,
		})
	}

	return Tab{
		Title:         ReconciliationTab,
		Values:        values,
		HeaderRow:     header,
		AmountColumns: []int{3},
	}
}

// AccuracySummaryTab lays out a client's aggregate suggestion accuracy.
func AccuracySummaryTab(s model.AccuracySummary) Tab {
	return Tab{
		Title: AccuracyTab,
		Values: [][]any{
			{"Metric", "Value"},
			{"Client", s.ClientID},
			{"Total", s.Total},
			{"Approved", s.ApprovedCount},
			{"Corrected", s.CorrectedCount},
			{"Rejected", s.RejectedCount},
			{"Account accuracy %", s.AccountAccuracyPct},
			{"VAT accuracy %", s.VATAccuracyPct},
			{"Fully correct %", s.FullyCorrectPct},
		},
	}
}

// TrainingRowsTab lays training rows out with the same columns as the CSV export.
func TrainingRowsTab(rows []model.TrainingRow) Tab {
	values := make([][]any, 0, len(rows)+1)
	values = append(values, toAny(feedback.TrainingHeader))
	for _, row := range rows {
		values = append(values, toAny(feedback.Record(row)))
	}
	return Tab{Title: TrainingTab, Values: values}
}

func toAny(cells []string) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}

// amount hands a decimal to the Sheets API as a number so formulas and
// number formats apply.
func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
