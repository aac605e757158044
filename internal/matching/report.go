package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

// ReportRow is one transaction's line in a reconciliation report.
type ReportRow struct {
	Date          time.Time       `json:"date"`
	TransactionID string          `json:"transaction_id"`
	Description   string          `json:"description"`
	EntryID       string          `json:"entry_id,omitempty"`
	RuleName      string          `json:"rule_name,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Amount        decimal.Decimal `json:"amount"`
	Score         int             `json:"score"`
}

// Report summarizes a reconciliation run.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Period          *model.DateRange `json:"period,omitempty"`
	ClientID        string           `json:"client_id"`
	AccountID       string           `json:"account_id,omitempty"`
	Rows            []ReportRow      `json:"rows"`
	MatchedAmount   decimal.Decimal  `json:"matched_amount"`
	UnmatchedAmount decimal.Decimal  `json:"unmatched_amount"`
	Transactions    int              `json:"transactions"`
	AutoMatched     int              `json:"auto_matched"`
	RuleMatched     int              `json:"rule_matched"`
	Suggested       int              `json:"suggested"`
	Unmatched       int              `json:"unmatched"`
	Conflicted      int              `json:"conflicted"`
}

// BuildReport flattens a result into report rows with per-bucket totals.
// Amounts are summed as absolute values.
func BuildReport(scope model.Scope, res Result, now time.Time) Report {
	r := Report{
		GeneratedAt:     now,
		Period:          scope.Period,
		ClientID:        scope.ClientID,
		AccountID:       scope.AccountID,
		MatchedAmount:   decimal.Zero,
		UnmatchedAmount: decimal.Zero,
	}

	for _, am := range res.AutoMatched {
		row := ReportRow{
			Date:          am.Transaction.Date,
			TransactionID: am.Transaction.ID,
			Description:   am.Transaction.Description,
			EntryID:       am.Entry.ID,
			Amount:        am.Transaction.Amount,
		}
		if am.Type == model.MatchTypeRule {
			row.Outcome = OutcomeRule
			row.RuleName = am.RuleName
			r.RuleMatched++
		} else {
			row.Outcome = OutcomeAuto
			r.AutoMatched++
		}
		if am.Score != nil {
			row.Score = *am.Score
		}
		r.MatchedAmount = r.MatchedAmount.Add(am.Transaction.Amount.Abs())
		r.Rows = append(r.Rows, row)
	}

	for _, sg := range res.Suggested {
		r.Suggested++
		r.UnmatchedAmount = r.UnmatchedAmount.Add(sg.Transaction.Amount.Abs())
		r.Rows = append(r.Rows, ReportRow{
			Date:          sg.Transaction.Date,
			TransactionID: sg.Transaction.ID,
			Description:   sg.Transaction.Description,
			EntryID:       sg.Entry.ID,
			Outcome:       OutcomeSuggested,
			Amount:        sg.Transaction.Amount,
			Score:         sg.Score.Points,
		})
	}

	for _, u := range res.Unmatched {
		r.Unmatched++
		r.UnmatchedAmount = r.UnmatchedAmount.Add(u.Transaction.Amount.Abs())
		r.Rows = append(r.Rows, ReportRow{
			Date:          u.Transaction.Date,
			TransactionID: u.Transaction.ID,
			Description:   u.Transaction.Description,
			Outcome:       OutcomeUnmatched,
			Amount:        u.Transaction.Amount,
			Score:         u.BestScore,
		})
	}

	for _, am := range res.Conflicted {
		r.Conflicted++
		r.UnmatchedAmount = r.UnmatchedAmount.Add(am.Transaction.Amount.Abs())
		row := ReportRow{
			Date:          am.Transaction.Date,
			TransactionID: am.Transaction.ID,
			Description:   am.Transaction.Description,
			EntryID:       am.Entry.ID,
			RuleName:      am.RuleName,
			Outcome:       OutcomeConflict,
			Amount:        am.Transaction.Amount,
		}
		if am.Score != nil {
			row.Score = *am.Score
		}
		r.Rows = append(r.Rows, row)
	}

	r.Transactions = r.AutoMatched + r.RuleMatched + r.Suggested + r.Unmatched + r.Conflicted
	sortRows(r.Rows)
	return r
}

func sortRows(rows []ReportRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].TransactionID < rows[j].TransactionID
	})
}
