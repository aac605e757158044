package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Rule is a matching rule with its condition decoded.
type Rule struct {
	Condition Condition
	Name      string
	ID        int64
	Priority  int
}

type amountToleranceParams struct {
	Tolerance *decimal.Decimal `json:"tolerance"`
}

type descriptionContainsParams struct {
	Text        string `json:"text"`
	AccountCode string `json:"account_code"`
}

type dateRangeParams struct {
	From         string `json:"from"`
	To           string `json:"to"`
	MaxDaysApart *int   `json:"max_days_apart"`
}

// Parse decodes a persisted rule into its typed condition. Unknown kinds,
// undecodable params and out-of-range values yield common.ErrValidation.
func Parse(def model.MatchingRule) (Rule, error) {
	rule := Rule{ID: def.ID, Name: def.Name, Priority: def.Priority}

	var err error
	switch def.Kind {
	case model.RuleKIDExact:
		rule.Condition, err = parseKIDExact(def.Params)
	case model.RuleAmountTolerance:
		rule.Condition, err = parseAmountTolerance(def.Params)
	case model.RuleDescriptionContains:
		rule.Condition, err = parseDescriptionContains(def.Params)
	case model.RuleDateRange:
		rule.Condition, err = parseDateRange(def.Params)
	default:
		err = common.Validationf("unknown rule kind %q", def.Kind)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("rule %d (%s): %w", def.ID, def.Name, err)
	}
	return rule, nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.Validationf("params: %v", err)
	}
	return nil
}

func parseKIDExact(raw json.RawMessage) (Condition, error) {
	var params struct{}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return KIDExact{}, nil
}

func parseAmountTolerance(raw json.RawMessage) (Condition, error) {
	var params amountToleranceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Tolerance == nil {
		return nil, common.Validationf("tolerance is required")
	}
	if params.Tolerance.IsNegative() {
		return nil, common.Validationf("tolerance %s is negative", params.Tolerance)
	}
	return AmountTolerance{Tolerance: *params.Tolerance}, nil
}

func parseDescriptionContains(raw json.RawMessage) (Condition, error) {
	var params descriptionContainsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Text == "" {
		return nil, common.Validationf("text is required")
	}
	return DescriptionContains{Text: params.Text, AccountCode: params.AccountCode}, nil
}

func parseDateRange(raw json.RawMessage) (Condition, error) {
	var params dateRangeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	cond := DateRange{}
	if params.MaxDaysApart == nil {
		return nil, common.Validationf("max_days_apart is required")
	}
	if *params.MaxDaysApart < 0 {
		return nil, common.Validationf("max_days_apart %d is negative", *params.MaxDaysApart)
	}
	cond.MaxDaysApart = *params.MaxDaysApart

	var err error
	if cond.From, err = parseDay(params.From, "from"); err != nil {
		return nil, err
	}
	if cond.To, err = parseDay(params.To, "to"); err != nil {
		return nil, err
	}
	if cond.From != nil && cond.To != nil && cond.To.Before(*cond.From) {
		return nil, common.Validationf("to %s is before from %s", params.To, params.From)
	}
	return cond, nil
}

func parseDay(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, common.Validationf("%s: %v", field, err)
	}
	return &t, nil
}
