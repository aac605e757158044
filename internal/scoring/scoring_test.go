package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestScore_ConcreteScenarios(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	tests := []struct {
		name      string
		txn       model.BankTransaction
		entry     model.LedgerEntry
		wantMin   int
		wantMax   int
		wantParts map[Criterion]int
	}{
		{
			name: "exact amount date and KID scores 100",
			txn: model.BankTransaction{
				ID: "t1", Date: date(2026, 2, 10), Amount: dec("5000.00"), KID: "123456",
				Description: "Innbetaling KID 123456",
			},
			entry: model.LedgerEntry{
				ID: "e1", Date: date(2026, 2, 10), Debit: dec("5000.00"), Reference: "123456",
				VoucherNumber: "123456", Description: "Faktura 2026-17",
			},
			wantMin: 100,
			wantMax: 100,
			wantParts: map[Criterion]int{
				CriterionAmount:  40,
				CriterionDate:    30,
				CriterionKID:     20,
				CriterionInvoice: 10,
			},
		},
		{
			name: "three day gap without KID is a suggestion",
			txn: model.BankTransaction{
				ID: "t2", Date: date(2026, 2, 10), Amount: dec("5000.00"), Description: "Overforing",
			},
			entry: model.LedgerEntry{
				ID: "e2", Date: date(2026, 2, 13), Debit: dec("5000.00"), Description: "Kundefaktura",
			},
			wantMin: 50,
			wantMax: 84,
			wantParts: map[Criterion]int{
				CriterionAmount: 40,
				CriterionDate:   15,
				CriterionKID:    0,
			},
		},
		{
			name: "wrong amount on the same day stays below 50",
			txn: model.BankTransaction{
				ID: "t3", Date: date(2026, 2, 10), Amount: dec("1000.00"), Description: "Vipps",
			},
			entry: model.LedgerEntry{
				ID: "e3", Date: date(2026, 2, 10), Debit: dec("2000.00"), Description: "Husleie mars",
			},
			wantMin: 0,
			wantMax: 49,
			wantParts: map[Criterion]int{
				CriterionAmount: 0,
				CriterionDate:   30,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Score(tt.txn, tt.entry)
			assert.True(t, res.Compatible)
			assert.GreaterOrEqual(t, res.Points, tt.wantMin)
			assert.LessOrEqual(t, res.Points, tt.wantMax)
			for c, want := range tt.wantParts {
				assert.Equal(t, want, res.Breakdown[c], "criterion %s", c)
			}
		})
	}
}

func TestScore_DateDecay(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	txn := model.BankTransaction{Date: date(2024, 3, 10), Amount: dec("10")}

	want := []int{30, 25, 20, 15, 0, 0}
	for days, points := range want {
		entry := model.LedgerEntry{Date: date(2024, 3, 10).AddDate(0, 0, -days), Debit: dec("10")}
		res := calc.Score(txn, entry)
		assert.Equal(t, points, res.Breakdown[CriterionDate], "days apart %d", days)
	}
}

func TestScore_AmountTolerance(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	txn := model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("-250.00")}

	tests := []struct {
		credit string
		want   int
	}{
		{credit: "250.00", want: 40},
		{credit: "250.01", want: 40},
		{credit: "249.99", want: 40},
		{credit: "250.02", want: 0},
		{credit: "25.00", want: 0},
	}
	for _, tt := range tests {
		entry := model.LedgerEntry{Date: date(2024, 3, 1), Credit: dec(tt.credit)}
		assert.Equal(t, tt.want, calc.Score(txn, entry).Breakdown[CriterionAmount], "credit %s", tt.credit)
	}
}

func TestScore_IncompatibleSignsScoreZero(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	txn := model.BankTransaction{
		Date: date(2024, 3, 1), Amount: dec("100"), KID: "777", Description: "ACME AS",
	}
	entry := model.LedgerEntry{
		Date: date(2024, 3, 1), Credit: dec("100"), Reference: "777", Description: "ACME AS",
	}

	res := calc.Score(txn, entry)
	assert.False(t, res.Compatible)
	assert.Zero(t, res.Points)
	for c, p := range res.Breakdown {
		assert.Zero(t, p, "criterion %s", c)
	}
}

func TestScore_KIDIsExactOnly(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	txn := model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("1"), KID: "1234 5678"}

	assert.Equal(t, 20, calc.Score(txn, model.LedgerEntry{Date: date(2024, 3, 1), Debit: dec("1"), Reference: "12345678"}).Breakdown[CriterionKID])
	assert.Equal(t, 0, calc.Score(txn, model.LedgerEntry{Date: date(2024, 3, 1), Debit: dec("1"), Reference: "12345679"}).Breakdown[CriterionKID])
	assert.Equal(t, 0, calc.Score(model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("1")},
		model.LedgerEntry{Date: date(2024, 3, 1), Debit: dec("1")}).Breakdown[CriterionKID])
}

func TestScore_NameSimilarity(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	entry := model.LedgerEntry{Date: date(2024, 3, 1), Debit: dec("1"), Description: "Rema 1000 Grunerlokka"}

	same := model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("1"), Counterparty: "  REMA 1000   grunerlokka "}
	assert.Equal(t, 20, calc.Score(same, entry).Breakdown[CriterionName])

	near := model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("1"), Description: "REMA 1000 GRUNER"}
	points := calc.Score(near, entry).Breakdown[CriterionName]
	assert.Greater(t, points, 15)
	assert.Less(t, points, 20)

	unrelated := model.BankTransaction{Date: date(2024, 3, 1), Amount: dec("1"), Description: "Telenor mobil"}
	assert.Equal(t, 0, calc.Score(unrelated, entry).Breakdown[CriterionName])
}

func TestScore_BoundsAndDeterminism(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	txns := []model.BankTransaction{
		{Date: date(2024, 3, 1), Amount: dec("100"), KID: "42", Description: "Faktura 42 ACME", Counterparty: "ACME"},
		{Date: date(2024, 3, 9), Amount: dec("-3"), Description: "gebyr"},
		{Date: date(2024, 3, 1), Amount: dec("0"), Description: ""},
	}
	entries := []model.LedgerEntry{
		{Date: date(2024, 3, 1), Debit: dec("100"), Reference: "42", VoucherNumber: "42", Description: "ACME"},
		{Date: date(2024, 3, 2), Credit: dec("3"), Description: "Gebyr"},
		{Date: date(2024, 2, 1), Description: "Nothing"},
	}

	for _, txn := range txns {
		for _, entry := range entries {
			first := calc.Score(txn, entry)
			require.GreaterOrEqual(t, first.Points, 0)
			require.LessOrEqual(t, first.Points, MaxScore)
			assert.Equal(t, first, calc.Score(txn, entry))
		}
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
	assert.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
}

func TestDaysApart(t *testing.T) {
	txn := model.BankTransaction{Date: time.Date(2024, 2, 28, 23, 0, 0, 0, time.UTC)}
	entry := model.LedgerEntry{Date: time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)}
	assert.Equal(t, 2, DaysApart(txn, entry))
}
