// Package scoring computes the confidence that a bank transaction settles a
// ledger entry.
//
// Amounts follow one sign convention throughout: a bank transaction is signed
// from the bank account's side (positive is money in) and a ledger entry is
// compared through its net amount, debit minus credit. A pair whose signs
// differ cannot settle each other and scores zero on every criterion.
package scoring

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/Veraticus/tally/internal/model"
)

// Criterion names one additive component of a score.
type Criterion string

// Scoring criteria.
const (
	CriterionAmount  Criterion = "amount"
	CriterionDate    Criterion = "date"
	CriterionKID     Criterion = "kid"
	CriterionName    Criterion = "name"
	CriterionInvoice Criterion = "invoice"
)

// MaxScore is the ceiling every total is clamped to.
const MaxScore = 100

// Config holds the weights and windows of the calculator.
type Config struct {
	AmountTolerance   decimal.Decimal
	AmountPoints      int
	DatePoints        int
	DateDecayPerDay   int
	DateWindowDays    int
	KIDPoints         int
	NamePoints        int
	InvoicePoints     int
	MinNameSimilarity float64
}

// DefaultConfig returns the standard weighting: 40 amount, 30 date, 20 KID,
// 20 name similarity and 10 invoice number.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:   decimal.NewFromFloat(0.01),
		AmountPoints:      40,
		DatePoints:        30,
		DateDecayPerDay:   5,
		DateWindowDays:    3,
		KIDPoints:         20,
		NamePoints:        20,
		InvoicePoints:     10,
		MinNameSimilarity: 0.5,
	}
}

// Result is the outcome of scoring one pair.
type Result struct {
	Breakdown  map[Criterion]int
	Points     int
	Compatible bool
}

// Calculator scores transaction and entry pairs. It is stateless and safe
// for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the calculator's configuration.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Score returns the confidence, 0 to 100, that txn settles entry.
func (c *Calculator) Score(txn model.BankTransaction, entry model.LedgerEntry) Result {
	res := Result{
		Breakdown: map[Criterion]int{
			CriterionAmount:  0,
			CriterionDate:    0,
			CriterionKID:     0,
			CriterionName:    0,
			CriterionInvoice: 0,
		},
	}

	net := entry.NetAmount()
	if txn.Amount.Sign() != net.Sign() {
		return res
	}
	res.Compatible = true

	res.Breakdown[CriterionAmount] = c.amountPoints(txn.Amount, net)
	res.Breakdown[CriterionDate] = c.datePoints(DaysApart(txn, entry))
	res.Breakdown[CriterionKID] = c.kidPoints(txn.KID, entry.Reference)
	res.Breakdown[CriterionName] = c.namePoints(txn, entry)
	res.Breakdown[CriterionInvoice] = c.invoicePoints(txn, entry)

	total := 0
	for _, p := range res.Breakdown {
		total += p
	}
	res.Points = clamp(total, 0, MaxScore)
	return res
}

func (c *Calculator) amountPoints(amount, net decimal.Decimal) int {
	if amount.Abs().Sub(net.Abs()).Abs().LessThanOrEqual(c.cfg.AmountTolerance) {
		return c.cfg.AmountPoints
	}
	return 0
}

func (c *Calculator) datePoints(days int) int {
	if days > c.cfg.DateWindowDays {
		return 0
	}
	return max(c.cfg.DatePoints-days*c.cfg.DateDecayPerDay, 0)
}

func (c *Calculator) kidPoints(kid, reference string) int {
	a, b := NormalizeReference(kid), NormalizeReference(reference)
	if a != "" && a == b {
		return c.cfg.KIDPoints
	}
	return 0
}

func (c *Calculator) namePoints(txn model.BankTransaction, entry model.LedgerEntry) int {
	target := normalizeText(entry.Description)
	if target == "" {
		return 0
	}

	best := 0.0
	for _, candidate := range []string{txn.Counterparty, txn.Description} {
		if sim := Similarity(normalizeText(candidate), target); sim > best {
			best = sim
		}
	}
	if best < c.cfg.MinNameSimilarity {
		return 0
	}
	return int(best*float64(c.cfg.NamePoints) + 0.5)
}

func (c *Calculator) invoicePoints(txn model.BankTransaction, entry model.LedgerEntry) int {
	voucher := NormalizeReference(entry.VoucherNumber)
	if voucher == "" {
		return 0
	}
	if strings.Contains(NormalizeReference(txn.Description), voucher) ||
		strings.Contains(NormalizeReference(txn.KID), voucher) {
		return c.cfg.InvoicePoints
	}
	return 0
}

// DaysApart returns the absolute number of calendar days between the two dates.
func DaysApart(txn model.BankTransaction, entry model.LedgerEntry) int {
	a := civilDay(txn.Date.Year(), int(txn.Date.Month()), txn.Date.Day())
	b := civilDay(entry.Date.Year(), int(entry.Date.Month()), entry.Date.Day())
	if a > b {
		return a - b
	}
	return b - a
}

// civilDay converts a calendar date into a day count, independent of time zones.
func civilDay(y, m, d int) int {
	if m <= 2 {
		y--
		m += 12
	}
	return 365*y + y/4 - y/100 + y/400 + (153*(m-3)+2)/5 + d
}

// Similarity returns a 0..1 similarity of two already normalized strings
// derived from their Levenshtein distance.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	// DefaultOptions charges 2 for a substitution, so the distance never
	// exceeds the combined length.
	d := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1 - float64(d)/float64(len(ra)+len(rb))
}

// NormalizeReference strips whitespace and case from a structured reference.
func NormalizeReference(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
