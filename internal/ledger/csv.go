// Package ledger imports general-ledger entries from CSV exports.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Columns every ledger CSV must carry. voucher and reference are optional.
var requiredColumns = []string{"id", "date", "account", "description", "debit", "credit"}

// ParseCSV reads ledger entries for clientID. The first row is a header;
// column order is free and names are matched case-insensitively. Dates are
// YYYY-MM-DD, amounts use a dot or comma as decimal separator and an empty
// amount counts as zero.
func ParseCSV(r io.Reader, clientID string) ([]model.LedgerEntry, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, common.Validationf("client ID is required for ledger import")
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, common.Validationf("ledger file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, common.Validationf("ledger file is missing column %q", name)
		}
	}

	var entries []model.LedgerEntry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}

		entry, err := parseRecord(record, cols, clientID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRecord(record []string, cols map[string]int, clientID string) (model.LedgerEntry, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := time.Parse(time.DateOnly, get("date"))
	if err != nil {
		return model.LedgerEntry{}, common.Validationf("invalid date %q", get("date"))
	}
	debit, err := parseAmount(get("debit"))
	if err != nil {
		return model.LedgerEntry{}, err
	}
	credit, err := parseAmount(get("credit"))
	if err != nil {
		return model.LedgerEntry{}, err
	}

	return model.LedgerEntry{
		Date:          date,
		ID:            get("id"),
		ClientID:      clientID,
		AccountCode:   get("account"),
		Description:   get("description"),
		VoucherNumber: get("voucher"),
		Reference:     get("reference"),
		Status:        model.StatusUnmatched,
		Debit:         debit,
		Credit:        credit,
	}, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, common.Validationf("invalid amount %q", s)
	}
	return d, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
