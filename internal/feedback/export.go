package feedback

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// TrainingHeader is the column order of CSV training exports.
var TrainingHeader = []string{
	"recorded_at", "item_id", "resolution",
	"suggested_account", "suggested_vat", "final_account", "final_vat",
	"account_correct", "vat_correct", "fully_correct",
}

// Format names a training export encoding.
type Format string

// Export formats.
const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Write encodes rows to w in the given format.
func Write(w io.Writer, format Format, rows []model.TrainingRow) error {
	switch format {
	case FormatJSONL, "":
		return WriteJSONL(w, rows)
	case FormatCSV:
		return WriteCSV(w, rows)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// WriteJSONL writes one JSON object per row.
func WriteJSONL(w io.Writer, rows []model.TrainingRow) error {
	enc := json.NewEncoder(w)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("error writing training row %d: %w", i, err)
		}
	}
	return nil
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, rows []model.TrainingRow) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(TrainingHeader); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(Record(row)); err != nil {
			return fmt.Errorf("error writing training row %s: %w", row.ItemID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Record renders a row as strings in TrainingHeader order.
func Record(row model.TrainingRow) []string {
	return []string{
		row.RecordedAt.UTC().Format(time.RFC3339),
		row.ItemID,
		string(row.Resolution),
		row.SuggestedAccount,
		row.SuggestedVAT,
		row.FinalAccount,
		row.FinalVAT,
		strconv.FormatBool(row.AccountCorrect),
		strconv.FormatBool(row.VATCorrect),
		strconv.FormatBool(row.FullyCorrect),
	}
}
