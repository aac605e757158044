package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/model"
)

// ReportWriter publishes reconciliation and feedback output to a spreadsheet.
// Both methods return the ID of the spreadsheet written to.
type ReportWriter interface {
	WriteReport(ctx context.Context, report matching.Report) (string, error)
	WriteTraining(ctx context.Context, summary model.AccuracySummary, rows []model.TrainingRow) (string, error)
}

// Writer implements ReportWriter for Google Sheets.
type Writer struct {
	service       *sheets.Service
	logger        *slog.Logger
	spreadsheetID string
	config        Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return newWriter(srv, config, logger), nil
}

func newWriter(srv *sheets.Service, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		service:       srv,
		logger:        logger.With("component", "sheets"),
		spreadsheetID: config.SpreadsheetID,
		config:        config,
	}
}

// WriteReport implements ReportWriter.
func (w *Writer) WriteReport(ctx context.Context, report matching.Report) (string, error) {
	w.logger.Info("Writing reconciliation report",
		"client_id", report.ClientID,
		"transactions", report.Transactions)
	return w.WriteTabs(ctx, ReportTab(report))
}

// WriteTraining implements ReportWriter.
func (w *Writer) WriteTraining(ctx context.Context, summary model.AccuracySummary, rows []model.TrainingRow) (string, error) {
	w.logger.Info("Writing training data",
		"client_id", summary.ClientID,
		"rows", len(rows))
	return w.WriteTabs(ctx, AccuracySummaryTab(summary), TrainingRowsTab(rows))
}

// WriteTabs replaces the contents of each tab, creating the spreadsheet and
// any missing tabs first.
func (w *Writer) WriteTabs(ctx context.Context, tabs ...Tab) (string, error) {
	titles := make([]string, len(tabs))
	for i, tab := range tabs {
		titles[i] = tab.Title
	}

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx, titles)
	if err != nil {
		return "", fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	sheetIDs, err := w.ensureTabs(ctx, spreadsheetID, titles)
	if err != nil {
		return "", fmt.Errorf("failed to prepare tabs: %w", err)
	}

	retryOpts := w.config.retryOptions()
	for _, tab := range tabs {
		err := common.WithRetry(ctx, func() error {
			return classifyError(w.clearTab(ctx, spreadsheetID, tab.Title))
		}, retryOpts)
		if err != nil {
			return "", fmt.Errorf("failed to clear tab %s: %w", tab.Title, err)
		}

		err = common.WithRetry(ctx, func() error {
			return classifyError(w.writeData(ctx, spreadsheetID, tab))
		}, retryOpts)
		if err != nil {
			return "", fmt.Errorf("failed to write tab %s: %w", tab.Title, err)
		}

		if w.config.EnableFormatting {
			err = common.WithRetry(ctx, func() error {
				return classifyError(w.applyFormatting(ctx, spreadsheetID, sheetIDs[tab.Title], tab))
			}, retryOpts)
			if err != nil {
				// Values are already written; a bare sheet is still usable.
				w.logger.Warn("Failed to apply formatting", "tab", tab.Title, "error", err)
			}
		}

		w.logger.Debug("Wrote tab", "tab", tab.Title, "rows", len(tab.Values))
	}

	w.logger.Info("Spreadsheet updated", "spreadsheet_id", spreadsheetID, "tabs", len(tabs))
	return spreadsheetID, nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	tokenSource, err := newTokenSource(ctx, config)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

func newTokenSource(ctx context.Context, config Config) (oauth2.TokenSource, error) {
	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		return jwtConfig.TokenSource(ctx), nil
	}

	oauthConfig := OAuth2Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenFile:    config.TokenFile,
	}

	token := &oauth2.Token{RefreshToken: config.RefreshToken, TokenType: "Bearer"}
	if config.RefreshToken == "" {
		cached, err := LoadToken(config.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("%w: no refresh token and no usable token file (run `tally export auth`): %v",
				common.ErrMissingConfig, err)
		}
		token = cached
	}

	return oauthConfig.oauth2().TokenSource(ctx, token), nil
}

// getOrCreateSpreadsheet returns the configured spreadsheet, creating one with
// the given tabs when none is configured.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context, titles []string) (string, error) {
	if w.spreadsheetID != "" {
		return w.spreadsheetID, nil
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
	}
	for _, title := range titles {
		spreadsheet.Sheets = append(spreadsheet.Sheets, &sheets.Sheet{
			Properties: &sheets.SheetProperties{Title: title},
		})
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("Created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	w.spreadsheetID = created.SpreadsheetId
	return created.SpreadsheetId, nil
}

// ensureTabs returns the sheet ID of every title, adding the missing ones.
func (w *Writer) ensureTabs(ctx context.Context, spreadsheetID string, titles []string) (map[string]int64, error) {
	existing, err := w.service.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to access spreadsheet %s: %w", spreadsheetID, err)
	}

	ids := make(map[string]int64, len(titles))
	for _, sheet := range existing.Sheets {
		if sheet.Properties != nil {
			ids[sheet.Properties.Title] = sheet.Properties.SheetId
		}
	}

	var requests []*sheets.Request
	for _, title := range titles {
		if _, ok := ids[title]; ok {
			continue
		}
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		})
	}
	if len(requests) == 0 {
		return ids, nil
	}

	resp, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to add tabs: %w", err)
	}
	for _, reply := range resp.Replies {
		if reply.AddSheet != nil && reply.AddSheet.Properties != nil {
			props := reply.AddSheet.Properties
			ids[props.Title] = props.SheetId
			w.logger.Debug("Added tab", "tab", props.Title, "sheet_id", props.SheetId)
		}
	}
	return ids, nil
}

func (w *Writer) clearTab(ctx context.Context, spreadsheetID, title string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, a1(title, "A:Z"), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

// writeData writes the tab's values in batches to stay under API limits.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, tab Tab) error {
	for i := 0; i < len(tab.Values); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(tab.Values))
		batch := tab.Values[i:end]

		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, a1(tab.Title, fmt.Sprintf("A%d", i+1)), &sheets.ValueRange{
			Values: batch,
		}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("Wrote batch", "tab", tab.Title, "start_row", i+1, "rows", len(batch))
	}
	return nil
}

func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, sheetID int64, tab Tab) error {
	totalRows := int64(len(tab.Values))
	header := int64(tab.HeaderRow)
	width := int64(0)
	for _, row := range tab.Values {
		width = max(width, int64(len(row)))
	}

	requests := []*sheets.Request{
		boldRow(sheetID, header, width),
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: header + 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   width,
				},
			},
		},
	}
	if header > 0 {
		requests = append(requests, boldRow(sheetID, 0, width))
	}

	for _, col := range tab.AmountColumns {
		requests = append(requests, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    header + 1,
					EndRowIndex:      totalRows,
					StartColumnIndex: int64(col),
					EndColumnIndex:   int64(col) + 1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: w.config.CurrencyPattern,
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		})
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	return err
}

func boldRow(sheetID, row, width int64) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    row,
				EndRowIndex:      row + 1,
				StartColumnIndex: 0,
				EndColumnIndex:   width,
			},
			Cell: &sheets.CellData{
				UserEnteredFormat: &sheets.CellFormat{
					TextFormat: &sheets.TextFormat{Bold: true},
				},
			},
			Fields: "userEnteredFormat.textFormat",
		},
	}
}

// a1 builds an A1 range on the named tab.
func a1(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

// classifyError marks rate limits and server errors retryable and everything
// else permanent.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
		case apiErr.Code >= http.StatusInternalServerError:
			return &common.RetryableError{Err: err, Retryable: true}
		default:
			return &common.RetryableError{Err: err, Retryable: false}
		}
	}
	return err
}
