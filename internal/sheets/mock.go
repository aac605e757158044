package sheets

import (
	"context"
	"sync"

	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/model"
)

// MockWriter is a mock implementation of ReportWriter for testing.
type MockWriter struct {
	Err            error
	SpreadsheetID  string
	Reports        []matching.Report
	Summaries      []model.AccuracySummary
	TrainingRows   [][]model.TrainingRow
	WriteCallCount int
	mu             sync.Mutex
}

// NewMockWriter creates a new mock writer.
func NewMockWriter() *MockWriter {
	return &MockWriter{SpreadsheetID: "mock-spreadsheet"}
}

// WriteReport implements ReportWriter.
func (m *MockWriter) WriteReport(_ context.Context, report matching.Report) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WriteCallCount++
	if m.Err != nil {
		return "", m.Err
	}
	m.Reports = append(m.Reports, report)
	return m.SpreadsheetID, nil
}

// WriteTraining implements ReportWriter.
func (m *MockWriter) WriteTraining(_ context.Context, summary model.AccuracySummary, rows []model.TrainingRow) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WriteCallCount++
	if m.Err != nil {
		return "", m.Err
	}
	m.Summaries = append(m.Summaries, summary)
	m.TrainingRows = append(m.TrainingRows, rows)
	return m.SpreadsheetID, nil
}
