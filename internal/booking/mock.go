package booking

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/tally/internal/model"
)

// MockBooker records postings in memory for tests.
type MockBooker struct {
	Err      error
	Postings []model.Posting
	mu       sync.Mutex
}

// NewMockBooker creates an empty mock booker.
func NewMockBooker() *MockBooker {
	return &MockBooker{}
}

// Post records p, or returns Err when set.
func (m *MockBooker) Post(_ context.Context, p model.Posting) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	m.Postings = append(m.Postings, p)
	return fmt.Sprintf("V-%d", len(m.Postings)), nil
}

// Posted returns a copy of the recorded postings.
func (m *MockBooker) Posted() []model.Posting {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Posting, len(m.Postings))
	copy(out, m.Postings)
	return out
}
