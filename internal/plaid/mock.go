package plaid

import (
	"context"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// MockClient is a mock TransactionFetcher for tests.
type MockClient struct {
	GetTransactionsFn func(ctx context.Context, clientID string, startDate, endDate time.Time) ([]model.BankTransaction, error)
	GetAccountsFn     func(ctx context.Context) ([]string, error)

	GetTransactionsCalls []GetTransactionsCall
	GetAccountsCalls     int
}

// GetTransactionsCall records the parameters of a GetTransactions call.
type GetTransactionsCall struct {
	StartDate time.Time
	EndDate   time.Time
	ClientID  string
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// GetTransactions implements TransactionFetcher.
func (m *MockClient) GetTransactions(ctx context.Context, clientID string, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	m.GetTransactionsCalls = append(m.GetTransactionsCalls, GetTransactionsCall{
		StartDate: startDate,
		EndDate:   endDate,
		ClientID:  clientID,
	})
	if m.GetTransactionsFn != nil {
		return m.GetTransactionsFn(ctx, clientID, startDate, endDate)
	}
	return []model.BankTransaction{}, nil
}

// GetAccounts implements TransactionFetcher.
func (m *MockClient) GetAccounts(ctx context.Context) ([]string, error) {
	m.GetAccountsCalls++
	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx)
	}
	return []string{}, nil
}

var _ TransactionFetcher = (*MockClient)(nil)
