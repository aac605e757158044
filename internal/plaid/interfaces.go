package plaid

import (
	"context"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// TransactionFetcher defines the contract for fetching bank feed data.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, clientID string, startDate, endDate time.Time) ([]model.BankTransaction, error)
	GetAccounts(ctx context.Context) ([]string, error)
}
