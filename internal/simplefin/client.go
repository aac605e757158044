// Package simplefin fetches bank feed transactions from a SimpleFIN Bridge.
package simplefin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// DefaultCurrency is used when an account reports no currency.
const DefaultCurrency = "NOK"

// Config holds SimpleFIN settings.
type Config struct {
	Token     string // one-time setup token, needed until an access URL is saved
	StateFile string // where the claimed access URL is kept
	Timeout   time.Duration
}

// Client implements plaid.TransactionFetcher for SimpleFIN.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	accessURL  string
	retryOpts  common.RetryOptions
}

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Memo        string `json:"memo"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// NewClient loads the saved access URL, claiming cfg.Token when there is none.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.StateFile == "" {
		return nil, fmt.Errorf("%w: simplefin state file is required", common.ErrMissingConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	state, err := LoadOrClaim(ctx, httpClient, cfg.StateFile, cfg.Token)
	if err != nil {
		return nil, err
	}
	return newClient(httpClient, state.AccessURL), nil
}

func newClient(httpClient *http.Client, accessURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     slog.Default().With("component", "simplefin"),
		accessURL:  strings.TrimSuffix(accessURL, "/"),
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// GetTransactions returns the posted transactions of every account between
// startDate and endDate inclusive. Pending transactions are skipped.
func (c *Client) GetTransactions(ctx context.Context, clientID string, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	if clientID == "" {
		return nil, common.Validationf("client ID is required")
	}

	query := url.Values{}
	query.Set("start-date", strconv.FormatInt(startDate.Unix(), 10))
	// end-date is exclusive
	query.Set("end-date", strconv.FormatInt(endDate.AddDate(0, 0, 1).Unix(), 10))

	set, err := c.fetchAccounts(ctx, query)
	if err != nil {
		return nil, err
	}

	var txns []model.BankTransaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}
			bt, err := mapTransaction(acct, tx, clientID)
			if err != nil {
				return nil, err
			}
			day := bt.Date
			if day.Before(startDate) || day.After(endDate) {
				continue
			}
			txns = append(txns, bt)
		}
	}

	c.logger.Info("Fetched transactions",
		"client_id", clientID,
		"accounts", len(set.Accounts),
		"transactions", len(txns))
	return txns, nil
}

// GetAccounts returns the IDs of the accounts the access URL can read.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	query := url.Values{}
	query.Set("balances-only", "1")
	set, err := c.fetchAccounts(ctx, query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set.Accounts))
	for _, acct := range set.Accounts {
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

func (c *Client) fetchAccounts(ctx context.Context, query url.Values) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("invalid simplefin access URL: %w", err)
	}
	u.RawQuery = query.Encode()

	var set accountSet
	err = common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return &common.RetryableError{Err: err}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch simplefin accounts: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return common.ErrRateLimit
		case resp.StatusCode >= 500:
			return fmt.Errorf("simplefin server error: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return &common.RetryableError{
				Err: fmt.Errorf("simplefin request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body))),
			}
		}

		set = accountSet{}
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to decode simplefin response: %w", err)}
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	for _, msg := range set.Errors {
		c.logger.Warn("SimpleFIN reported an error", "message", msg)
	}
	return &set, nil
}

// mapTransaction converts a SimpleFIN transaction. SimpleFIN amounts are
// signed decimal strings from the account holder's view, which matches ours.
func mapTransaction(acct account, tx transaction, clientID string) (model.BankTransaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(tx.Amount))
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("transaction %s: invalid amount %q: %w", tx.ID, tx.Amount, err)
	}

	currency := strings.ToUpper(acct.Currency)
	if len(currency) != 3 {
		currency = DefaultCurrency
	}

	description := strings.TrimSpace(tx.Description)
	if description == "" {
		description = strings.TrimSpace(tx.Payee)
	}

	posted := time.Unix(tx.Posted, 0).UTC()
	bt := model.BankTransaction{
		ID:           fmt.Sprintf("%s_%s", acct.ID, tx.ID),
		ClientID:     clientID,
		AccountID:    acct.ID,
		Date:         time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC),
		Amount:       amount,
		Currency:     currency,
		Description:  description,
		Counterparty: strings.TrimSpace(tx.Payee),
		Status:       model.StatusUnmatched,
	}
	bt.Hash = bt.GenerateHash()
	return bt, nil
}
