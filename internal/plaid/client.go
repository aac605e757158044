// Package plaid fetches bank feed transactions from the Plaid API.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// DefaultCurrency is used when Plaid reports no ISO currency code.
const DefaultCurrency = "NOK"

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("%w: plaid access token is required", common.ErrMissingConfig)
	}
	return c.validateCredentials()
}

func (c *Config) validateCredentials() error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	case c.Secret == "":
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	case c.Environment == "":
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	case c.Environment != "sandbox" && c.Environment != "production":
		return fmt.Errorf("%w: invalid Plaid environment: must be sandbox or production", common.ErrInvalidConfig)
	}
	return nil
}

// Client implements the TransactionFetcher interface.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   common.RetryOptions
	accessToken string
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// GetTransactions fetches transactions from Plaid within the specified date
// range and converts them to bank transactions owned by clientID.
func (c *Client) GetTransactions(ctx context.Context, clientID string, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, common.Validationf("client ID is required for Plaid import")
	}
	if startDate.After(endDate) {
		return nil, common.Validationf("start date must be before end date")
	}

	c.logger.Info("Fetching transactions from Plaid",
		"client_id", clientID,
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	var all []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				c.accessToken,
				startDate.Format("2006-01-02"),
				endDate.Format("2006-01-02"),
			)
			request.SetOptions(plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			})

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return c.classifyError(err, "failed to fetch transactions")
			}

			page = resp.GetTransactions()
			c.logger.Debug("Fetched transaction batch",
				"count", len(page),
				"offset", offset,
				"total", resp.GetTotalTransactions())
			return nil
		}, c.retryOpts)
		if retryErr != nil {
			return nil, retryErr
		}

		all = append(all, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	transactions := make([]model.BankTransaction, 0, len(all))
	for _, pt := range all {
		tx, err := MapTransaction(pt, clientID)
		if err != nil {
			c.logger.Warn("Skipping Plaid transaction", "transaction_id", pt.GetTransactionId(), "error", err)
			continue
		}
		transactions = append(transactions, tx)
	}

	c.logger.Info("Fetched all transactions", "count", len(transactions), "skipped", len(all)-len(transactions))
	return transactions, nil
}

// GetAccounts fetches account IDs from Plaid.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	c.logger.Info("Fetching accounts from Plaid")

	var accounts []plaid.AccountBase
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.classifyError(err, "failed to fetch accounts")
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if retryErr != nil {
		return nil, retryErr
	}

	accountIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.GetAccountId())
	}
	return accountIDs, nil
}

// classifyError marks rate limits as retryable and wraps everything else as a
// connection failure.
func (c *Client) classifyError(err error, msg string) error {
	if plaidError := extractPlaidError(err); plaidError != nil {
		if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
			c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
			return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrPlaidRateLimit, plaidError.ErrorMessage), Retryable: true}
		}
		return fmt.Errorf("%w: %s - %s", common.ErrPlaidConnection, plaidError.ErrorCode, plaidError.ErrorMessage)
	}
	return fmt.Errorf("%w: %s: %w", common.ErrPlaidConnection, msg, err)
}

// MapTransaction converts a Plaid transaction to a bank transaction.
//
// Plaid reports money leaving the account as a positive amount; the sign is
// flipped so positive means money in.
func MapTransaction(pt plaid.Transaction, clientID string) (model.BankTransaction, error) {
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("bad date %q: %w", pt.GetDate(), err)
	}

	currency := pt.GetIsoCurrencyCode()
	if currency == "" {
		currency = DefaultCurrency
	}

	counterparty := pt.GetMerchantName()
	if counterparty == "" {
		counterparty = pt.GetName()
	}

	meta := pt.GetPaymentMeta()
	tx := model.BankTransaction{
		Date:         date,
		ID:           pt.GetTransactionId(),
		ClientID:     clientID,
		AccountID:    pt.GetAccountId(),
		Currency:     currency,
		Description:  strings.TrimSpace(pt.GetName()),
		Counterparty: cleanMerchantName(counterparty),
		KID:          strings.TrimSpace(meta.GetReferenceNumber()),
		Status:       model.StatusUnmatched,
		Amount:       decimal.NewFromFloat(pt.GetAmount()).Neg().Round(2),
		Posted:       !pt.GetPending(),
	}
	tx.Hash = tx.GenerateHash()
	return tx, nil
}

// cleanMerchantName standardizes merchant names by removing common suffixes
// and trailing transaction numbers.
func cleanMerchantName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !isLetter(runes[j-1]) {
				runes[j] = toUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}

	// "MERCHANT 123456789": a long digit tail is a transaction number.
	if len(words) > 1 {
		last := words[len(words)-1]
		if len(last) > 5 && isAllDigits(last) {
			words = words[:len(words)-1]
		}
	}
	name = strings.Join(words, " ")

	suffixes := []string{" As", " Asa", " Llc", " Inc", " Ltd", " Ab", " Gmbh"}
	for changed := true; changed; {
		changed = false
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}

	return strings.TrimSpace(name)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

var _ TransactionFetcher = (*Client)(nil)
