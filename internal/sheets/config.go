// Package sheets exports reconciliation reports and training data to Google Sheets.
package sheets

import (
	"fmt"
	"os"
	"time"

	"github.com/Veraticus/tally/internal/common"
)

// DefaultSpreadsheetName is used when no spreadsheet name is configured.
const DefaultSpreadsheetName = "Tally Report"

// Config holds the configuration for the Google Sheets writer.
type Config struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	TokenFile          string // cached OAuth2 token, alternative to RefreshToken
	ServiceAccountPath string
	SpreadsheetID      string
	SpreadsheetName    string
	TimeZone           string
	CurrencyPattern    string
	BatchSize          int
	RetryAttempts      int
	RetryDelay         time.Duration
	EnableFormatting   bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SpreadsheetName:  DefaultSpreadsheetName,
		EnableFormatting: true,
		TimeZone:         "Europe/Oslo",
		CurrencyPattern:  `"kr" #,##0.00`,
		BatchSize:        1000,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
	}
}

// LoadFromEnv loads the configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	c.ClientID = os.Getenv("GOOGLE_SHEETS_CLIENT_ID")
	c.ClientSecret = os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")
	c.RefreshToken = os.Getenv("GOOGLE_SHEETS_REFRESH_TOKEN")
	c.TokenFile = os.Getenv("GOOGLE_SHEETS_TOKEN_FILE")
	c.ServiceAccountPath = os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")
	c.SpreadsheetID = os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID")
	if name := os.Getenv("GOOGLE_SHEETS_SPREADSHEET_NAME"); name != "" {
		c.SpreadsheetName = name
	}
	if c.SpreadsheetName == "" {
		c.SpreadsheetName = DefaultSpreadsheetName
	}

	if !c.hasServiceAccount() && !c.hasOAuth() {
		return fmt.Errorf("%w: provide either a service account path or OAuth2 credentials for Google Sheets", common.ErrMissingConfig)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	hasOAuth := c.hasOAuth()
	hasServiceAccount := c.hasServiceAccount()

	if !hasOAuth && !hasServiceAccount {
		return fmt.Errorf("%w: no authentication method configured", common.ErrMissingConfig)
	}
	if hasOAuth && hasServiceAccount {
		return fmt.Errorf("%w: multiple authentication methods configured; use either OAuth2 or service account", common.ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", common.ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", common.ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) hasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != "" && (c.RefreshToken != "" || c.TokenFile != "")
}

func (c *Config) hasServiceAccount() bool {
	return c.ServiceAccountPath != ""
}

func (c *Config) retryOptions() common.RetryOptions {
	return common.RetryOptions{
		MaxAttempts:  c.RetryAttempts,
		InitialDelay: c.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}
