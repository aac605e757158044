package sheets

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/tally/internal/common"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		wantErr error
		config  Config
	}{
		{
			name: "refresh token credentials",
			config: Config{
				ClientID:     "test-client",
				ClientSecret: "test-secret",
				RefreshToken: "test-token",
				BatchSize:    100,
				RetryDelay:   time.Second,
			},
		},
		{
			name: "token file credentials",
			config: Config{
				ClientID:     "test-client",
				ClientSecret: "test-secret",
				TokenFile:    "/tmp/token.json",
				BatchSize:    100,
			},
		},
		{
			name: "service account",
			config: Config{
				ServiceAccountPath: "/path/to/key.json",
				BatchSize:          100,
			},
		},
		{
			name: "partial oauth credentials",
			config: Config{
				ClientID:     "test-client",
				RefreshToken: "test-token",
				BatchSize:    100,
			},
			wantErr: common.ErrMissingConfig,
			errMsg:  "no authentication method configured",
		},
		{
			name: "both methods",
			config: Config{
				ClientID:           "test-client",
				ClientSecret:       "test-secret",
				RefreshToken:       "test-token",
				ServiceAccountPath: "/path/to/key.json",
				BatchSize:          100,
			},
			wantErr: common.ErrInvalidConfig,
			errMsg:  "multiple authentication methods",
		},
		{
			name:    "zero batch size",
			config:  Config{ServiceAccountPath: "/k.json"},
			wantErr: common.ErrInvalidConfig,
			errMsg:  "batch size must be positive",
		},
		{
			name:    "negative retry attempts",
			config:  Config{ServiceAccountPath: "/k.json", BatchSize: 10, RetryAttempts: -1},
			wantErr: common.ErrInvalidConfig,
			errMsg:  "retry attempts cannot be negative",
		},
		{
			name:    "negative retry delay",
			config:  Config{ServiceAccountPath: "/k.json", BatchSize: 10, RetryDelay: -time.Second},
			wantErr: common.ErrInvalidConfig,
			errMsg:  "retry delay cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultSpreadsheetName, cfg.SpreadsheetName)
	assert.Equal(t, "Europe/Oslo", cfg.TimeZone)
	assert.True(t, cfg.EnableFormatting)
	assert.Positive(t, cfg.BatchSize)

	opts := cfg.retryOptions()
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, time.Second, opts.InitialDelay)
}

func TestConfig_LoadFromEnv(t *testing.T) {
	keys := []string{
		"GOOGLE_SHEETS_CLIENT_ID",
		"GOOGLE_SHEETS_CLIENT_SECRET",
		"GOOGLE_SHEETS_REFRESH_TOKEN",
		"GOOGLE_SHEETS_TOKEN_FILE",
		"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH",
		"GOOGLE_SHEETS_SPREADSHEET_ID",
		"GOOGLE_SHEETS_SPREADSHEET_NAME",
	}

	tests := []struct {
		envVars map[string]string
		check   func(t *testing.T, c *Config)
		name    string
		wantErr bool
	}{
		{
			name: "oauth credentials",
			envVars: map[string]string{
				"GOOGLE_SHEETS_CLIENT_ID":        "test-client",
				"GOOGLE_SHEETS_CLIENT_SECRET":    "test-secret",
				"GOOGLE_SHEETS_REFRESH_TOKEN":    "test-token",
				"GOOGLE_SHEETS_SPREADSHEET_ID":   "test-id",
				"GOOGLE_SHEETS_SPREADSHEET_NAME": "Test Sheet",
			},
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, "test-client", c.ClientID)
				assert.Equal(t, "test-secret", c.ClientSecret)
				assert.Equal(t, "test-token", c.RefreshToken)
				assert.Equal(t, "test-id", c.SpreadsheetID)
				assert.Equal(t, "Test Sheet", c.SpreadsheetName)
			},
		},
		{
			name: "service account path keeps default name",
			envVars: map[string]string{
				"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH": "/path/to/key.json",
			},
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, "/path/to/key.json", c.ServiceAccountPath)
				assert.Equal(t, DefaultSpreadsheetName, c.SpreadsheetName)
			},
		},
		{
			name:    "missing credentials",
			envVars: map[string]string{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range keys {
				t.Setenv(key, "")
				_ = os.Unsetenv(key)
			}
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config := DefaultConfig()
			err := config.LoadFromEnv()

			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrMissingConfig)
				return
			}
			assert.NoError(t, err)
			if tt.check != nil {
				tt.check(t, &config)
			}
		})
	}
}
