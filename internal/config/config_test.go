package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(DataDir(), "tally.db"), cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 85, cfg.Matching.AutoThreshold)
	assert.Equal(t, 50, cfg.Matching.SuggestThreshold)
	assert.Equal(t, "0.01", cfg.Matching.Scoring.AmountTolerance.String())
	assert.Equal(t, 3, cfg.Matching.Scoring.DateWindowDays)
	assert.Equal(t, 40, cfg.Matching.Scoring.AmountPoints)
	assert.Equal(t, "sandbox", cfg.Plaid.Environment)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Addr)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, filepath.Join(DataDir(), "journal.jsonl"), cfg.Booking.JournalPath)
	assert.False(t, cfg.API.TLS)
	assert.Equal(t, filepath.Join(DataDir(), "certs"), cfg.API.CertDir)
	assert.Equal(t, filepath.Join(DataDir(), "simplefin.json"), cfg.SimpleFIN.StateFile)
	assert.Equal(t, 30*time.Second, cfg.SimpleFIN.Timeout)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/tally-test.db
matching:
  auto_threshold: 90
  suggest_threshold: 60
  amount_tolerance: "0.50"
review:
  actor: kari
api:
  addr: ":9000"
  tls: true
simplefin:
  token: setup-token
`), 0600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tally-test.db", cfg.Database.Path)
	assert.Equal(t, 90, cfg.Matching.AutoThreshold)
	assert.Equal(t, 60, cfg.Matching.SuggestThreshold)
	assert.Equal(t, "0.5", cfg.Matching.Scoring.AmountTolerance.String())
	assert.Equal(t, "kari", cfg.Review.Actor)
	assert.Equal(t, ":9000", cfg.API.Addr)
	assert.True(t, cfg.API.TLS)
	assert.Equal(t, "setup-token", cfg.SimpleFIN.Token)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TALLY_DATABASE_PATH", "/srv/tally.db")
	t.Setenv("TALLY_PLAID_ENVIRONMENT", "production")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tally.db", cfg.Database.Path)
	assert.Equal(t, "production", cfg.Plaid.Environment)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		set     map[string]any
		wantErr error
		name    string
	}{
		{
			name:    "suggest above auto",
			set:     map[string]any{"matching.suggest_threshold": 90, "matching.auto_threshold": 80},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "threshold above 100",
			set:     map[string]any{"matching.auto_threshold": 120},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "bad tolerance",
			set:     map[string]any{"matching.amount_tolerance": "abc"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "negative tolerance",
			set:     map[string]any{"matching.amount_tolerance": "-1"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "similarity above one",
			set:     map[string]any{"matching.min_name_similarity": 1.5},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "unknown log level",
			set:     map[string]any{"logging.level": "loud"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "empty database path",
			set:     map[string]any{"database.path": ""},
			wantErr: common.ErrMissingConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TALLY_TEST_DOTENV=loaded\n"), 0600))
	t.Setenv("TALLY_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("TALLY_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("TALLY_TEST_DOTENV"))

	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadSheetsConfig(t *testing.T) {
	for _, key := range []string{
		"GOOGLE_SHEETS_CLIENT_ID", "GOOGLE_SHEETS_CLIENT_SECRET", "GOOGLE_SHEETS_REFRESH_TOKEN",
		"GOOGLE_SHEETS_TOKEN_FILE", "GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH",
		"GOOGLE_SHEETS_SPREADSHEET_ID", "GOOGLE_SHEETS_SPREADSHEET_NAME",
	} {
		t.Setenv(key, "")
	}

	t.Run("viper wins over environment", func(t *testing.T) {
		t.Setenv("GOOGLE_SHEETS_SPREADSHEET_ID", "from-env")
		v := viper.New()
		v.Set("sheets.service_account_path", "/keys/sa.json")
		v.Set("sheets.spreadsheet_id", "from-config")
		v.Set("sheets.enable_formatting", false)

		cfg, err := LoadSheetsConfig(v)
		require.NoError(t, err)
		assert.Equal(t, "/keys/sa.json", cfg.ServiceAccountPath)
		assert.Equal(t, "from-config", cfg.SpreadsheetID)
		assert.False(t, cfg.EnableFormatting)
		assert.Equal(t, "Europe/Oslo", cfg.TimeZone)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("GOOGLE_SHEETS_CLIENT_ID", "id")
		t.Setenv("GOOGLE_SHEETS_CLIENT_SECRET", "secret")
		t.Setenv("GOOGLE_SHEETS_REFRESH_TOKEN", "refresh")

		cfg, err := LoadSheetsConfig(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "id", cfg.ClientID)
		assert.Equal(t, "Tally Report", cfg.SpreadsheetName)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, err := LoadSheetsConfig(viper.New())
		assert.ErrorIs(t, err, common.ErrMissingConfig)
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TALLY_TEST_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, filepath.Join(home, "tally.db"), ExpandPath("~/tally.db"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/data/tally.db", ExpandPath("$TALLY_TEST_DIR/tally.db"))
}
