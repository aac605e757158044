package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/plaid"
	"github.com/Veraticus/tally/internal/simplefin"
)

// EnvPrefix is the prefix of environment overrides, e.g. TALLY_DATABASE_PATH.
const EnvPrefix = "TALLY"

// Config is the resolved application configuration.
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Review    ReviewConfig
	API       APIConfig
	Booking   BookingConfig
	Plaid     plaid.Config
	SimpleFIN simplefin.Config
	Matching  matching.Config
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// ReviewConfig holds review queue defaults.
type ReviewConfig struct {
	Actor string // recorded on CLI resolutions when --actor is not given
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr            string
	CertDir         string // self-signed localhost certificate, used when TLS is set
	TLS             bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// BookingConfig locates the posting journal.
type BookingConfig struct {
	JournalPath string
}

// LoadDotEnv loads a .env file into the process environment. An explicit path
// must exist; without one a missing ./.env is ignored.
func LoadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(ExpandPath(path)); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// DataDir returns the directory holding the database and journal by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "tally")
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	scoring := matching.DefaultConfig()

	v.SetDefault("database.path", filepath.Join(DataDir(), "tally.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("matching.auto_threshold", scoring.AutoThreshold)
	v.SetDefault("matching.suggest_threshold", scoring.SuggestThreshold)
	v.SetDefault("matching.amount_tolerance", scoring.Scoring.AmountTolerance.String())
	v.SetDefault("matching.date_window_days", scoring.Scoring.DateWindowDays)
	v.SetDefault("matching.date_decay_per_day", scoring.Scoring.DateDecayPerDay)
	v.SetDefault("matching.min_name_similarity", scoring.Scoring.MinNameSimilarity)

	v.SetDefault("review.actor", os.Getenv("USER"))

	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("simplefin.state_file", filepath.Join(DataDir(), "simplefin.json"))
	v.SetDefault("simplefin.timeout", "30s")

	v.SetDefault("api.addr", "127.0.0.1:8080")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.tls", false)
	v.SetDefault("api.cert_dir", filepath.Join(DataDir(), "certs"))

	v.SetDefault("booking.journal_path", filepath.Join(DataDir(), "journal.jsonl"))
}

// Load resolves the configuration from v, which should already have read its
// config file and environment.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	tolerance, err := decimal.NewFromString(v.GetString("matching.amount_tolerance"))
	if err != nil {
		return nil, fmt.Errorf("%w: matching.amount_tolerance: %v", common.ErrInvalidConfig, err)
	}

	m := matching.DefaultConfig()
	m.AutoThreshold = v.GetInt("matching.auto_threshold")
	m.SuggestThreshold = v.GetInt("matching.suggest_threshold")
	m.Scoring.AmountTolerance = tolerance
	m.Scoring.DateWindowDays = v.GetInt("matching.date_window_days")
	m.Scoring.DateDecayPerDay = v.GetInt("matching.date_decay_per_day")
	m.Scoring.MinNameSimilarity = v.GetFloat64("matching.min_name_similarity")

	cfg := &Config{
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Matching: m,
		Review:   ReviewConfig{Actor: v.GetString("review.actor")},
		Plaid: plaid.Config{
			ClientID:    v.GetString("plaid.client_id"),
			Secret:      v.GetString("plaid.secret"),
			Environment: v.GetString("plaid.environment"),
			AccessToken: v.GetString("plaid.access_token"),
		},
		SimpleFIN: simplefin.Config{
			Token:     v.GetString("simplefin.token"),
			StateFile: ExpandPath(v.GetString("simplefin.state_file")),
			Timeout:   v.GetDuration("simplefin.timeout"),
		},
		API: APIConfig{
			Addr:            v.GetString("api.addr"),
			ReadTimeout:     v.GetDuration("api.read_timeout"),
			WriteTimeout:    v.GetDuration("api.write_timeout"),
			ShutdownTimeout: v.GetDuration("api.shutdown_timeout"),
			TLS:             v.GetBool("api.tls"),
			CertDir:         ExpandPath(v.GetString("api.cert_dir")),
		},
		Booking: BookingConfig{JournalPath: ExpandPath(v.GetString("booking.journal_path"))},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command depends on. Plaid and Sheets
// credentials are checked by the commands that use them.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	m := c.Matching
	switch {
	case m.SuggestThreshold < 0 || m.AutoThreshold > 100:
		return fmt.Errorf("%w: matching thresholds must be within 0-100", common.ErrInvalidConfig)
	case m.SuggestThreshold > m.AutoThreshold:
		return fmt.Errorf("%w: matching.suggest_threshold %d exceeds matching.auto_threshold %d",
			common.ErrInvalidConfig, m.SuggestThreshold, m.AutoThreshold)
	case m.Scoring.AmountTolerance.IsNegative():
		return fmt.Errorf("%w: matching.amount_tolerance cannot be negative", common.ErrInvalidConfig)
	case m.Scoring.DateWindowDays < 0 || m.Scoring.DateDecayPerDay < 0:
		return fmt.Errorf("%w: matching date window and decay cannot be negative", common.ErrInvalidConfig)
	case m.Scoring.MinNameSimilarity < 0 || m.Scoring.MinNameSimilarity > 1:
		return fmt.Errorf("%w: matching.min_name_similarity must be within 0-1", common.ErrInvalidConfig)
	}

	if c.API.Addr == "" {
		return fmt.Errorf("%w: api.addr is required", common.ErrMissingConfig)
	}
	return nil
}
