package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/sheets"
)

// LoadSheetsConfig loads Google Sheets configuration. Keys under sheets.* in
// v (config file or TALLY_SHEETS_* variables) win over the GOOGLE_SHEETS_*
// variables, which win over the defaults.
func LoadSheetsConfig(v *viper.Viper) (*sheets.Config, error) {
	cfg := sheets.DefaultConfig()

	cfg.ServiceAccountPath = ExpandPath(firstOf(v.GetString("sheets.service_account_path"), os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")))
	cfg.ClientID = firstOf(v.GetString("sheets.client_id"), os.Getenv("GOOGLE_SHEETS_CLIENT_ID"))
	cfg.ClientSecret = firstOf(v.GetString("sheets.client_secret"), os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET"))
	cfg.RefreshToken = firstOf(v.GetString("sheets.refresh_token"), os.Getenv("GOOGLE_SHEETS_REFRESH_TOKEN"))
	cfg.TokenFile = ExpandPath(firstOf(v.GetString("sheets.token_file"), os.Getenv("GOOGLE_SHEETS_TOKEN_FILE")))
	cfg.SpreadsheetID = firstOf(v.GetString("sheets.spreadsheet_id"), os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID"))
	cfg.SpreadsheetName = firstOf(v.GetString("sheets.spreadsheet_name"), os.Getenv("GOOGLE_SHEETS_SPREADSHEET_NAME"), cfg.SpreadsheetName)

	if tz := v.GetString("sheets.time_zone"); tz != "" {
		cfg.TimeZone = tz
	}
	if pattern := v.GetString("sheets.currency_pattern"); pattern != "" {
		cfg.CurrencyPattern = pattern
	}
	if v.IsSet("sheets.enable_formatting") {
		cfg.EnableFormatting = v.GetBool("sheets.enable_formatting")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
