package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
)

// AuthState is the claimed access URL saved between runs.
type AuthState struct {
	ClaimedAt time.Time `json:"claimed_at"`
	AccessURL string    `json:"access_url"`
	TokenHint string    `json:"token_hint"`
}

// LoadOrClaim returns the access URL saved in stateFile, or claims one with
// the setup token and saves it. Setup tokens can be claimed only once.
func LoadOrClaim(ctx context.Context, httpClient *http.Client, stateFile, token string) (*AuthState, error) {
	if state, err := loadAuthState(stateFile); err == nil && state.AccessURL != "" {
		slog.Debug("Using saved SimpleFIN access URL",
			"claimed_at", state.ClaimedAt.Format(time.DateOnly),
			"state_file", stateFile)
		return state, nil
	}

	if token == "" {
		return nil, fmt.Errorf("%w: simplefin setup token is required for the first import", common.ErrMissingConfig)
	}

	slog.Info("Claiming SimpleFIN setup token")
	accessURL, err := claimToken(ctx, httpClient, token)
	if err != nil {
		return nil, err
	}

	state := &AuthState{
		ClaimedAt: time.Now().UTC(),
		AccessURL: accessURL,
		TokenHint: tokenHint(token),
	}
	if err := saveAuthState(stateFile, state); err != nil {
		return nil, err
	}
	slog.Info("Saved SimpleFIN access URL", "state_file", stateFile)
	return state, nil
}

// claimToken decodes the base64 setup token into a claim URL and POSTs to it.
// The response body is the access URL.
func claimToken(ctx context.Context, httpClient *http.Client, token string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return "", common.Validationf("simplefin setup token is not base64: %v", err)
		}
	}

	claimURL := string(decoded)
	if !isHTTPURL(claimURL) {
		return "", common.Validationf("simplefin setup token does not hold a URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to claim simplefin access: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read claim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("simplefin claim failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	accessURL := strings.TrimSpace(string(body))
	if !isHTTPURL(accessURL) {
		return "", fmt.Errorf("simplefin claim returned an invalid access URL")
	}
	return accessURL, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func loadAuthState(path string) (*AuthState, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	var state AuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveAuthState(path string, state *AuthState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create simplefin state directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	// the access URL embeds credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save simplefin state: %w", err)
	}
	return nil
}

func tokenHint(token string) string {
	if len(token) > 16 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return "short_token"
}
