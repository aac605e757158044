package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

// DefaultCallbackAddr is where the interactive flow listens for the redirect.
const DefaultCallbackAddr = "localhost:8085"

// OAuth2Config holds OAuth2 configuration.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenFile    string // Where to save the token
	CallbackAddr string // host:port of the local redirect listener
	Timeout      time.Duration
}

func (c OAuth2Config) callbackAddr() string {
	if c.CallbackAddr == "" {
		return DefaultCallbackAddr
	}
	return c.CallbackAddr
}

func (c OAuth2Config) oauth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://" + c.callbackAddr() + "/callback",
		Scopes:       []string{sheets.SpreadsheetsScope},
	}
}

// AuthenticateOAuth2Interactive runs the browser consent flow, waits for the
// redirect on a local listener and exchanges the code for a token. The token
// is saved to TokenFile when one is set.
func AuthenticateOAuth2Interactive(ctx context.Context, config OAuth2Config) (*oauth2.Token, error) {
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, errors.New("client ID and client secret are required")
	}

	oauthConfig := config.oauth2()
	state := uuid.NewString()

	listener, err := net.Listen("tcp", config.callbackAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			select {
			case errorChan <- errors.New("no authorization code received"):
			default:
			}
			_, _ = fmt.Fprint(w, `<html><body><h1>Authentication failed</h1><p>No authorization code received.</p></body></html>`)
			return
		}
		select {
		case codeChan <- code:
		default:
		}
		_, _ = fmt.Fprint(w, `<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>`)
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errorChan <- fmt.Errorf("callback server: %w", err):
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Error shutting down callback server", "error", err)
		}
	}()

	authURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	slog.Info("Google Sheets authorization required")
	slog.Info("Visit this URL to authorize", "url", authURL)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var authCode string
	select {
	case authCode = <-codeChan:
		slog.Info("Received authorization code")
	case err := <-errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("authentication timed out after %s", timeout)
	}

	token, err := oauthConfig.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if config.TokenFile != "" {
		if err := saveToken(config.TokenFile, token); err != nil {
			return token, err
		}
		slog.Info("Token saved", "file", config.TokenFile)
	}
	return token, nil
}

// LoadToken loads a token from file.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	if tokenFile == "" {
		return nil, errors.New("no token file configured")
	}
	f, err := os.Open(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no token", tokenFile)
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}

// RefreshTokenIfNeeded refreshes the token if it's expired and saves the result.
func RefreshTokenIfNeeded(ctx context.Context, config OAuth2Config, token *oauth2.Token) (*oauth2.Token, error) {
	if token.Valid() {
		return token, nil
	}

	slog.Info("Token expired, refreshing")
	newToken, err := config.oauth2().TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if config.TokenFile != "" {
		if err := saveToken(config.TokenFile, newToken); err != nil {
			slog.Warn("Failed to save refreshed token", "error", err)
		}
	}
	return newToken, nil
}

// GetOrCreateToken returns the saved token, refreshed if needed, or runs the
// interactive flow when there is none.
func GetOrCreateToken(ctx context.Context, config OAuth2Config) (*oauth2.Token, error) {
	if config.TokenFile != "" {
		token, err := LoadToken(config.TokenFile)
		if err == nil {
			slog.Debug("Loaded existing token", "file", config.TokenFile)
			return RefreshTokenIfNeeded(ctx, config, token)
		}
		slog.Info("No usable token found, starting authorization", "file", config.TokenFile)
	}
	return AuthenticateOAuth2Interactive(ctx, config)
}
