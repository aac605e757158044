// Package api exposes the review queue, matches, feedback and reconciliation
// over HTTP.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/tally/internal/certs"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/service"
)

// Config holds API server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// CertDir holds the self-signed localhost certificate used when TLS is set.
	CertDir string
	TLS     bool
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Store    service.Storage
	Review   *review.Engine
	Matching *matching.Service
	Feedback *feedback.Recorder
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	deps       Deps
	config     Config
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Feedback == nil {
		deps.Feedback = feedback.NewRecorder(deps.Store)
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger.With("component", "api"),
		deps:   deps,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)
	s.router.Use(Logging(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health)

	s.router.Route("/api/clients/{clientID}", func(r chi.Router) {
		r.Route("/review", func(r chi.Router) {
			r.Get("/", s.listReviewItems)
			r.Post("/", s.submitSuggestion)
			r.Get("/{itemID}", s.getReviewItem)
			r.Post("/{itemID}/approve", s.approveReviewItem)
			r.Post("/{itemID}/correct", s.correctReviewItem)
			r.Post("/{itemID}/reject", s.rejectReviewItem)
			r.Post("/{itemID}/revise", s.reviseReviewItem)
		})

		r.Get("/thresholds", s.getThresholds)
		r.Put("/thresholds", s.putThresholds)

		r.Get("/matches", s.listMatches)
		r.Post("/matches", s.createMatch)
		r.Get("/matches/{matchID}", s.getMatch)
		r.Delete("/matches/{matchID}", s.unmatch)
		r.Get("/unmatched", s.listUnmatched)
		r.Post("/reconcile", s.reconcile)

		r.Get("/feedback/accuracy", s.accuracy)
		r.Get("/feedback/export", s.exportTraining)

		r.Get("/audit", s.listAudit)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	if s.config.TLS {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.config.Addr, "tls", s.config.TLS)
		var err error
		if s.config.TLS {
			// certificate comes from TLSConfig
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.config.CertDir == "" {
		return nil, fmt.Errorf("%w: api.cert_dir is required when TLS is enabled", common.ErrMissingConfig)
	}
	manager := certs.NewFileManager(s.config.CertDir)
	cfg, err := manager.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare TLS certificate: %w", err)
	}
	s.logger.Info("Using TLS certificate", "cert_file", manager.CertFile())
	return cfg, nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
