package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/api"
)

func serveCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the review queue, matches, reconciliation and feedback over HTTP
under /api/clients/{clientID}. Mutating requests must carry the acting user
in the X-Tally-Actor header. With --tls a self-signed localhost certificate
is kept under api.cert_dir.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				g.cfg.API.Addr = addr
			}
			if cmd.Flags().Changed("tls") {
				g.cfg.API.TLS, _ = cmd.Flags().GetBool("tls")
			}

			return g.run(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.reviewEngine()
				if err != nil {
					return err
				}
				server := api.NewServer(api.Config{
					Addr:            a.cfg.API.Addr,
					ReadTimeout:     a.cfg.API.ReadTimeout,
					WriteTimeout:    a.cfg.API.WriteTimeout,
					ShutdownTimeout: a.cfg.API.ShutdownTimeout,
					CertDir:         a.cfg.API.CertDir,
					TLS:             a.cfg.API.TLS,
				}, api.Deps{
					Store:    a.store,
					Review:   engine,
					Matching: a.matchingService(),
					Feedback: a.recorder(),
				}, slog.Default())
				return server.Start(ctx)
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: api.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed localhost certificate (default: api.tls)")
	return cmd
}
