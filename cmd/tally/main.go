package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
)

var version = "dev"

// globals carries the state every subcommand shares.
type globals struct {
	v       *viper.Viper
	cfg     *config.Config
	cfgFile string
	envFile string
}

func newRootCmd() *cobra.Command {
	g := &globals{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "tally",
		Short: "📒 Bank reconciliation and AI posting review",
		Long: `tally matches bank transactions against ledger entries, books AI posting
suggestions that clear a client's confidence thresholds, and queues the rest
for an accountant. Every accountant decision is kept as feedback for
measuring and retraining the suggestion model.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return g.initConfig() },
	}

	rootCmd.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (default: $HOME/.config/tally/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides database.path)")

	_ = g.v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = g.v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = g.v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(
		migrateCmd(g),
		importCmd(g),
		reconcileCmd(g),
		matchesCmd(g),
		rulesCmd(g),
		thresholdsCmd(g),
		reviewCmd(g),
		feedbackCmd(g),
		exportCmd(g),
		auditCmd(g),
		serveCmd(g),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globals) initConfig() error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}

	if g.cfgFile != "" {
		g.v.SetConfigFile(config.ExpandPath(g.cfgFile))
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		g.v.AddConfigPath(filepath.Join(home, ".config", "tally"))
		g.v.AddConfigPath(".")
		g.v.SetConfigName("config")
		g.v.SetConfigType("yaml")
	}

	g.v.SetEnvPrefix(config.EnvPrefix)
	g.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	g.v.AutomaticEnv()

	if err := g.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load(g.v)
	if err != nil {
		return err
	}
	g.cfg = cfg

	return setupLogging(cfg.Logging)
}

func setupLogging(cfg config.LoggingConfig) error {
	level, err := common.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if err := common.SetupLogger(level, cfg.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tally %s\n", version)
			return err
		},
	}
}
