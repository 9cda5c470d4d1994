package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/example/hanzibot/internal/config"
	"github.com/example/hanzibot/internal/database"
)

// app holds what every subcommand needs once the root command has run
type app struct {
	envFile string
	cfg     *config.Config
	logger  *log.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hanzibot",
		Short:         "Spaced repetition for Mandarin characters and sentences",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "file with environment overrides")

	root.AddCommand(
		newServeCmd(a),
		newImportCmd(a),
		newReplayCmd(a),
	)

	return root
}

func newLogger(w io.Writer, cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	formatter := log.TextFormatter
	if cfg.LogFormat == "json" {
		formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	}), nil
}

func (a *app) connect() (*sqlx.DB, error) {
	db, err := database.Connect(a.cfg.DBType, a.cfg.DBDSN, a.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.logger.Debug("connected to database", "type", a.cfg.DBType)
	return db, nil
}
