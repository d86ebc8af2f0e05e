package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Environment variables providing flag defaults.
const (
	envFile       = "HPO_FILE"
	envLogLevel   = "HPO_LOG_LEVEL"
	envWorkers    = "HPO_WORKERS"
	envHistoryDir = "HPO_HISTORY_DIR"
	envRun        = "HPO_RUN"
	envMetrics    = "HPO_METRICS_ADDR"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("hpo failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "hpo",
		Short: "Black-box hyperparameter optimization for external trial executables",
		Long: `hpo searches a configuration space for the settings that minimize the cost
reported by a trial executable, under a fixed trial budget and a bounded
number of concurrent trials.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd, logLevel)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", envOr(envLogLevel, "info"), "log level (trace, debug, info, warn, error)")

	root.AddCommand(newOptimizeCmd(), newValidateCmd(), newHistoryCmd())

	return root
}

func setupLogging(cmd *cobra.Command, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}

	return fallback
}
