package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpo"
)

type optimizeOptions struct {
	file          string
	trials        int
	workers       int
	deterministic bool
	executable    string
	timeout       time.Duration
	seed          int64
	historyDir    string
	run           string
	metricsAddr   string
}

func newOptimizeCmd() *cobra.Command {
	opts := optimizeOptions{}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run an optimization described by a definition file",
		Example: `  hpo optimize --file druid.yaml --trials 200 --workers 8
  hpo optimize --file druid.yaml --history-dir .hpo --run druid   # resumable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimize(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", envOr(envFile, "hpo.yaml"), "definition file")
	f.IntVar(&opts.trials, "trials", 0, "trial budget (overrides scenario.trials)")
	f.IntVar(&opts.workers, "workers", envIntOr(envWorkers, 0), "concurrent trials (overrides scenario.workers)")
	f.BoolVar(&opts.deterministic, "deterministic", true, "never re-evaluate a configuration (overrides scenario.deterministic)")
	f.StringVar(&opts.executable, "executable", "", "trial executable (overrides executable.path)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-trial timeout (overrides scenario.trial_timeout)")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (overrides scenario.seed)")
	f.StringVar(&opts.historyDir, "history-dir", envOr(envHistoryDir, ""), "directory of the resumable run history")
	f.StringVar(&opts.run, "run", envOr(envRun, ""), "run name within the history directory")
	f.StringVar(&opts.metricsAddr, "metrics-addr", envOr(envMetrics, ""), "serve Prometheus metrics on this address")

	return cmd
}

// apply overrides definition values with flags that were set explicitly, or
// whose environment default is set.
func (o optimizeOptions) apply(cmd *cobra.Command, def *hpo.Definition) {
	f := cmd.Flags()

	if f.Changed("trials") {
		def.Scenario.Trials = o.trials
	}

	if f.Changed("workers") || o.workers > 0 {
		def.Scenario.Workers = o.workers
	}

	if f.Changed("deterministic") {
		def.Scenario.Deterministic = o.deterministic
	}

	if f.Changed("executable") {
		def.Executable.Path = o.executable
	}

	if f.Changed("timeout") {
		def.Scenario.TrialTimeout = o.timeout
	}

	if f.Changed("seed") {
		def.Scenario.Seed = o.seed
	}

	if o.historyDir != "" {
		def.History.Dir = o.historyDir
	}

	if o.run != "" {
		def.History.Run = o.run
	}
}

func runOptimize(cmd *cobra.Command, opts optimizeOptions) error {
	ctx := cmd.Context()

	def, err := hpo.LoadDefinition(opts.file)
	if err != nil {
		return err
	}

	opts.apply(cmd, def)

	space, err := def.ToSpace()
	if err != nil {
		return err
	}

	executor, err := def.ToExecutor()
	if err != nil {
		return err
	}

	config := def.ToConfig()
	if err := config.Validate(); err != nil {
		return err
	}

	logger := log.Logger

	options := []hpo.Option{
		hpo.WithLogger(logger),
		hpo.WithObserver(hpo.NewLogObserver(logger.With().Str("component", "trials").Logger())),
		hpo.WithRunID(def.History.Run),
	}

	if def.History.Dir != "" {
		history, err := openHistory(ctx, def, space)
		if err != nil {
			return err
		}
		defer history.Close()

		options = append(options, hpo.WithHistory(history))
	}

	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		options = append(options, hpo.WithObserver(hpo.NewMetricsObserver(reg)))

		srv := serveMetrics(opts.metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	optimizer, err := hpo.New(space, executor, config, options...)
	if err != nil {
		return err
	}

	result, err := optimizer.Optimize(ctx)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}

	return err
}

func openHistory(ctx context.Context, def *hpo.Definition, space *hpo.Space) (*hpo.RunHistory, error) {
	config := hpo.DefaultJournalConfig()
	config.Path = filepath.Clean(def.History.Dir)
	config.Run = def.History.Run
	config.Logger = log.Logger

	journal, err := hpo.OpenBadgerJournal(config)
	if err != nil {
		return nil, err
	}

	history, err := hpo.OpenRunHistory(ctx, journal, space)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	log.Info().
		Str("dir", config.Path).
		Str("run", config.Run).
		Int("trials", history.Len()).
		Msg("opened run history")

	return history, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")

	return srv
}

func printResult(w io.Writer, r *hpo.Result) {
	fmt.Fprintf(w, "Trials: %d (succeeded %d, failed %d, timed out %d)\n", r.Trials, r.Succeeded, r.Failed, r.TimedOut)

	if r.DefaultErr != nil {
		fmt.Fprintf(w, "Default cost: unknown (%v)\n", r.DefaultErr)
	} else {
		fmt.Fprintf(w, "Default cost: %g\n", r.DefaultCost)
	}

	if r.IncumbentErr != nil {
		fmt.Fprintf(w, "Incumbent: none (%v)\n", r.IncumbentErr)
		return
	}

	fmt.Fprintf(w, "Incumbent cost: %g\n", r.IncumbentCost)
	fmt.Fprintf(w, "Incumbent %s: %s\n", r.IncumbentHash, r.Incumbent)
}
