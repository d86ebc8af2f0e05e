package hpo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

//////
// Const, vars, types.
//////

// intensifyChallengers is how many runners-up of the incumbent may be
// re-run under a stochastic objective.
const intensifyChallengers = 2

// Result is the outcome of an optimization run.
type Result struct {
	// RunID identifies the run in logs.
	RunID string

	// Incumbent is the best configuration, nil when IncumbentErr is set.
	Incumbent     Configuration
	IncumbentHash string
	IncumbentCost float64

	// IncumbentErr is ErrEmptyHistory when no trial succeeded.
	IncumbentErr error

	// Default is the space's default configuration, for baseline comparison.
	Default     Configuration
	DefaultCost float64

	// DefaultErr is set when no cost of the default configuration is known.
	DefaultErr error

	// Trial counts over the whole history, resumed trials included.
	Trials    int
	Succeeded int
	Failed    int
	TimedOut  int
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithStrategy replaces the model-guided strategy.
func WithStrategy(s Strategy) Option {
	return func(o *Optimizer) {
		o.strategy = s
	}
}

// WithHistory resumes from an existing history, typically one returned by
// OpenRunHistory. Its trials count against the budget.
func WithHistory(h *RunHistory) Option {
	return func(o *Optimizer) {
		o.history = h
	}
}

// WithObserver adds an observer.
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) {
		o.observers = append(o.observers, obs)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = l
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *Optimizer) {
		o.runID = id
	}
}

// Optimizer drives the search loop: it asks the strategy for
// configurations, dispatches them to the executor on at most Workers
// concurrent slots, records outcomes into the run history, tracks the
// incumbent and notifies observers.
//
// The loop moves through Proposing, Dispatching, Awaiting and Recording
// until the number of recorded trials reaches Trials.
type Optimizer struct {
	config    OptimizationConfig
	space     *Space
	executor  Executor
	strategy  Strategy
	random    *RandomStrategy
	history   *RunHistory
	observers MultiObserver
	logger    zerolog.Logger
	runID     string
}

// trialResult travels from a worker back to the optimizer.
type trialResult struct {
	config  Configuration
	hash    string
	seed    int64
	outcome Outcome
}

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration: 100 deterministic trials
// on half the CPUs, expected improvement over 100 random and 20 local
// candidates after 10 random trials.
func DefaultConfig() OptimizationConfig {
	return OptimizationConfig{
		Trials:              100,
		Workers:             max(runtime.NumCPU()/2, 1),
		Deterministic:       true,
		InitialSamples:      10,
		NumCandidates:       100,
		LocalCandidates:     20,
		RetrainAfter:        1,
		TrialTimeout:        0,
		Seed:                0,
		SeedPolicy:          SeedFixed,
		MaxRepeats:          3,
		MaxProposalAttempts: 10,
		IncludeDefault:      true,
		ValidateDefault:     false,
		AcquisitionFunc:     ExpectedImprovement,
		AcqParams: AcquisitionParams{
			BestSoFar: math.MaxFloat64,
			Beta:      2.0,
			Xi:        0.0,
		},
		ProgressChan: nil, // Default to no progress updates.
	}
}

// New validates the config and wires the optimizer. space and executor are
// required.
//
// Usage example:
//
//	space, _ := NewSpace([]Hyperparameter{Float("c", 0, 3, WithDefault(math.Sqrt2))})
//	opt, err := New(space, NewCommandExecutor("./hyper"), DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	result, err := opt.Optimize(ctx)
func New(space *Space, executor Executor, config OptimizationConfig, opts ...Option) (*Optimizer, error) {
	if space == nil {
		return nil, fmt.Errorf("%w: nil space", ErrInvalidConfig)
	}

	if executor == nil {
		return nil, fmt.Errorf("%w: nil executor", ErrInvalidConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		config:   config,
		space:    space,
		executor: executor,
		random:   NewRandomStrategy(config.Seed),
		logger:   log.Logger,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.strategy == nil {
		o.strategy = NewModelGuidedStrategy(config, nil)
	}

	if o.history == nil {
		o.history = NewRunHistory()
	}

	if o.runID == "" {
		o.runID = uuid.NewString()[:12]
	}

	if config.ProgressChan != nil {
		o.observers = append(o.observers, NewChannelObserver(config.ProgressChan, config.Trials, config.InitialSamples))
	}

	o.logger = o.logger.With().Str("component", "optimizer").Str("run_id", o.runID).Logger()

	return o, nil
}

// History returns the run history the optimizer records into.
func (o *Optimizer) History() *RunHistory {
	return o.history
}

// Optimize runs trials until the history holds Trials of them, then reports
// the incumbent and the default configuration's cost.
//
// Failed and timed-out trials count against the budget and never abort the
// loop; a run without any successful trial returns a Result whose
// IncumbentErr is ErrEmptyHistory. The only error returned is the context's,
// together with the partial Result.
func (o *Optimizer) Optimize(ctx context.Context) (*Result, error) {
	var (
		workers  = o.config.Workers
		sem      = semaphore.NewWeighted(int64(workers))
		results  = make(chan trialResult, workers)
		pending  = make(map[string]struct{}, workers)
		seeds    = rand.New(rand.NewSource(o.config.Seed))
		running  = 0
		lastHash = ""

		// intensify alternates repeats of known configurations with new
		// ones under a stochastic objective.
		intensify = !o.config.Deterministic
	)

	completed := o.history.Len()

	if inc, err := o.history.IncumbentObservation(); err == nil {
		lastHash = inc.Hash
	}

	o.logger.Info().
		Int("trials", o.config.Trials).
		Int("workers", workers).
		Int("resumed", completed).
		Bool("deterministic", o.config.Deterministic).
		Msg("starting optimization")

	for completed < o.config.Trials || running > 0 {
		// Proposing and Dispatching.
		if dispatched := completed + running; dispatched < o.config.Trials {
			free := 0
			for free < o.config.Trials-dispatched && sem.TryAcquire(1) {
				free++
			}

			if free > 0 {
				batch, repeated := o.propose(ctx, free, dispatched, pending, intensify)
				sem.Release(int64(free - len(batch)))

				if !o.config.Deterministic {
					intensify = !repeated
				}

				for _, cfg := range batch {
					hash := CanonicalKey(cfg)
					seed := o.trialSeed(seeds)

					pending[hash] = struct{}{}
					running++

					o.observers.OnProposal(ProposalEvent{Hash: hash, Config: cfg, Seed: seed, Running: running})

					go func(cfg Configuration, hash string, seed int64) {
						results <- trialResult{
							config:  cfg,
							hash:    hash,
							seed:    seed,
							outcome: o.executor.Evaluate(ctx, cfg, seed, o.config.TrialTimeout),
						}
					}(cfg, hash, seed)
				}
			}
		}

		if running == 0 {
			if completed < o.config.Trials {
				o.logger.Warn().
					Int("completed", completed).
					Msg("no new configuration could be proposed, stopping early")
			}

			break
		}

		// Awaiting.
		var r trialResult
		select {
		case r = <-results:
		case <-ctx.Done():
			return o.result(context.WithoutCancel(ctx), false), ctx.Err()
		}

		running--
		sem.Release(1)
		delete(pending, r.hash)

		// Recording.
		trial, err := o.history.RecordTrial(ctx, Trial{
			Config:   r.config,
			Status:   r.outcome.Status,
			Cost:     r.outcome.Cost,
			Reason:   r.outcome.Reason,
			Seed:     r.seed,
			Duration: r.outcome.Duration,
		})
		if err != nil {
			o.logger.Warn().Err(err).Int("trial", trial.Index).Msg("failed to persist trial")
		}

		completed++

		if inc, err := o.history.IncumbentObservation(); err == nil && inc.Hash != lastHash {
			o.observers.OnIncumbentChanged(IncumbentEvent{
				Hash:     inc.Hash,
				Config:   inc.Config,
				Cost:     inc.Cost,
				Trial:    trial.Index,
				Previous: lastHash,
			})

			lastHash = inc.Hash
		}

		o.observers.OnTrialComplete(trial)
	}

	result := o.result(ctx, o.config.ValidateDefault)

	ev := o.logger.Info().Int("trials", result.Trials).Int("succeeded", result.Succeeded)
	if result.IncumbentErr == nil {
		ev = ev.Str("incumbent", result.IncumbentHash).Float64("cost", result.IncumbentCost)
	}

	ev.Msg("optimization finished")

	return result, nil
}

// propose collects up to n valid configurations that are not pending. An
// invalid proposal is dropped and the strategy asked again; after half of
// MaxProposalAttempts the random strategy takes over. For deterministic
// objectives already evaluated configurations are skipped too; for
// stochastic ones those holding MaxRepeats trials.
//
// When intensify is set and the cold start is over, the first slot re-runs
// a known configuration (see intensifyTarget). repeated reports whether it
// did.
func (o *Optimizer) propose(ctx context.Context, n, dispatched int, pending map[string]struct{}, intensify bool) (out []Configuration, repeated bool) {
	snapshot := o.history.Snapshot()
	out = make([]Configuration, 0, n)
	taken := make(map[string]struct{}, n)

	accept := func(cfg Configuration) bool {
		if err := o.space.Validate(cfg); err != nil {
			o.logger.Warn().Err(err).Msgf("dropping invalid proposal %s", cfg)
			return false
		}

		hash := CanonicalKey(cfg)

		if _, dup := pending[hash]; dup {
			return false
		}

		if _, dup := taken[hash]; dup {
			return false
		}

		if o.config.Deterministic && snapshot.Evaluated(hash) {
			return false
		}

		if !o.config.Deterministic && snapshot.Count(hash) >= o.config.MaxRepeats {
			return false
		}

		taken[hash] = struct{}{}
		out = append(out, cfg)

		return true
	}

	if o.config.IncludeDefault && snapshot.Len() == 0 && dispatched == 0 {
		accept(o.space.DefaultConfiguration())
	}

	if intensify && len(out) < n && dispatched >= o.config.InitialSamples {
		if cfg, ok := o.intensifyTarget(snapshot, pending); ok && accept(cfg) {
			repeated = true

			o.logger.Debug().Str("hash", CanonicalKey(cfg)).Msgf("re-running %s", cfg)
		}
	}

	strategy := o.strategy
	if dispatched < o.config.InitialSamples {
		strategy = o.random
	}

	for attempt := 0; len(out) < n && attempt < o.config.MaxProposalAttempts; attempt++ {
		if attempt > 0 && attempt >= o.config.MaxProposalAttempts/2 {
			strategy = o.random
		}

		proposals, err := strategy.Propose(ctx, snapshot, o.space, n-len(out))
		if err != nil {
			o.logger.Warn().Err(err).Msg("strategy failed to propose")
		}

		for _, cfg := range proposals {
			if len(out) == n {
				break
			}

			accept(cfg)
		}
	}

	return out, repeated
}

// intensifyTarget picks the configuration to re-run: the best ranked of the
// incumbent and its intensifyChallengers closest challengers, by aggregated
// cost, that holds fewer than MaxRepeats trials and is not pending.
func (o *Optimizer) intensifyTarget(snapshot *RunHistory, pending map[string]struct{}) (Configuration, bool) {
	ranked := snapshot.Observations()
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Cost < ranked[j].Cost })

	if len(ranked) > intensifyChallengers+1 {
		ranked = ranked[:intensifyChallengers+1]
	}

	for _, obs := range ranked {
		if _, busy := pending[obs.Hash]; busy {
			continue
		}

		if snapshot.Count(obs.Hash) < o.config.MaxRepeats {
			return obs.Config, true
		}
	}

	return nil, false
}

func (o *Optimizer) trialSeed(seeds *rand.Rand) int64 {
	if o.config.SeedPolicy == SeedFresh {
		return seeds.Int63()
	}

	return o.config.Seed
}

// result summarizes the history. When validateDefault is set and the
// default configuration has no cost yet, it is evaluated once without being
// recorded.
func (o *Optimizer) result(ctx context.Context, validateDefault bool) *Result {
	r := &Result{RunID: o.runID}

	for _, t := range o.history.Trials() {
		r.Trials++

		switch t.Status {
		case TrialSucceeded:
			r.Succeeded++
		case TrialFailed:
			r.Failed++
		case TrialTimedOut:
			r.TimedOut++
		}
	}

	if inc, err := o.history.IncumbentObservation(); err != nil {
		r.IncumbentErr = err
	} else {
		r.Incumbent, r.IncumbentHash, r.IncumbentCost = inc.Config, inc.Hash, inc.Cost
	}

	r.Default = o.space.DefaultConfiguration()
	r.DefaultCost, r.DefaultErr = o.history.CostOf(r.Default)

	if validateDefault && errors.Is(r.DefaultErr, ErrNoRecords) {
		start := time.Now()
		outcome := o.executor.Evaluate(ctx, r.Default, o.config.Seed, o.config.TrialTimeout)

		o.logger.Info().
			Str("status", outcome.Status.String()).
			Float64("cost", outcome.Cost).
			Dur("duration", time.Since(start)).
			Msg("validated default configuration")

		if err := outcome.Err(); err != nil {
			r.DefaultErr = err
		} else {
			r.DefaultCost, r.DefaultErr = outcome.Cost, nil
		}
	}

	return r
}
