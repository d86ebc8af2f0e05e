// Package hpo provides black-box hyperparameter optimization for external
// programs. Given a trial executable that takes a configuration and reports a
// scalar cost, it searches a structured configuration space for the settings
// that minimize that cost under a fixed trial budget and a bounded number of
// concurrent trials.
//
// # Features
//
// The package includes the following key features:
//
//   - Mixed configuration spaces: continuous (optionally log-scale), integer,
//     categorical and constant hyperparameters
//   - Conditional hyperparameters: a child is active only when its parent
//     equals a required value; the condition graph is checked for cycles once
//   - Model-guided search: a Gaussian Process surrogate scores random and
//     local candidates with an acquisition function after a random cold start
//   - Bounded parallelism: at most Workers trials run at the same time
//   - Stochastic objectives: the incumbent and its closest challengers are
//     re-run with fresh seeds, up to MaxRepeats trials each, and their costs
//     averaged
//   - Append-only run history with a deterministic incumbent, optionally
//     persisted to BadgerDB so an interrupted search resumes
//   - Observers for logging, progress channels and Prometheus metrics
//
// # Configuration Space
//
//	space, err := hpo.NewSpace(
//	    []hpo.Hyperparameter{
//	        hpo.Float("c", 0, 3, hpo.WithDefault(math.Sqrt2)),
//	        hpo.Categorical("schedule", []string{"A", "B"}),
//	        hpo.Integer("k", 0, 2000),
//	    },
//	    hpo.Equals("k", "schedule", "A"),
//	)
//
// Configurations only hold active hyperparameters: with schedule=B, k is
// absent. Configuration.Hash is a stable canonical key over the sorted
// entries and identifies trials in the run history.
//
// # Trial Executors
//
// CommandExecutor runs a subprocess with `--seed N --name value ...` flags and
// parses `cost=<float>` from its output. ObjectiveFunc wraps an in-process
// function, which is what tests use:
//
//	objective := hpo.ObjectiveFunc(func(ctx context.Context, cfg hpo.Configuration, seed int64) (float64, error) {
//	    return math.Abs(cfg["c"].(float64) - 1), nil
//	})
//
// Failed and timed-out trials are recorded and counted against the budget;
// they never abort the search.
//
// # Acquisition Functions
//
// Four acquisition functions are provided. All of them return lower values
// for more promising candidates:
//
//  1. Expected Improvement (default). Balances probability and size of an
//     improvement. Xi sets the minimum improvement sought.
//  2. Probability of Improvement. Conservative, favours small reliable gains.
//  3. Lower Confidence Bound. mean - Beta*stddev; higher Beta explores more.
//  4. Thompson Sampling. Draws from the posterior; no tuning required.
//
//	config := hpo.DefaultConfig()
//	config.AcquisitionFunc = hpo.LowerConfidenceBound
//	config.AcqParams.Beta = 2.0
//
// # Optimization
//
//	optimizer, err := hpo.New(space, objective, config,
//	    hpo.WithObserver(hpo.NewLogObserver(log.Logger)))
//	if err != nil {
//	    return err
//	}
//
//	result, err := optimizer.Optimize(ctx)
//
// The result carries the incumbent with its aggregated cost and, separately,
// the cost of the default configuration for baseline comparison. A run in
// which no trial succeeded reports ErrEmptyHistory in Result.IncumbentErr.
//
// Recommended settings:
//   - InitialSamples: 5-20 (more = better initial model)
//   - NumCandidates: 50-500 (more = better search but slower proposals)
//   - RetrainAfter: 1 unless fitting dominates trial time
//
// # Thread Safety
//
//   - Space is immutable and safe for concurrent use
//   - RunHistory is written by the optimizer only and readable from anywhere
//   - Gaussian Process model uses RWMutex for thread-safe updates
//   - Progress channel updates never block the optimizer
package hpo
