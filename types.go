package hpo

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/constraints"
)

// validate checks struct tags on configuration types.
var validate = validator.New()

// ProgressUpdate represents the current state of the optimization process.
// It is delivered through OptimizationConfig.ProgressChan by ChannelObserver.
type ProgressUpdate struct {
	// Phase is "InitialSampling" while the trial index is below
	// InitialSamples and "Optimization" afterwards.
	Phase string

	// CurrentTrial is the 1-based number of the trial that just completed.
	CurrentTrial int

	// TotalTrials is the trial budget.
	TotalTrials int

	// CurrentParams holds the configuration that was just evaluated.
	CurrentParams Configuration

	// CurrentStatus is the outcome of the trial that just completed.
	CurrentStatus TrialStatus

	// CurrentBestParams holds the incumbent, nil until a trial succeeded.
	CurrentBestParams Configuration

	// CurrentBestCost holds the incumbent's aggregated cost.
	CurrentBestCost float64

	// LastCost holds the cost of the trial that just completed. Zero for
	// failed and timed-out trials.
	LastCost float64
}

// ParameterRange defines the inclusive bounds of a numeric hyperparameter.
//
// Type Parameter:
//   - T: The numeric type for this parameter range (int64 or float64)
//
// Usage:
//
//	learningRate := ParameterRange[float64]{Min: 0.0001, Max: 0.1}
//	learningRate.Contains(0.01) // true
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	// Min defines the minimum allowed value (inclusive).
	Min T

	// Max defines the maximum allowed value (inclusive).
	Max T
}

// Contains reports whether v lies within the range.
func (r ParameterRange[T]) Contains(v T) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp limits v to the range.
func (r ParameterRange[T]) Clamp(v T) T {
	return clamp(v, r.Min, r.Max)
}

// AcquisitionFunc scores a candidate from the surrogate's prediction.
//
// Parameters:
// - mean: The predicted cost at a point (lower is better)
// - variance: The predicted variance/uncertainty at that point
// - params: Additional parameters needed by specific acquisition functions
//
// Returns:
// - float64: Acquisition value (lower values indicate more promising points)
//
// Built-in acquisition functions:
// - ExpectedImprovement (default)
// - ProbabilityOfImprovement
// - LowerConfidenceBound
// - ThompsonSampling
//
// Implementation notes for custom acquisition functions:
// - Should handle zero variance
// - Should return lower values for more promising points
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the acquisition functions.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off of
	// LowerConfidenceBound. Higher values explore more.
	Beta float64 `yaml:"beta" json:"beta"`

	// Xi is the minimum improvement over BestSoFar sought by PI and EI.
	// Higher values explore more.
	Xi float64 `yaml:"xi" json:"xi"`

	// BestSoFar is the incumbent's aggregated cost. The model-guided strategy
	// overwrites it on every proposal.
	BestSoFar float64 `yaml:"-" json:"-"`

	// RandomState is the random number generator used by Thompson Sampling.
	// When nil, the strategy supplies its own seeded generator.
	RandomState *rand.Rand `yaml:"-" json:"-"`
}

// SeedPolicy decides which seed a trial receives.
type SeedPolicy string

const (
	// SeedFixed passes OptimizationConfig.Seed to every trial, so repeated
	// evaluations test stability.
	SeedFixed SeedPolicy = "fixed"

	// SeedFresh derives a new seed for every trial, so repeated evaluations
	// of a stochastic objective estimate its noise.
	SeedFresh SeedPolicy = "fresh"
)

// OptimizationConfig holds all configuration parameters for the optimization
// process: the trial budget, worker concurrency, the cold-start and surrogate
// cadence, and the acquisition strategy.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Trials = 100
//	config.Workers = 4
//	config.Deterministic = false
//	config.SeedPolicy = SeedFresh
//
// Note:
// - Create separate configs for parallel optimizations.
type OptimizationConfig struct {
	// Trials is the total trial budget, failures and timeouts included.
	Trials int `validate:"gte=0" yaml:"trials" json:"trials"`

	// Workers bounds the number of trials running concurrently.
	Workers int `validate:"gte=1" yaml:"workers" json:"workers"`

	// Deterministic declares the objective noise-free: a configuration is
	// never evaluated twice. When false, configurations may be re-evaluated
	// and their costs are averaged.
	Deterministic bool `yaml:"deterministic" json:"deterministic"`

	// InitialSamples is the number of trials proposed by random sampling
	// before any surrogate is fitted.
	InitialSamples int `validate:"gte=0" yaml:"initial_samples" json:"initial_samples"`

	// NumCandidates is the size of the random candidate pool scored by the
	// acquisition function on every model-guided proposal.
	NumCandidates int `validate:"gte=1" yaml:"num_candidates" json:"num_candidates"`

	// LocalCandidates is the number of neighbours of the best configurations
	// added to the candidate pool.
	LocalCandidates int `validate:"gte=0" yaml:"local_candidates" json:"local_candidates"`

	// RetrainAfter is the number of new successful trials after which the
	// surrogate is refitted. 1 refits on every proposal.
	RetrainAfter int `validate:"gte=1" yaml:"retrain_after" json:"retrain_after"`

	// TrialTimeout bounds a single trial. Zero disables the deadline.
	TrialTimeout time.Duration `validate:"gte=0" yaml:"trial_timeout" json:"trial_timeout"`

	// Seed makes proposals reproducible and is the trial seed under SeedFixed.
	Seed int64 `yaml:"seed" json:"seed"`

	// MaxRepeats caps the trials of one configuration under a stochastic
	// objective. Between new configurations the optimizer re-runs the
	// incumbent or one of its closest challengers until each holds
	// MaxRepeats trials. Ignored when Deterministic.
	MaxRepeats int `validate:"gte=1" yaml:"max_repeats" json:"max_repeats"`

	// SeedPolicy selects fixed or fresh trial seeds.
	SeedPolicy SeedPolicy `validate:"oneof=fixed fresh" yaml:"seed_policy" json:"seed_policy"`

	// MaxProposalAttempts bounds how often the strategy is re-asked within
	// one cycle when its proposals are invalid or duplicate.
	MaxProposalAttempts int `validate:"gte=1" yaml:"max_proposal_attempts" json:"max_proposal_attempts"`

	// IncludeDefault makes the default configuration the first proposal of a
	// fresh run.
	IncludeDefault bool `yaml:"include_default" json:"include_default"`

	// ValidateDefault evaluates the default configuration once after the
	// loop, outside the budget, when the history holds no cost for it.
	ValidateDefault bool `yaml:"validate_default" json:"validate_default"`

	// AcquisitionFunc determines how candidates are scored.
	AcquisitionFunc AcquisitionFunc `validate:"required" yaml:"-" json:"-"`

	// AcqParams holds the parameters for the acquisition function.
	AcqParams AcquisitionParams `validate:"-" yaml:"acquisition" json:"acquisition"`

	// ProgressChan, when set, receives a ProgressUpdate after every trial.
	// Sends never block; updates are dropped if the channel is full.
	ProgressChan chan<- ProgressUpdate `validate:"-" yaml:"-" json:"-"`
}

// Validate checks the configuration's invariants.
func (c OptimizationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}
