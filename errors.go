package hpo

import "errors"

//////
// Error taxonomy.
//////

// Configuration space validation failures. They are fatal to the offending
// proposal only; the optimization loop drops it and asks for another.
var (
	// ErrOutOfDomain is returned when a present value lies outside the declared
	// range or choices of its hyperparameter, or names no hyperparameter.
	ErrOutOfDomain = errors.New("value out of domain")

	// ErrInvalidActivation is returned when a present hyperparameter's condition
	// is not satisfied by the rest of the configuration, or when an active
	// hyperparameter is missing.
	ErrInvalidActivation = errors.New("invalid activation")

	// ErrMissingRequiredParent is returned when a child is present but the
	// parent its condition references is absent.
	ErrMissingRequiredParent = errors.New("missing required parent")
)

// Executor-level failures. Recorded and skipped, never fatal to the loop.
var (
	// ErrTrialFailed is returned when the trial exits non-zero or its output
	// does not yield a finite cost.
	ErrTrialFailed = errors.New("trial failed")

	// ErrTrialTimedOut is returned when the trial exceeds its deadline.
	ErrTrialTimedOut = errors.New("trial timed out")
)

// History lookups made before any trial completed.
var (
	// ErrEmptyHistory is returned by Incumbent when no trial succeeded.
	ErrEmptyHistory = errors.New("empty history")

	// ErrNoRecords is returned by CostOf when a configuration has no cost.
	ErrNoRecords = errors.New("no records for configuration")

	// ErrInvalidCost is returned when recording a non-finite cost.
	ErrInvalidCost = errors.New("invalid cost")
)

// Setup errors. Fatal at startup, before any trial runs.
var (
	// ErrInvalidSpace is returned by NewSpace for malformed definitions.
	ErrInvalidSpace = errors.New("invalid configuration space")

	// ErrCyclicCondition is returned by NewSpace when conditions form a cycle.
	ErrCyclicCondition = errors.New("cyclic condition graph")

	// ErrInvalidConfig is returned when an OptimizationConfig fails validation.
	ErrInvalidConfig = errors.New("invalid optimization config")
)

// Journal errors.
var (
	// ErrJournalClosed is returned when operations are called on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")

	// ErrJournalCorrupted is returned when an entry fails its integrity check
	// or no longer fits the configuration space.
	ErrJournalCorrupted = errors.New("journal entry corrupted")
)
