package hpo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

//////
// Const, vars, types.
//////

// TrialStatus is the terminal state of a trial.
type TrialStatus int

const (
	// TrialSucceeded means the trial reported a finite cost.
	TrialSucceeded TrialStatus = iota

	// TrialFailed means the trial exited non-zero or its output was unusable.
	TrialFailed

	// TrialTimedOut means the trial exceeded its deadline and was terminated.
	TrialTimedOut
)

var trialStatusNames = map[TrialStatus]string{
	TrialSucceeded: "succeeded",
	TrialFailed:    "failed",
	TrialTimedOut:  "timed_out",
}

// String implements fmt.Stringer.
func (s TrialStatus) String() string {
	if n, ok := trialStatusNames[s]; ok {
		return n
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s TrialStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TrialStatus) UnmarshalText(b []byte) error {
	for k, v := range trialStatusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}

	return fmt.Errorf("unknown trial status %q", b)
}

// Trial is one completed evaluation of a configuration.
type Trial struct {
	// Index is the position of the trial in the run history.
	Index int `json:"index"`

	// Hash is the canonical key of Config.
	Hash string `json:"hash"`

	// Config is the evaluated configuration.
	Config Configuration `json:"config"`

	// Status is the terminal state.
	Status TrialStatus `json:"status"`

	// Cost is meaningful only when Status is TrialSucceeded.
	Cost float64 `json:"cost"`

	// Reason describes a failure or timeout.
	Reason string `json:"reason,omitempty"`

	// Seed is the seed the trial executable received.
	Seed int64 `json:"seed"`

	// Duration is the wall time of the evaluation.
	Duration time.Duration `json:"duration"`

	// FinishedAt is when the trial was recorded.
	FinishedAt time.Time `json:"finished_at"`
}

// Observation is the aggregated view of one distinct configuration.
type Observation struct {
	Hash   string
	Config Configuration
	Cost   float64 // mean of Costs
	Costs  []float64
}

// RunHistory is the append-only ledger of completed trials.
//
// Entries are never removed or mutated, so the incumbent can be recomputed
// from a persisted log. Successful trials contribute a cost sample to their
// configuration hash; failed and timed-out trials are kept for diagnostics
// only.
//
// Thread safety:
// - The optimizer is the only writer
// - Reads are safe from any goroutine
type RunHistory struct {
	mu sync.RWMutex

	trials  []Trial
	costs   map[string][]float64
	configs map[string]Configuration

	// order holds hashes in the order of their first successful record and
	// breaks incumbent ties.
	order []string

	// evaluated counts the trials of every hash, whatever their status.
	evaluated map[string]int

	journal Journal

	// journalErr is the first failed append. Once set the journal only
	// receives Close, so that it never holds a gap.
	journalErr error
}

//////
// Factory.
//////

// NewRunHistory creates an empty, in-memory history.
func NewRunHistory() *RunHistory {
	return &RunHistory{
		costs:     make(map[string][]float64),
		configs:   make(map[string]Configuration),
		evaluated: make(map[string]int),
	}
}

// OpenRunHistory replays journal into a history and attaches the journal so
// that every later record is appended to it. Configurations are normalized
// against space; entries that no longer fit it fail with
// ErrJournalCorrupted.
func OpenRunHistory(ctx context.Context, journal Journal, space *Space) (*RunHistory, error) {
	trials, err := journal.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	h := NewRunHistory()

	for _, t := range trials {
		cfg, err := space.Normalize(t.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: trial %d: %v", ErrJournalCorrupted, t.Index, err)
		}

		t.Config = cfg
		t.Hash = CanonicalKey(cfg)

		h.apply(t)
	}

	h.journal = journal

	return h, nil
}

//////
// Methods.
//////

// Record appends a successful trial with the given cost.
func (h *RunHistory) Record(cfg Configuration, cost float64) error {
	_, err := h.RecordTrial(context.Background(), Trial{
		Config: cfg,
		Status: TrialSucceeded,
		Cost:   cost,
	})

	return err
}

// RecordTrial appends a trial of any status, assigning its Index and Hash.
//
// A successful trial must carry a finite cost (ErrInvalidCost otherwise). If
// a journal is attached and the write fails, the trial is still kept in
// memory, the journal error is returned and no later trial is journaled:
// the journal keeps a gap-free prefix of the history and still resumes.
func (h *RunHistory) RecordTrial(ctx context.Context, t Trial) (Trial, error) {
	if t.Status == TrialSucceeded && (math.IsNaN(t.Cost) || math.IsInf(t.Cost, 0)) {
		return t, fmt.Errorf("%w: %v", ErrInvalidCost, t.Cost)
	}

	if t.Status != TrialSucceeded {
		t.Cost = 0
	}

	t.Config = t.Config.Clone()
	t.Hash = CanonicalKey(t.Config)

	if t.FinishedAt.IsZero() {
		t.FinishedAt = time.Now().UTC()
	}

	h.mu.Lock()
	t.Index = len(h.trials)
	h.apply(t)

	journal := h.journal
	if h.journalErr != nil {
		journal = nil
	}
	h.mu.Unlock()

	if journal == nil {
		return t, nil
	}

	if err := journal.Append(ctx, t); err != nil {
		h.mu.Lock()
		h.journalErr = err
		h.mu.Unlock()

		return t, fmt.Errorf("journal trial %d, journaling stopped: %w", t.Index, err)
	}

	return t, nil
}

// apply must be called with mu held, or before the history is shared.
func (h *RunHistory) apply(t Trial) {
	h.trials = append(h.trials, t)
	h.evaluated[t.Hash]++

	if t.Status != TrialSucceeded {
		return
	}

	if _, seen := h.costs[t.Hash]; !seen {
		h.order = append(h.order, t.Hash)
		h.configs[t.Hash] = t.Config
	}

	h.costs[t.Hash] = append(h.costs[t.Hash], t.Cost)
}

// CostOf returns the mean of all recorded costs of cfg. Fails with
// ErrNoRecords if none exist.
func (h *RunHistory) CostOf(cfg Configuration) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.costOf(CanonicalKey(cfg))
}

func (h *RunHistory) costOf(hash string) (float64, error) {
	costs := h.costs[hash]
	if len(costs) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoRecords, hash)
	}

	mean, err := stats.Mean(costs)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNoRecords, hash, err)
	}

	return mean, nil
}

// Incumbent returns the configuration with the lowest aggregated cost. Ties
// go to the configuration recorded first. Fails with ErrEmptyHistory if no
// trial succeeded.
func (h *RunHistory) Incumbent() (Configuration, error) {
	obs, err := h.incumbent()
	if err != nil {
		return nil, err
	}

	return obs.Config, nil
}

// IncumbentObservation is Incumbent with its hash and aggregated cost.
func (h *RunHistory) IncumbentObservation() (Observation, error) {
	return h.incumbent()
}

func (h *RunHistory) incumbent() (Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.order) == 0 {
		return Observation{}, ErrEmptyHistory
	}

	best := Observation{Cost: math.Inf(1)}

	for _, hash := range h.order {
		cost, err := h.costOf(hash)
		if err != nil {
			continue
		}

		if best.Hash == "" || cost < best.Cost {
			best = Observation{Hash: hash, Config: h.configs[hash], Cost: cost}
		}
	}

	best.Config = best.Config.Clone()
	best.Costs = append([]float64(nil), h.costs[best.Hash]...)

	return best, nil
}

// Observations returns one entry per distinct successful configuration, in
// the order of their first record.
func (h *RunHistory) Observations() []Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Observation, 0, len(h.order))

	for _, hash := range h.order {
		cost, err := h.costOf(hash)
		if err != nil {
			continue
		}

		out = append(out, Observation{
			Hash:   hash,
			Config: h.configs[hash].Clone(),
			Cost:   cost,
			Costs:  append([]float64(nil), h.costs[hash]...),
		})
	}

	return out
}

// Trials returns a copy of the ledger.
func (h *RunHistory) Trials() []Trial {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]Trial(nil), h.trials...)
}

// Len returns the number of recorded trials, whatever their status.
func (h *RunHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.trials)
}

// Successes returns the number of successful trials.
func (h *RunHistory) Successes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0

	for _, costs := range h.costs {
		n += len(costs)
	}

	return n
}

// Evaluated reports whether any trial of the configuration hash was recorded.
func (h *RunHistory) Evaluated(hash string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.evaluated[hash] > 0
}

// Count returns the number of trials of the configuration hash, whatever
// their status.
func (h *RunHistory) Count(hash string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.evaluated[hash]
}

// Snapshot returns a detached copy, without journal, that later records do
// not affect. Strategies read snapshots so that a proposal never sees
// results of trials still in flight.
func (h *RunHistory) Snapshot() *RunHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := NewRunHistory()
	s.trials = append(s.trials, h.trials...)
	s.order = append(s.order, h.order...)

	for k, v := range h.costs {
		s.costs[k] = append([]float64(nil), v...)
	}

	for k, v := range h.configs {
		s.configs[k] = v
	}

	for k, v := range h.evaluated {
		s.evaluated[k] = v
	}

	return s
}

// Close closes the attached journal, if any.
func (h *RunHistory) Close() error {
	h.mu.Lock()
	journal := h.journal
	h.journal = nil
	h.mu.Unlock()

	if journal == nil {
		return nil
	}

	return journal.Close()
}

// MarshalJSON renders the ledger as a JSON array of trials.
func (h *RunHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Trials())
}
