package hpo

import (
	"github.com/rs/zerolog"
)

// ProposalEvent is emitted when a configuration is dispatched.
type ProposalEvent struct {
	Hash    string
	Config  Configuration
	Seed    int64
	Running int // trials in flight, this one included
}

// IncumbentEvent is emitted when the incumbent's hash changes.
type IncumbentEvent struct {
	Hash     string
	Config   Configuration
	Cost     float64
	Trial    int    // index of the trial whose record caused the change
	Previous string // previous incumbent hash, empty for the first one
}

// Observer receives lifecycle events. Events are delivered from the
// optimizer's goroutine in completion order; observers must not block for
// long and cannot influence scheduling.
//
// For every completed trial, OnIncumbentChanged (if the incumbent changed)
// comes before OnTrialComplete, so both see the same incumbent.
type Observer interface {
	OnProposal(ProposalEvent)
	OnTrialComplete(Trial)
	OnIncumbentChanged(IncumbentEvent)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnProposal(ProposalEvent)          {}
func (NopObserver) OnTrialComplete(Trial)             {}
func (NopObserver) OnIncumbentChanged(IncumbentEvent) {}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) OnProposal(e ProposalEvent) {
	for _, o := range m {
		o.OnProposal(e)
	}
}

func (m MultiObserver) OnTrialComplete(t Trial) {
	for _, o := range m {
		o.OnTrialComplete(t)
	}
}

func (m MultiObserver) OnIncumbentChanged(e IncumbentEvent) {
	for _, o := range m {
		o.OnIncumbentChanged(e)
	}
}

// LogObserver reports events as human-readable log lines.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver logs through logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnProposal(e ProposalEvent) {
	l.logger.Debug().
		Str("hash", e.Hash).
		Int64("seed", e.Seed).
		Int("running", e.Running).
		Msgf("dispatching %s", e.Config)
}

func (l *LogObserver) OnTrialComplete(t Trial) {
	ev := l.logger.Info()
	if t.Status != TrialSucceeded {
		ev = l.logger.Warn().Str("reason", t.Reason)
	}

	ev.Int("trial", t.Index).
		Str("hash", t.Hash).
		Str("status", t.Status.String()).
		Float64("cost", t.Cost).
		Dur("duration", t.Duration).
		Msgf("trial %d %s", t.Index, t.Status)
}

func (l *LogObserver) OnIncumbentChanged(e IncumbentEvent) {
	l.logger.Info().
		Str("hash", e.Hash).
		Float64("cost", e.Cost).
		Int("trial", e.Trial).
		Msgf("new incumbent %s", e.Config)
}

// ChannelObserver sends a ProgressUpdate after every trial without ever
// blocking; updates are skipped when the channel is full.
type ChannelObserver struct {
	NopObserver

	ch             chan<- ProgressUpdate
	total          int
	initialSamples int

	best     Configuration
	bestCost float64
}

// NewChannelObserver reports to ch. total and initialSamples set the Phase
// and TotalTrials fields.
func NewChannelObserver(ch chan<- ProgressUpdate, total, initialSamples int) *ChannelObserver {
	return &ChannelObserver{ch: ch, total: total, initialSamples: initialSamples}
}

func (c *ChannelObserver) OnIncumbentChanged(e IncumbentEvent) {
	c.best = e.Config
	c.bestCost = e.Cost
}

func (c *ChannelObserver) OnTrialComplete(t Trial) {
	phase := "Optimization"
	if t.Index < c.initialSamples {
		phase = "InitialSampling"
	}

	update := ProgressUpdate{
		Phase:             phase,
		CurrentTrial:      t.Index + 1,
		TotalTrials:       c.total,
		CurrentParams:     t.Config,
		CurrentStatus:     t.Status,
		CurrentBestParams: c.best,
		CurrentBestCost:   c.bestCost,
		LastCost:          t.Cost,
	}

	select {
	case c.ch <- update:
	default:
		// Skip update if channel is full.
	}
}
