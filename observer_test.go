package hpo

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer

	obs := NewLogObserver(zerolog.New(&buf).Level(zerolog.InfoLevel))

	obs.OnProposal(ProposalEvent{Hash: "abc", Config: Configuration{"c": 1.0}})
	assert.Empty(t, buf.String(), "proposals log at debug")

	obs.OnTrialComplete(Trial{Index: 3, Hash: "abc", Status: TrialFailed, Reason: "exit status 2"})
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"reason":"exit status 2"`)
	assert.Contains(t, buf.String(), "trial 3 failed")

	buf.Reset()

	obs.OnIncumbentChanged(IncumbentEvent{Hash: "abc", Config: Configuration{"c": 1.0, "schedule": "A"}, Cost: 0.5, Trial: 3})
	assert.Contains(t, buf.String(), `"level":"info"`)
	assert.Contains(t, buf.String(), `"cost":0.5`)
	assert.Contains(t, buf.String(), `new incumbent {c=1, schedule=\"A\"}`)
}

func TestChannelObserverNeverBlocks(t *testing.T) {
	ch := make(chan ProgressUpdate, 1)
	obs := NewChannelObserver(ch, 10, 2)

	obs.OnIncumbentChanged(IncumbentEvent{Config: Configuration{"c": 1.0}, Cost: 2})
	obs.OnTrialComplete(Trial{Index: 0, Config: Configuration{"c": 1.0}, Cost: 2})

	done := make(chan struct{})
	go func() {
		obs.OnTrialComplete(Trial{Index: 1, Config: Configuration{"c": 2.0}, Cost: 3})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnTrialComplete blocked on a full channel")
	}

	update := <-ch
	assert.Equal(t, "InitialSampling", update.Phase)
	assert.Equal(t, 1, update.CurrentTrial)
	assert.Equal(t, 10, update.TotalTrials)
	assert.Equal(t, 2.0, update.CurrentBestCost)
	assert.Equal(t, Configuration{"c": 1.0}, update.CurrentBestParams)
	assert.Empty(t, ch)
}

func TestMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	multi := MultiObserver{a, NopObserver{}, b}

	multi.OnProposal(ProposalEvent{Hash: "x"})
	multi.OnIncumbentChanged(IncumbentEvent{Trial: 0})
	multi.OnTrialComplete(Trial{Index: 0})

	for _, r := range []*recordingObserver{a, b} {
		assert.Len(t, r.proposals, 1)
		assert.Equal(t, []string{"incumbent 0", "trial 0"}, r.events)
	}
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsObserver(reg)

	config := testConfig()
	config.Trials = 5
	config.TrialTimeout = 50 * time.Millisecond

	executor := ObjectiveFunc(func(ctx context.Context, cfg Configuration, seed int64) (float64, error) {
		if cfg["c"].(float64) == 1.75 {
			<-ctx.Done()
			return 0, ctx.Err()
		}

		return distanceToOne(ctx, cfg, seed)
	})

	_, err := newTestOptimizer(t, newCSpace(t), executor, config,
		WithStrategy(&nearestToDefault{step: 0.25}),
		WithObserver(metrics),
	).Optimize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.ProposalsTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.TrialsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TrialsTotal.WithLabelValues("timed_out")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.IncumbentChangesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.IncumbentCost))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Running))

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.TrialDurationSeconds))

	// Registering twice on the same registry is a programming error.
	assert.Panics(t, func() { NewMetricsObserver(reg) })
}
