package hpo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSurrogate predicts with a closed-form function of the features and
// counts fits.
type fakeSurrogate struct {
	fits    int
	err     error
	predict func(x []float64) (float64, float64)
}

func (f *fakeSurrogate) Fit(_ [][]float64, _ []float64) error {
	f.fits++
	return f.err
}

func (f *fakeSurrogate) Predict(x []float64) (float64, float64) {
	return f.predict(x)
}

func newCSpace(t *testing.T) *Space {
	t.Helper()

	space, err := NewSpace([]Hyperparameter{Float("c", 0, 3, WithDefault(math.Sqrt2))})
	require.NoError(t, err)

	return space
}

func TestRandomStrategy(t *testing.T) {
	space := newScenarioSpace(t)

	a, err := NewRandomStrategy(7).Propose(context.Background(), NewRunHistory(), space, 5)
	require.NoError(t, err)
	require.Len(t, a, 5)

	b, err := NewRandomStrategy(7).Propose(context.Background(), NewRunHistory(), space, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, cfg := range a {
		assert.NoError(t, space.Validate(cfg))
	}
}

func TestModelGuidedWithoutObservations(t *testing.T) {
	space := newScenarioSpace(t)
	surrogate := &fakeSurrogate{}

	s := NewModelGuidedStrategy(DefaultConfig(), surrogate)

	out, err := s.Propose(context.Background(), NewRunHistory(), space, 3)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 0, surrogate.fits)
}

func TestModelGuidedPicksLowestScore(t *testing.T) {
	space := newCSpace(t)

	config := DefaultConfig()
	config.AcquisitionFunc = LowerConfidenceBound
	config.AcqParams.Beta = 0

	// The predicted cost is |c - 2|, c being 3 times the unit feature.
	s := NewModelGuidedStrategy(config, &fakeSurrogate{predict: func(x []float64) (float64, float64) {
		return math.Abs(3*x[0] - 2), 0.1
	}})

	h := NewRunHistory()
	require.NoError(t, h.Record(Configuration{"c": 0.5}, 1.5))
	require.NoError(t, h.Record(Configuration{"c": 2.9}, 0.9))

	out, err := s.Propose(context.Background(), h, space, 5)
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.InDelta(t, 2.0, out[0]["c"], 0.2)

	for i := 1; i < len(out); i++ {
		prev := math.Abs(out[i-1]["c"].(float64) - 2)
		cur := math.Abs(out[i]["c"].(float64) - 2)
		assert.LessOrEqual(t, prev, cur)
	}
}

func TestModelGuidedTieBreaksByDiversity(t *testing.T) {
	space := newCSpace(t)

	s := NewModelGuidedStrategy(DefaultConfig(), &fakeSurrogate{predict: func([]float64) (float64, float64) {
		return 1, 0.5
	}})

	h := NewRunHistory()
	require.NoError(t, h.Record(Configuration{"c": 1.5}, 1))

	out, err := s.Propose(context.Background(), h, space, 10)
	require.NoError(t, err)
	require.Len(t, out, 10)

	evaluated := [][]float64{space.Encode(Configuration{"c": 1.5})}

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t,
			minDistance(space.Encode(out[i-1]), evaluated),
			minDistance(space.Encode(out[i]), evaluated))
	}

	// The farthest candidates sit at the edges of the domain.
	assert.Greater(t, math.Abs(out[0]["c"].(float64)-1.5), 1.3)
}

func TestModelGuidedExcludesEvaluated(t *testing.T) {
	// Two choices only: once both are evaluated the pool is empty.
	space, err := NewSpace([]Hyperparameter{Categorical("q", []string{"Draw", "Win"})})
	require.NoError(t, err)

	s := NewModelGuidedStrategy(DefaultConfig(), nil)

	h := NewRunHistory()
	require.NoError(t, h.Record(Configuration{"q": "Draw"}, 1))

	out, err := s.Propose(context.Background(), h, space, 4)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, Configuration{"q": "Win"}, out[0])

	require.NoError(t, h.Record(Configuration{"q": "Win"}, 2))

	out, err = s.Propose(context.Background(), h, space, 4)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestModelGuidedRetrainCadence(t *testing.T) {
	space := newCSpace(t)
	surrogate := &fakeSurrogate{predict: func(x []float64) (float64, float64) { return x[0], 0.1 }}

	config := DefaultConfig()
	config.RetrainAfter = 3

	s := NewModelGuidedStrategy(config, surrogate)
	h := NewRunHistory()

	propose := func() {
		_, err := s.Propose(context.Background(), h, space, 1)
		require.NoError(t, err)
	}

	require.NoError(t, h.Record(Configuration{"c": 0.1}, 1))
	propose()
	assert.Equal(t, 1, surrogate.fits)

	require.NoError(t, h.Record(Configuration{"c": 0.2}, 1))
	propose()
	require.NoError(t, h.Record(Configuration{"c": 0.3}, 1))
	propose()
	assert.Equal(t, 1, surrogate.fits)

	require.NoError(t, h.Record(Configuration{"c": 0.4}, 1))
	propose()
	assert.Equal(t, 2, surrogate.fits)
}

func TestModelGuidedFitError(t *testing.T) {
	space := newCSpace(t)
	s := NewModelGuidedStrategy(DefaultConfig(), &fakeSurrogate{err: errors.New("singular")})

	h := NewRunHistory()
	require.NoError(t, h.Record(Configuration{"c": 1.0}, 1))

	out, err := s.Propose(context.Background(), h, space, 2)
	assert.Error(t, err)
	assert.Len(t, out, 2)
}

func TestModelGuidedWithGaussianProcess(t *testing.T) {
	space := newScenarioSpace(t)
	s := NewModelGuidedStrategy(DefaultConfig(), nil)

	h := NewRunHistory()
	for seed := int64(0); seed < 8; seed++ {
		cfg := space.Sample(seed)
		require.NoError(t, h.Record(cfg, math.Abs(cfg["c"].(float64)-1)))
	}

	out, err := s.Propose(context.Background(), h, space, 4)
	require.NoError(t, err)
	require.Len(t, out, 4)

	for _, cfg := range out {
		assert.NoError(t, space.Validate(cfg))
		assert.False(t, h.Evaluated(CanonicalKey(cfg)))
	}
}

func TestMinDistance(t *testing.T) {
	points := [][]float64{{0, 0}, {3, 4}}

	assert.Equal(t, 5.0, minDistance([]float64{6, 8}, points))
	assert.Equal(t, 0.0, minDistance([]float64{0, 0}, points))
	assert.True(t, math.IsInf(minDistance([]float64{1}, nil), 1))
}
