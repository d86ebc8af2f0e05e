package hpo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newScenarioSpace is c in [0, 3] (default sqrt 2), schedule in {A, B} and k
// in [0, 2000], active only when schedule = A.
func newScenarioSpace(t *testing.T) *Space {
	t.Helper()

	space, err := NewSpace(
		[]Hyperparameter{
			Float("c", 0, 3, WithDefault(math.Sqrt2)),
			Categorical("schedule", []string{"A", "B"}),
			Integer("k", 0, 2000),
		},
		Equals("k", "schedule", "A"),
	)
	require.NoError(t, err)

	return space
}

func TestSampleIsValid(t *testing.T) {
	space, err := NewSpace(
		[]Hyperparameter{
			Float("c", 0, 3, WithDefault(math.Sqrt2)),
			Float("lr", 1e-5, 1e-1, WithLog()),
			Categorical("schedule", []string{"A", "B"}),
			Integer("k", 0, 2000),
			Integer("depth", 1, 5),
			Categorical("q-init", []string{"Draw", "Infinity", "Loss", "Parent", "Win"}),
			Constant("version", 2),
		},
		Equals("k", "schedule", "A"),
		Equals("depth", "k", 1000),
	)
	require.NoError(t, err)

	for seed := int64(0); seed < 200; seed++ {
		cfg := space.Sample(seed)
		assert.NoError(t, space.Validate(cfg), "seed %d: %s", seed, cfg)
	}

	assert.NoError(t, space.Validate(space.DefaultConfiguration()))
}

func TestSampleIsDeterministic(t *testing.T) {
	space := newScenarioSpace(t)

	for seed := int64(0); seed < 20; seed++ {
		assert.Equal(t, space.Sample(seed), space.Sample(seed))
	}
}

func TestInactiveChildIsAbsent(t *testing.T) {
	space := newScenarioSpace(t)

	var sawA, sawB bool

	for seed := int64(0); seed < 200; seed++ {
		cfg := space.Sample(seed)

		switch cfg["schedule"] {
		case "B":
			sawB = true
			assert.NotContains(t, cfg, "k", "seed %d", seed)
		case "A":
			sawA = true
			assert.Contains(t, cfg, "k", "seed %d", seed)
		}
	}

	assert.True(t, sawA)
	assert.True(t, sawB)
}

func TestDefaultConfiguration(t *testing.T) {
	space := newScenarioSpace(t)

	cfg := space.DefaultConfiguration()

	assert.Equal(t, Configuration{"c": math.Sqrt2, "schedule": "A", "k": int64(1000)}, cfg)
}

func TestDefaultConfigurationLogMidpoint(t *testing.T) {
	space, err := NewSpace([]Hyperparameter{Float("lr", 1e-4, 1, WithLog())})
	require.NoError(t, err)

	assert.InDelta(t, 1e-2, space.DefaultConfiguration()["lr"], 1e-12)
}

func TestValidate(t *testing.T) {
	space := newScenarioSpace(t)

	tests := []struct {
		name string
		cfg  Configuration
		err  error
	}{
		{
			name: "valid with child",
			cfg:  Configuration{"c": 1.0, "schedule": "A", "k": int64(10)},
		},
		{
			name: "valid without child",
			cfg:  Configuration{"c": 1.0, "schedule": "B"},
		},
		{
			name: "numeric out of range",
			cfg:  Configuration{"c": 3.5, "schedule": "B"},
			err:  ErrOutOfDomain,
		},
		{
			name: "unknown choice",
			cfg:  Configuration{"c": 1.0, "schedule": "C"},
			err:  ErrOutOfDomain,
		},
		{
			name: "fractional integer",
			cfg:  Configuration{"c": 1.0, "schedule": "A", "k": 1.5},
			err:  ErrOutOfDomain,
		},
		{
			name: "unknown name",
			cfg:  Configuration{"c": 1.0, "schedule": "B", "x": 1},
			err:  ErrOutOfDomain,
		},
		{
			name: "child with wrong parent value",
			cfg:  Configuration{"c": 1.0, "schedule": "B", "k": int64(10)},
			err:  ErrInvalidActivation,
		},
		{
			name: "child without parent",
			cfg:  Configuration{"c": 1.0, "k": int64(10)},
			err:  ErrMissingRequiredParent,
		},
		{
			name: "active child missing",
			cfg:  Configuration{"c": 1.0, "schedule": "A"},
			err:  ErrInvalidActivation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := space.Validate(tt.cfg)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewSpaceErrors(t *testing.T) {
	tests := []struct {
		name       string
		params     []Hyperparameter
		conditions []Condition
		err        error
	}{
		{
			name:   "duplicate name",
			params: []Hyperparameter{Float("a", 0, 1), Float("a", 0, 1)},
			err:    ErrInvalidSpace,
		},
		{
			name:   "inverted bounds",
			params: []Hyperparameter{Float("a", 1, 0)},
			err:    ErrInvalidSpace,
		},
		{
			name:   "default outside domain",
			params: []Hyperparameter{Integer("a", 0, 10, WithDefault(11))},
			err:    ErrInvalidSpace,
		},
		{
			name:   "log with non-positive bound",
			params: []Hyperparameter{Float("a", 0, 1, WithLog())},
			err:    ErrInvalidSpace,
		},
		{
			name:   "empty choices",
			params: []Hyperparameter{Categorical("a", nil)},
			err:    ErrInvalidSpace,
		},
		{
			name:   "duplicate choices",
			params: []Hyperparameter{Categorical("a", []string{"x", "x"})},
			err:    ErrInvalidSpace,
		},
		{
			name:       "unknown parent",
			params:     []Hyperparameter{Float("a", 0, 1)},
			conditions: []Condition{Equals("a", "b", 1)},
			err:        ErrInvalidSpace,
		},
		{
			name:       "required value outside parent domain",
			params:     []Hyperparameter{Float("a", 0, 1), Categorical("b", []string{"x"})},
			conditions: []Condition{Equals("a", "b", "y")},
			err:        ErrInvalidSpace,
		},
		{
			name:       "two conditions on one child",
			params:     []Hyperparameter{Float("a", 0, 1), Categorical("b", []string{"x"}), Categorical("c", []string{"x"})},
			conditions: []Condition{Equals("a", "b", "x"), Equals("a", "c", "x")},
			err:        ErrInvalidSpace,
		},
		{
			name:       "self dependency",
			params:     []Hyperparameter{Categorical("a", []string{"x"})},
			conditions: []Condition{Equals("a", "a", "x")},
			err:        ErrCyclicCondition,
		},
		{
			name: "cycle",
			params: []Hyperparameter{
				Categorical("a", []string{"x"}),
				Categorical("b", []string{"x"}),
				Categorical("c", []string{"x"}),
			},
			conditions: []Condition{Equals("a", "c", "x"), Equals("b", "a", "x"), Equals("c", "b", "x")},
			err:        ErrCyclicCondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpace(tt.params, tt.conditions...)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestChildDeclaredBeforeParent(t *testing.T) {
	space, err := NewSpace(
		[]Hyperparameter{
			Integer("k", 0, 2000),
			Categorical("schedule", []string{"A", "B"}),
		},
		Equals("k", "schedule", "A"),
	)
	require.NoError(t, err)

	assert.Equal(t, Configuration{"schedule": "A", "k": int64(1000)}, space.DefaultConfiguration())
}

func TestCanonicalKeyIsStable(t *testing.T) {
	a := Configuration{}
	a["c"] = 1.5
	a["schedule"] = "A"
	a["k"] = int64(7)

	b := Configuration{}
	b["k"] = int64(7)
	b["schedule"] = "A"
	b["c"] = 1.5

	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
	assert.Len(t, CanonicalKey(a), HashLength)
	assert.Equal(t, "{c=1.5, k=7, schedule=\"A\"}", a.String())

	// A string "7" and the number 7 are different values.
	c := a.Clone()
	c["k"] = "7"
	assert.NotEqual(t, CanonicalKey(a), CanonicalKey(c))

	c["k"] = int64(8)
	assert.NotEqual(t, CanonicalKey(a), CanonicalKey(c))
}

func TestNormalize(t *testing.T) {
	space := newScenarioSpace(t)

	// As decoded from JSON.
	cfg, err := space.Normalize(Configuration{"c": 1.0, "schedule": "A", "k": 12.0})
	require.NoError(t, err)
	assert.Equal(t, int64(12), cfg["k"])
	assert.Equal(t, 1.0, cfg["c"])

	// As decoded from YAML.
	cfg, err = space.Normalize(Configuration{"c": 1, "schedule": "B"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg["c"])

	_, err = space.Normalize(Configuration{"c": 9})
	assert.ErrorIs(t, err, ErrOutOfDomain)
}

func TestEncode(t *testing.T) {
	space := newScenarioSpace(t)

	require.Equal(t, 4, space.Dimensions())

	x := space.Encode(Configuration{"c": 1.5, "schedule": "B"})
	assert.Equal(t, []float64{0.5, 0, 1, inactiveFeature}, x)

	x = space.Encode(Configuration{"c": 0.0, "schedule": "A", "k": int64(2000)})
	assert.Equal(t, []float64{0, 1, 0, 1}, x)
}

func TestNeighborStaysValid(t *testing.T) {
	space := newScenarioSpace(t)
	rng := rand.New(rand.NewSource(1))

	cfg := space.DefaultConfiguration()
	changed := 0

	for i := 0; i < 200; i++ {
		next := space.Neighbor(cfg, rng, 0.1)
		require.NoError(t, space.Validate(next), "%s", next)

		if CanonicalKey(next) != CanonicalKey(cfg) {
			changed++
		}

		cfg = next
	}

	assert.Greater(t, changed, 100)
}

func TestConstantHyperparameter(t *testing.T) {
	space, err := NewSpace([]Hyperparameter{Constant("version", 2), Float("c", 0, 1)})
	require.NoError(t, err)

	cfg := space.Sample(3)
	assert.Equal(t, int64(2), cfg["version"])

	assert.NoError(t, space.Validate(Configuration{"version": 2, "c": 0.5}))
	assert.ErrorIs(t, space.Validate(Configuration{"version": 3, "c": 0.5}), ErrOutOfDomain)
}

func TestParameterRangeClamp(t *testing.T) {
	r := ParameterRange[float64]{Min: 0, Max: 3}

	assert.Equal(t, 0.0, r.Clamp(-1))
	assert.Equal(t, 1.5, r.Clamp(1.5))
	assert.Equal(t, 3.0, r.Clamp(7))

	// Unit values at the edges map onto the bounds.
	k := Integer("k", 0, 2000)
	assert.Equal(t, int64(0), k.fromUnit(-0.5))
	assert.Equal(t, int64(2000), k.fromUnit(1.5))
	assert.Equal(t, int64(1000), k.fromUnit(0.5))
}
