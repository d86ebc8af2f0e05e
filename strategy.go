package hpo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// localSearchScale is the standard deviation, in unit space, of the steps
// taken around the best configurations.
const localSearchScale = 0.1

// Strategy proposes the next configurations to evaluate.
//
// history is a snapshot taken at the start of the proposal cycle. Returning
// fewer than n configurations is allowed; the optimizer re-asks or falls back
// to random sampling.
type Strategy interface {
	Propose(ctx context.Context, history *RunHistory, space *Space, n int) ([]Configuration, error)
}

//////
// Random.
//////

// RandomStrategy samples uniformly from the space and ignores the history.
// It is the cold-start strategy.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStrategy returns a random strategy seeded with seed.
func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

// Propose implements Strategy.
func (r *RandomStrategy) Propose(_ context.Context, _ *RunHistory, space *Space, n int) ([]Configuration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Configuration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, space.sample(r.rng))
	}

	return out, nil
}

//////
// Model-guided.
//////

// ModelGuidedStrategy fits a surrogate on the run history and picks, from a
// pool of random candidates plus neighbours of the best configurations, the
// ones with the lowest acquisition score. Ties go to the candidate farthest
// from every evaluated configuration.
//
// How it works:
// 1. Refits the surrogate once RetrainAfter new costs arrived since the last fit
// 2. Generates NumCandidates random and LocalCandidates local candidates
// 3. Drops candidates duplicated in the pool, and for deterministic
// objectives those already evaluated
// 4. Scores each candidate with the acquisition function
// 5. Returns the n best
type ModelGuidedStrategy struct {
	mu sync.Mutex

	surrogate       Surrogate
	acquisition     AcquisitionFunc
	params          AcquisitionParams
	numCandidates   int
	localCandidates int
	retrainAfter    int
	deterministic   bool

	rng *rand.Rand

	// fittedAt is the number of successful trials at the last fit, -1 before
	// the first one.
	fittedAt int
}

// NewModelGuidedStrategy builds the strategy from the optimization config.
// A nil surrogate defaults to a Gaussian Process.
func NewModelGuidedStrategy(config OptimizationConfig, surrogate Surrogate) *ModelGuidedStrategy {
	if surrogate == nil {
		surrogate = NewGaussianProcess()
	}

	acquisition := config.AcquisitionFunc
	if acquisition == nil {
		acquisition = ExpectedImprovement
	}

	m := &ModelGuidedStrategy{
		surrogate:       surrogate,
		acquisition:     acquisition,
		params:          config.AcqParams,
		numCandidates:   max(config.NumCandidates, 1),
		localCandidates: config.LocalCandidates,
		retrainAfter:    max(config.RetrainAfter, 1),
		deterministic:   config.Deterministic,
		rng:             rand.New(rand.NewSource(config.Seed + 1)),
		fittedAt:        -1,
	}

	if m.params.RandomState == nil {
		m.params.RandomState = m.rng
	}

	return m
}

type scoredCandidate struct {
	config    Configuration
	score     float64
	diversity float64
}

// Propose implements Strategy.
func (m *ModelGuidedStrategy) Propose(ctx context.Context, history *RunHistory, space *Space, n int) ([]Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	observations := history.Observations()
	if len(observations) == 0 {
		return m.random(space, n), nil
	}

	features := make([][]float64, len(observations))
	costs := make([]float64, len(observations))
	best := math.Inf(1)

	for i, o := range observations {
		features[i] = space.Encode(o.Config)
		costs[i] = o.Cost
		best = math.Min(best, o.Cost)
	}

	successes := history.Successes()
	if m.fittedAt < 0 || successes-m.fittedAt >= m.retrainAfter {
		if err := m.surrogate.Fit(features, costs); err != nil {
			return m.random(space, n), fmt.Errorf("fit surrogate: %w", err)
		}

		m.fittedAt = successes
	}

	params := m.params
	params.BestSoFar = best

	pool := m.candidates(history, space, observations)
	scored := make([]scoredCandidate, 0, len(pool))

	for _, cfg := range pool {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		x := space.Encode(cfg)
		mean, variance := m.surrogate.Predict(x)

		scored = append(scored, scoredCandidate{
			config:    cfg,
			score:     m.acquisition(mean, variance, params),
			diversity: minDistance(x, features),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score < scored[j].score
		}

		return scored[i].diversity > scored[j].diversity
	})

	out := make([]Configuration, 0, n)
	for i := 0; i < len(scored) && len(out) < n; i++ {
		out = append(out, scored[i].config)
	}

	return out, nil
}

// candidates builds the pool: random samples plus local moves around the
// best observations, deduplicated. Evaluated configurations stay in the pool
// only for stochastic objectives, where the optimizer caps their repeats.
func (m *ModelGuidedStrategy) candidates(history *RunHistory, space *Space, observations []Observation) []Configuration {
	seen := make(map[string]struct{}, m.numCandidates+m.localCandidates)
	pool := make([]Configuration, 0, m.numCandidates+m.localCandidates)

	add := func(cfg Configuration) {
		hash := CanonicalKey(cfg)
		if _, dup := seen[hash]; dup || (m.deterministic && history.Evaluated(hash)) {
			return
		}

		seen[hash] = struct{}{}
		pool = append(pool, cfg)
	}

	if m.localCandidates > 0 {
		ranked := append([]Observation(nil), observations...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Cost < ranked[j].Cost })

		if len(ranked) > 5 {
			ranked = ranked[:5]
		}

		for i := 0; i < m.localCandidates; i++ {
			add(space.Neighbor(ranked[i%len(ranked)].Config, m.rng, localSearchScale))
		}
	}

	for i := 0; i < m.numCandidates; i++ {
		add(space.sample(m.rng))
	}

	return pool
}

func (m *ModelGuidedStrategy) random(space *Space, n int) []Configuration {
	out := make([]Configuration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, space.sample(m.rng))
	}

	return out
}

// minDistance returns the Euclidean distance from x to its nearest point.
func minDistance(x []float64, points [][]float64) float64 {
	best := math.Inf(1)

	for _, p := range points {
		var sum float64

		for i := range x {
			d := x[i] - p[i]
			sum += d * d
		}

		best = math.Min(best, sum)
	}

	return math.Sqrt(best)
}
