package hpo

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// Surrogate predicts the cost of a configuration from its feature vector.
// The model-guided strategy fits it on the run history and asks it for a
// predictive mean and variance per candidate.
type Surrogate interface {
	// Fit replaces the training data. x[i] is the feature vector of the i-th
	// observation and y[i] its aggregated cost.
	Fit(x [][]float64, y []float64) error

	// Predict returns the predictive mean and variance at x.
	Predict(x []float64) (mean, variance float64)
}

// GaussianProcess implements a thread-safe Gaussian Process regression with
// an RBF kernel over feature vectors. Targets are standardized before
// fitting.
//
// Thread safety:
// - All fields are protected by the RWMutex
// - Uses RLock for read operations (Predict, RBFKernel)
// - Uses Lock for write operations (Fit, Update, SetSigma)
type GaussianProcess struct {
	// mu protects access to all fields
	mu sync.RWMutex

	// X stores the input points, one feature vector per observation.
	X [][]float64

	// Y stores the observed costs at each point in X.
	Y []float64

	// sigma is the kernel length scale.
	// Larger values = smoother interpolation
	// Smaller values = more local influence
	sigma float64

	// noise is added to the kernel diagonal.
	noise float64

	yMean, yStd float64
	chol        *mat.Cholesky
	alpha       *mat.VecDense
}

//////
// Methods.
//////

// RBFKernel measures the similarity between two points:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Panics if input vectors have different lengths.
func (gp *GaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	gp.mu.RLock()
	sigma := gp.sigma
	gp.mu.RUnlock()

	return rbf(x1, x2, sigma)
}

func rbf(x1, x2 []float64, sigma float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * sigma * sigma))
}

// Fit replaces the observations and recomputes the posterior.
//
// The kernel matrix is factorized with a Cholesky decomposition; when it is
// not positive definite the diagonal jitter is raised tenfold, up to five
// times.
func (gp *GaussianProcess) Fit(x [][]float64, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("fit: %d inputs for %d targets", len(x), len(y))
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = make([][]float64, len(x))
	for i := range x {
		gp.X[i] = append([]float64(nil), x[i]...)
	}

	gp.Y = append([]float64(nil), y...)

	return gp.refit()
}

// Update adds a single observation and recomputes the posterior.
func (gp *GaussianProcess) Update(x []float64, y float64) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = append(gp.X, append([]float64(nil), x...))
	gp.Y = append(gp.Y, y)

	return gp.refit()
}

// refit must be called with mu held.
func (gp *GaussianProcess) refit() error {
	n := len(gp.X)
	gp.chol, gp.alpha = nil, nil

	if n == 0 {
		return nil
	}

	mean, err := stats.Mean(gp.Y)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	std, err := stats.StandardDeviation(gp.Y)
	if err != nil || std < 1e-12 || math.IsNaN(std) {
		std = 1
	}

	gp.yMean, gp.yStd = mean, std

	target := mat.NewVecDense(n, nil)
	for i, v := range gp.Y {
		target.SetVec(i, (v-mean)/std)
	}

	jitter := gp.noise

	for attempt := 0; attempt < 5; attempt++ {
		k := mat.NewSymDense(n, nil)

		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := rbf(gp.X[i], gp.X[j], gp.sigma)
				if i == j {
					v += jitter
				}

				k.SetSym(i, j, v)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(k); !ok {
			jitter *= 10
			continue
		}

		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, target); err != nil {
			jitter *= 10
			continue
		}

		gp.chol, gp.alpha = &chol, alpha

		return nil
	}

	return errors.New("fit: kernel matrix is not positive definite")
}

// Predict estimates the expected cost and uncertainty at a given point.
//
// Returns (0, 1) if no observations exist.
func (gp *GaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.X) == 0 || gp.chol == nil {
		return 0, 1
	}

	n := len(gp.X)

	k := mat.NewVecDense(n, nil)
	for i := range gp.X {
		k.SetVec(i, rbf(x, gp.X[i], gp.sigma))
	}

	mean = mat.Dot(k, gp.alpha)*gp.yStd + gp.yMean

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, k); err != nil {
		return mean, gp.yStd * gp.yStd
	}

	variance = math.Max(1-mat.Dot(k, v), minVariance)

	return mean, variance * gp.yStd * gp.yStd
}

// SetSigma updates the kernel length scale. It takes effect on the next Fit
// or Update.
func (gp *GaussianProcess) SetSigma(sigma float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.sigma = sigma
}

// GetSigma returns the current kernel length scale.
func (gp *GaussianProcess) GetSigma() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.sigma
}

//////
// Factory.
//////

// NewGaussianProcess creates a Gaussian Process with a length scale suited to
// features scaled to [0, 1].
func NewGaussianProcess() *GaussianProcess {
	return &GaussianProcess{
		sigma: 0.25,
		noise: 1e-6,
	}
}
