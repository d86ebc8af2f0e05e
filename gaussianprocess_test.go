package hpo

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianProcessInterpolates(t *testing.T) {
	gp := NewGaussianProcess()

	x := [][]float64{{0}, {0.25}, {0.5}, {0.75}, {1}}
	y := []float64{1, 0.5, 0.2, 0.5, 1}

	require.NoError(t, gp.Fit(x, y))

	for i := range x {
		mean, variance := gp.Predict(x[i])
		assert.InDelta(t, y[i], mean, 1e-3)
		assert.Less(t, variance, 1e-3)
	}

	// Uncertainty grows away from the data.
	_, near := gp.Predict([]float64{0.5})
	_, far := gp.Predict([]float64{3})
	assert.Greater(t, far, near)
}

func TestGaussianProcessEmpty(t *testing.T) {
	gp := NewGaussianProcess()

	mean, variance := gp.Predict([]float64{0.5})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)

	require.NoError(t, gp.Fit(nil, nil))
	assert.Error(t, gp.Fit([][]float64{{1}}, nil))
}

func TestGaussianProcessDuplicatePoints(t *testing.T) {
	gp := NewGaussianProcess()

	// Identical inputs make the kernel matrix singular without jitter.
	require.NoError(t, gp.Fit([][]float64{{0.5}, {0.5}, {0.5}}, []float64{5, 7, 6}))

	mean, _ := gp.Predict([]float64{0.5})
	assert.InDelta(t, 6.0, mean, 0.1)
}

func TestGaussianProcessUpdate(t *testing.T) {
	gp := NewGaussianProcess()

	require.NoError(t, gp.Update([]float64{0, 0}, 1))
	require.NoError(t, gp.Update([]float64{1, 1}, 3))

	mean, _ := gp.Predict([]float64{1, 1})
	assert.InDelta(t, 3.0, mean, 1e-3)
	assert.Len(t, gp.X, 2)
}

func TestRBFKernel(t *testing.T) {
	gp := NewGaussianProcess()
	gp.SetSigma(1)

	assert.Equal(t, 1.0, gp.GetSigma())
	assert.Equal(t, 1.0, gp.RBFKernel([]float64{1, 2}, []float64{1, 2}))
	assert.InDelta(t, math.Exp(-0.5), gp.RBFKernel([]float64{0}, []float64{1}), 1e-12)

	assert.Panics(t, func() { gp.RBFKernel([]float64{0}, []float64{0, 1}) })
}

func TestGaussianProcessConcurrentPredict(t *testing.T) {
	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit([][]float64{{0}, {1}}, []float64{0, 1}))

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			mean, _ := gp.Predict([]float64{float64(i) / 8})
			assert.False(t, math.IsNaN(mean))
		}(i)
	}

	wg.Wait()
}
