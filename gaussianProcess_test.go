package pcsmac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianProcess_NoData(t *testing.T) {
	gp := NewGaussianProcess(0)

	assert.Equal(t, 0.5, gp.Sigma())

	mean, variance := gp.Predict([]float64{0.3})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)
}

func TestGaussianProcess_Predict(t *testing.T) {
	gp := NewGaussianProcess(0.1)

	require.NoError(t, gp.Train(
		[][]float64{{0}, {0.5}, {1}},
		[]float64{1, 2, 3},
	))

	// Close to an observation the mean approaches its cost and the
	// variance collapses.
	mean, variance := gp.Predict([]float64{0.5})
	assert.InDelta(t, 2, mean, 0.01)
	assert.Less(t, variance, 1e-6)

	// Between observations the variance grows.
	_, between := gp.Predict([]float64{0.25})
	assert.Greater(t, between, variance)

	// The wrong dimension falls back to the prior.
	mean, variance = gp.Predict([]float64{0.5, 0.5})
	assert.InDelta(t, 2, mean, 1e-12)
	assert.InDelta(t, 1, variance, 1e-12)
}

func TestGaussianProcess_TrainCopiesData(t *testing.T) {
	gp := NewGaussianProcess(0.1)

	x := [][]float64{{0}}
	y := []float64{1}
	require.NoError(t, gp.Train(x, y))

	x[0][0] = 1
	y[0] = 100

	mean, _ := gp.Predict([]float64{0})
	assert.InDelta(t, 1, mean, 1e-9)
}

func TestGaussianProcess_TrainRejectsBadData(t *testing.T) {
	gp := NewGaussianProcess(0.5)

	tests := []struct {
		name string
		x    [][]float64
		y    []float64
	}{
		{"length mismatch", [][]float64{{0}}, []float64{1, 2}},
		{"ragged rows", [][]float64{{0}, {0, 1}}, []float64{1, 2}},
		{"nan feature", [][]float64{{math.NaN()}}, []float64{1}},
		{"inf cost", [][]float64{{0}}, []float64{math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, gp.Train(tt.x, tt.y), ErrModelFitting)
		})
	}
}

func TestGaussianProcess_SetSigma(t *testing.T) {
	gp := NewGaussianProcess(0.5)
	gp.SetSigma(2)

	assert.Equal(t, 2.0, gp.Sigma())
}
