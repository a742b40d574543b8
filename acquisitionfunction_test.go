package pcsmac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedImprovement(t *testing.T) {
	params := AcquisitionParams{BestSoFar: 1}

	assert.InDelta(t, 0.5, ExpectedImprovement(0.5, 0, params), 1e-12)
	assert.Zero(t, ExpectedImprovement(2, 0, params))

	// Uncertainty adds value even without expected improvement.
	assert.Greater(t, ExpectedImprovement(1, 1, params), 0.0)
	assert.Greater(t, ExpectedImprovement(0.5, 0.1, params), ExpectedImprovement(0.9, 0.1, params))
}

func TestProbabilityOfImprovement(t *testing.T) {
	params := AcquisitionParams{BestSoFar: 1}

	assert.Equal(t, 1.0, ProbabilityOfImprovement(0.5, 0, params))
	assert.Equal(t, 0.0, ProbabilityOfImprovement(1.5, 0, params))
	assert.InDelta(t, 0.5, ProbabilityOfImprovement(1, 1, params), 1e-12)
}

func TestLowerConfidenceBound(t *testing.T) {
	params := AcquisitionParams{Beta: 2}

	assert.InDelta(t, -(1 - 2*0.5), LowerConfidenceBound(1, 0.25, params), 1e-12)
	assert.Greater(t, LowerConfidenceBound(0, 1, params), LowerConfidenceBound(1, 1, params))
}

func TestThompsonSampling_Reproducible(t *testing.T) {
	a := ThompsonSampling(1, 1, AcquisitionParams{RandomState: newTestRand()})
	b := ThompsonSampling(1, 1, AcquisitionParams{RandomState: newTestRand()})

	assert.Equal(t, a, b)
	assert.Equal(t, -1.0, ThompsonSampling(1, 1, AcquisitionParams{}))
}

func TestCriterionByName(t *testing.T) {
	for _, name := range []string{"ei", "EI", "pi", "lcb", "ucb", "ts"} {
		c, err := CriterionByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, c)
	}

	_, err := CriterionByName("nope")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelAcquisition_Evaluate(t *testing.T) {
	model := &exactModel{cost: func(x []float64) float64 { return x[0] }}
	acq := newTestAcquisition(model)

	values, err := acq.Evaluate([][]float64{{0.2}, {0.8}}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.2, -0.8}, values, 1e-12)

	// A discount lowers the predicted cost and raises the value.
	values, err = acq.Evaluate([][]float64{{0.2}, {0.8}}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.2, 0.2}, values, 1e-12)

	acq.DiscountWeight = 0
	values, err = acq.Evaluate([][]float64{{0.8}}, []float64{1})
	require.NoError(t, err)
	assert.InDelta(t, -0.8, values[0], 1e-12)
}

func TestModelAcquisition_Errors(t *testing.T) {
	acq := NewModelAcquisition(ExpectedImprovement, AcquisitionParams{})

	_, err := acq.Evaluate([][]float64{{0}}, nil)
	assert.ErrorIs(t, err, ErrAcquisitionEvaluation)

	acq.Update(&exactModel{cost: func([]float64) float64 { return 0 }}, 0)

	_, err = acq.Evaluate([][]float64{{0}, {1}}, []float64{0})
	assert.ErrorIs(t, err, ErrAcquisitionEvaluation)

	acq.Update(&exactModel{cost: func([]float64) float64 { return math.NaN() }}, 0)

	_, err = acq.Evaluate([][]float64{{0}}, nil)
	assert.ErrorIs(t, err, ErrAcquisitionEvaluation)
}

func TestModelAcquisition_UpdateSetsEta(t *testing.T) {
	acq := NewModelAcquisition(ExpectedImprovement, AcquisitionParams{})
	acq.Update(&exactModel{cost: func([]float64) float64 { return 0.5 }}, 1.5)

	assert.Equal(t, 1.5, acq.Params.BestSoFar)

	values, err := acq.Evaluate([][]float64{{0}}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, values[0], 1e-12)
}
