package pcsmac

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

//////
// Const, vars, types.
//////

// Criterion turns a predicted cost distribution into an acquisition value.
// These functions help decide which configurations should be evaluated next.
//
// Parameters:
// - mean: The predicted mean cost at a point (lower cost is better)
// - variance: The predicted variance/uncertainty at that point
// - params: Additional parameters needed by specific criteria
//
// Returns:
// - float64: Acquisition value (HIGHER values indicate more promising points)
//
// Built-in criteria:
// - ExpectedImprovement: Expected magnitude of improvement over BestSoFar
// - ProbabilityOfImprovement: Probability of beating BestSoFar
// - LowerConfidenceBound: Optimistic cost estimate, negated
// - ThompsonSampling: Random sample from the posterior, negated
//
// Implementation notes for custom criteria:
// - Must handle zero variance
// - Must return finite values; non-finite values abort the run
// - Must draw randomness only from params.RandomState
type Criterion func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the criteria to balance
// exploring new areas (exploration) against refining known good ones
// (exploitation).
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off of
	// LowerConfidenceBound.
	// - Higher values (e.g., 3.0 or 5.0) favour uncertain areas
	// - Lower values (e.g., 0.1 or 0.5) favour known good areas
	Beta float64

	// Xi (ξ) is the minimum improvement over BestSoFar that
	// ExpectedImprovement and ProbabilityOfImprovement ask for.
	// Typical values range from 0.0 to 0.1.
	Xi float64

	// BestSoFar is the reference cost eta. It is set by
	// ModelAcquisition.Update on every selection round.
	BestSoFar float64

	// RandomState is the generator ThompsonSampling draws from. It must be
	// the run's shared generator for runs to be reproducible.
	RandomState *rand.Rand
}

// ModelAcquisition is the reference AcquisitionFunction: it queries a
// surrogate model for every point, lowers the predicted cost by the caching
// discount and scores the result with a Criterion.
//
// Usage example:
//
//	acq := NewModelAcquisition(ExpectedImprovement, AcquisitionParams{Xi: 0.0})
//	acq.Update(model, eta)
//	values, err := acq.Evaluate(points, discounts)
type ModelAcquisition struct {
	Criterion Criterion
	Params    AcquisitionParams

	// DiscountWeight scales caching discounts before they are subtracted
	// from the predicted cost. Zero ignores discounts.
	DiscountWeight float64

	model SurrogateModel
}

//////
// Built-in criteria.
//////

// ExpectedImprovement (EI) calculates the expected value of the improvement
// over the reference cost.
//
// How it works:
// - Combines the probability of improvement with the magnitude of improvement
// - Balances how likely and how large the improvement might be
//
// Parameters:
// - mean: Predicted cost at this point
// - variance: Uncertainty in the prediction
// - params.BestSoFar: Reference cost eta
// - params.Xi: Minimum improvement desired
//
// Example:
//
//	params := AcquisitionParams{BestSoFar: 1.0, Xi: 0.01}
//	expected := ExpectedImprovement(0.9, 0.2, params)
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	sigma := math.Sqrt(math.Max(variance, 0))
	if sigma == 0 {
		return math.Max(improvement, 0)
	}

	z := improvement / sigma

	return improvement*normalCDF(z) + sigma*normalPDF(z)
}

// ProbabilityOfImprovement (PI) calculates the probability that a point
// beats the reference cost by at least Xi.
//
// When to use:
// - When you want to be conservative in exploring new points
// - When being "probably better" matters more than "how much better"
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	sigma := math.Sqrt(math.Max(variance, 0))
	if sigma == 0 {
		if improvement > 0 {
			return 1
		}

		return 0
	}

	return normalCDF(improvement / sigma)
}

// LowerConfidenceBound returns the negated optimistic cost estimate
// mean - Beta·σ, so that higher stays better.
func LowerConfidenceBound(mean, variance float64, params AcquisitionParams) float64 {
	return -(mean - params.Beta*math.Sqrt(math.Max(variance, 0)))
}

// ThompsonSampling draws one cost from the posterior and negates it.
//
// Warning:
// - params.RandomState must be set; without it the posterior mean is used
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	if params.RandomState == nil {
		return -mean
	}

	return -(mean + math.Sqrt(math.Max(variance, 0))*params.RandomState.NormFloat64())
}

// CriterionByName resolves "ei", "pi", "lcb" or "ts".
func CriterionByName(name string) (Criterion, error) {
	switch strings.ToLower(name) {
	case "ei", "expected_improvement":
		return ExpectedImprovement, nil
	case "pi", "probability_of_improvement":
		return ProbabilityOfImprovement, nil
	case "lcb", "ucb", "lower_confidence_bound":
		return LowerConfidenceBound, nil
	case "ts", "thompson", "thompson_sampling":
		return ThompsonSampling, nil
	default:
		return nil, fmt.Errorf("%w: unknown acquisition criterion %q", ErrInvalidConfig, name)
	}
}

//////
// Methods.
//////

// Update implements AcquisitionFunction.
func (a *ModelAcquisition) Update(model SurrogateModel, eta float64) {
	a.model = model
	a.Params.BestSoFar = eta
}

// Evaluate implements AcquisitionFunction.
func (a *ModelAcquisition) Evaluate(points [][]float64, discounts []float64) ([]float64, error) {
	if a.model == nil {
		return nil, fmt.Errorf("%w: no model, call Update first", ErrAcquisitionEvaluation)
	}

	if discounts != nil && len(discounts) != len(points) {
		return nil, fmt.Errorf("%w: %d discounts for %d points", ErrAcquisitionEvaluation, len(discounts), len(points))
	}

	out := make([]float64, len(points))

	for i, x := range points {
		mean, variance := a.model.Predict(x)

		if discounts != nil {
			mean -= a.DiscountWeight * discounts[i]
		}

		v := a.Criterion(mean, variance, a.Params)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value %v at point %d", ErrAcquisitionEvaluation, v, i)
		}

		out[i] = v
	}

	return out, nil
}

//////
// Factory.
//////

// NewModelAcquisition returns an acquisition function scoring with c. The
// discount weight defaults to 1.
func NewModelAcquisition(c Criterion, params AcquisitionParams) *ModelAcquisition {
	return &ModelAcquisition{
		Criterion:      c,
		Params:         params,
		DiscountWeight: 1,
	}
}
