package pcsmac

import (
	"fmt"
	"math"
	"sync"
)

//////
// Const, vars, types.
//////

// minVariance keeps predictions strictly uncertain so criteria never divide
// by zero variance at observed points.
const minVariance = 1e-10

// GaussianProcess is the reference SurrogateModel: a thread-safe kernel
// regression with an RBF kernel over normalized configuration vectors.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - X: Observed feature vectors
// - Y: Observed costs at each feature vector
// - sigma: Kernel width controlling the smoothness of interpolation
//
// The mean is the kernel-weighted average of observed costs; the variance
// shrinks from the prior cost variance towards zero as x approaches an
// observation.
//
// Thread safety:
// - All fields are protected by the RWMutex
// - Uses RLock for Predict and Sigma, Lock for Train and SetSigma
type GaussianProcess struct {
	// mu protects access to all fields
	mu sync.RWMutex

	// X stores the training feature vectors. All rows share one length.
	X [][]float64

	// Y stores the observed costs. Same length as X.
	Y []float64

	// sigma is the kernel width parameter
	// Larger values = smoother interpolation
	// Smaller values = more local influence
	sigma float64

	// priorMean and priorVariance describe Y; used far from all data.
	priorMean     float64
	priorVariance float64
}

//////
// Methods.
//////

// rbf implements the Radial Basis Function (Gaussian) kernel.
//
// Mathematical formula:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Callers hold the read lock and guarantee equal lengths.
func (gp *GaussianProcess) rbf(x1, x2 []float64) float64 {
	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Train implements SurrogateModel. It validates the data and replaces every
// previous observation.
//
// Returns an error wrapping ErrModelFitting when:
// - features and costs differ in length
// - rows differ in length
// - any value is NaN or infinite
//
// Thread safety:
// - Protected by write mutex (gp.mu)
func (gp *GaussianProcess) Train(features [][]float64, costs []float64) error {
	if len(features) != len(costs) {
		return fmt.Errorf("%w: %d feature rows for %d costs", ErrModelFitting, len(features), len(costs))
	}

	x := make([][]float64, len(features))

	for i, row := range features {
		if len(row) != len(features[0]) {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrModelFitting, i, len(row), len(features[0]))
		}

		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite feature in row %d", ErrModelFitting, i)
			}
		}

		// Deep copy to prevent external modifications
		x[i] = append([]float64(nil), row...)
	}

	for i, c := range costs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite cost at %d", ErrModelFitting, i)
		}
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = x
	gp.Y = append([]float64(nil), costs...)
	gp.priorMean, gp.priorVariance = meanVariance(gp.Y)

	return nil
}

// Predict implements SurrogateModel.
//
// Returns (0, 1) when the model has no observations, and the prior of the
// observed costs when x is far from all of them or has the wrong dimension.
//
// Performance considerations:
// - O(n·d) per call, n observations of dimension d
func (gp *GaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	// Handle case with no observations
	if len(gp.X) == 0 {
		return 0, 1
	}

	if len(x) != len(gp.X[0]) {
		return gp.priorMean, gp.priorVariance
	}

	var sumK, sumKY, maxK float64

	for i := range gp.X {
		k := gp.rbf(x, gp.X[i])

		sumK += k
		sumKY += k * gp.Y[i]
		maxK = math.Max(maxK, k)
	}

	if sumK < 1e-12 {
		return gp.priorMean, gp.priorVariance
	}

	mean = sumKY / sumK
	variance = math.Max(gp.priorVariance*(1-maxK*maxK), minVariance)

	return mean, variance
}

// SetSigma updates the kernel width (must be positive). Affects all
// subsequent predictions.
func (gp *GaussianProcess) SetSigma(sigma float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.sigma = sigma
}

// Sigma returns the current kernel width.
func (gp *GaussianProcess) Sigma() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.sigma
}

// meanVariance returns the sample mean and variance of ys; the variance is 1
// when it cannot be estimated or is zero.
func meanVariance(ys []float64) (float64, float64) {
	if len(ys) == 0 {
		return 0, 1
	}

	var sum float64
	for _, y := range ys {
		sum += y
	}

	mean := sum / float64(len(ys))
	if len(ys) < 2 {
		return mean, 1
	}

	var ss float64
	for _, y := range ys {
		ss += (y - mean) * (y - mean)
	}

	variance := ss / float64(len(ys)-1)
	if variance == 0 {
		variance = 1
	}

	return mean, variance
}

//////
// Factory.
//////

// NewGaussianProcess creates a model with kernel width sigma. Non-positive
// values fall back to 0.5, a width suited to features normalized to [0, 1].
func NewGaussianProcess(sigma float64) *GaussianProcess {
	if sigma <= 0 {
		sigma = 0.5
	}

	return &GaussianProcess{
		sigma:         sigma,
		priorVariance: 1,
	}
}
