package pcsmac

import (
	"math"
	"math/rand"
	"time"
)

//////
// Helper functions.
//////

// Helper function used by PI and EI to compute the cumulative distribution
// function of the standard normal distribution.
//
// Returns:
// - Probability that a standard normal random variable is less than x.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// Helper function used by EI to compute the probability density function
// of the standard normal distribution.
//
// Returns:
// - Value of the standard normal PDF at x.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// NewRand returns the run's single random generator. A zero seed picks one
// from the clock, which makes the run non-reproducible.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return rand.New(rand.NewSource(seed))
}

// AverageCost is the default AggregateFunc: the arithmetic mean. It returns
// +Inf for no costs.
func AverageCost(costs []float64) float64 {
	if len(costs) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for _, c := range costs {
		sum += c
	}

	return sum / float64(len(costs))
}

// maxDuration returns the larger of a and b.
func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}

	return b
}

// vectors encodes configs with space.
func vectors(space ConfigurationSpace, configs []Configuration) [][]float64 {
	out := make([][]float64, len(configs))
	for i, c := range configs {
		out[i] = space.Vector(c)
	}

	return out
}
