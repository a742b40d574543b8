package pcsmac

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRand returns the seeded generator every test draws from.
func newTestRand() *rand.Rand {
	return rngFor(42)
}

func rngFor(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// pipelineSpace is a small three-step pipeline:
//
//	prep:__choice__        {scale, none}
//	prep:scale:factor      float, active when prep = scale
//	feat:__choice__        {pca, none}
//	feat:pca:keep          float, active when feat = pca
//	clf:__choice__         {sgd, knn}
//	clf:sgd:alpha          float, active when clf = sgd
//	clf:knn:k              int, active when clf = knn
func pipelineSpace(t *testing.T) *Space {
	t.Helper()

	space := NewSpace()
	require.NoError(t, space.Add(
		NewCategorical("prep:__choice__", []string{"scale", "none"}, ""),
		NewFloat("prep:scale:factor", ParameterRange[float64]{Min: 0.1, Max: 10}, 1, true),
		NewCategorical("feat:__choice__", []string{"pca", "none"}, ""),
		NewFloat("feat:pca:keep", ParameterRange[float64]{Min: 0.5, Max: 1}, 0.9, false),
		NewCategorical("clf:__choice__", []string{"sgd", "knn"}, ""),
		NewFloat("clf:sgd:alpha", ParameterRange[float64]{Min: 1e-6, Max: 1}, 1e-3, true),
		NewInteger("clf:knn:k", ParameterRange[int64]{Min: 1, Max: 50}, 5, false),
	))

	for _, c := range []Condition{
		{Child: "prep:scale:factor", Parent: "prep:__choice__", Values: []any{"scale"}},
		{Child: "feat:pca:keep", Parent: "feat:__choice__", Values: []any{"pca"}},
		{Child: "clf:sgd:alpha", Parent: "clf:__choice__", Values: []any{"sgd"}},
		{Child: "clf:knn:k", Parent: "clf:__choice__", Values: []any{"knn"}},
	} {
		require.NoError(t, space.AddCondition(c))
	}

	return space
}

// gridSpace is a 10x10 categorical grid. Its neighborhood enumerates every
// alternative value, so hill climbing on a separable convex cost always
// reaches the global optimum.
func gridSpace(t *testing.T) *Space {
	t.Helper()

	choices := make([]string, 10)
	for i := range choices {
		choices[i] = strconv.Itoa(i)
	}

	space := NewSpace()
	require.NoError(t, space.Add(
		NewCategorical("x:__choice__", choices, ""),
		NewCategorical("y:__choice__", choices, ""),
	))

	return space
}

// bowl is a convex cost over the normalized grid coordinates with its
// minimum at (x=3, y=7).
func bowl(v []float64) float64 {
	dx := v[0] - 3.0/9
	dy := v[1] - 7.0/9

	return dx*dx + dy*dy
}

// exactModel predicts a known cost surface exactly.
type exactModel struct {
	cost     func([]float64) float64
	trainErr error
	trained  int
}

func (m *exactModel) Train(_ [][]float64, _ []float64) error {
	m.trained++

	return m.trainErr
}

func (m *exactModel) Predict(x []float64) (float64, float64) {
	return m.cost(x), 0
}

// failingAcquisition errors on every evaluation.
type failingAcquisition struct{}

func (failingAcquisition) Update(SurrogateModel, float64) {}

func (failingAcquisition) Evaluate([][]float64, []float64) ([]float64, error) {
	return nil, errors.New("boom")
}

// rejectingSpace refuses every configuration built from values, which makes
// every batch splice a constraint violation.
type rejectingSpace struct {
	*Space
}

func (rejectingSpace) New(map[string]any) (Configuration, error) {
	return Configuration{}, ErrConstraintViolation
}

// fixedStats is a StatsProvider with a settable EMA.
type fixedStats struct {
	ema       float64
	exhausted bool
}

func (s fixedStats) EMAConfigsPerIntensify() float64 { return s.ema }
func (s fixedStats) IsBudgetExhausted() bool         { return s.exhausted }

// newTestAcquisition returns LCB with Beta 0, i.e. the negated predicted
// cost, updated with model.
func newTestAcquisition(model SurrogateModel) *ModelAcquisition {
	acq := NewModelAcquisition(LowerConfidenceBound, AcquisitionParams{})
	acq.Update(model, 0)

	return acq
}
