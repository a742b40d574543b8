package pcsmac

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// ProgressUpdate represents the state of the optimization loop after one
// completed iteration.
type ProgressUpdate struct {
	// State is the loop state the update was emitted from.
	State LoopState

	// Iteration is the 1-based iteration number.
	Iteration int

	// Incumbent is the best configuration known after the iteration.
	Incumbent Configuration

	// IncumbentCost is the aggregate cost of Incumbent.
	IncumbentCost float64

	// Challengers is the number of challengers proposed in the iteration.
	Challengers int

	// SelectionTime is the wall-clock time spent choosing challengers.
	SelectionTime time.Duration
}

// ParameterRange defines the valid range of a numerical hyperparameter.
//
// Type Parameter:
//   - T: The numeric type for this parameter range (int64 or float64)
//
// Fields:
// - Min: The minimum (inclusive) value for this hyperparameter
// - Max: The maximum (inclusive) value for this hyperparameter
//
// Usage:
//
//	// Number of trees in a forest, from 10 to 500
//	trees := ParameterRange[int64]{Min: 10, Max: 500}
//
//	// Regularization strength
//	alpha := ParameterRange[float64]{Min: 1e-7, Max: 1e-1}
//
// Validation:
// - Min must be less than or equal to Max
// - The range is inclusive of both Min and Max values
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	// Min defines the minimum allowed value (inclusive).
	Min T

	// Max defines the maximum allowed value (inclusive).
	Max T
}

// Contains reports whether v lies within the range.
func (r ParameterRange[T]) Contains(v T) bool { return v >= r.Min && v <= r.Max }

// Candidate pairs a configuration with its acquisition value. Candidates are
// produced, ranked and discarded within one selection round.
type Candidate struct {
	// Value is the acquisition value; higher is more promising.
	Value float64

	// Config is the scored configuration. Its Origin tells which strategy
	// produced it.
	Config Configuration
}

// CachedConfiguration is a partial configuration whose pipeline prefix has
// already been computed and cached, with the cost that reusing it saves.
//
// Produced by whatever executes pipelines; read-only to the optimizer.
type CachedConfiguration struct {
	// Values holds the namespaced keys covered by the cached prefix.
	Values map[string]any

	// Discount is the non-negative saving granted to every configuration
	// agreeing with Values on all of its keys.
	Discount float64
}

// RunStatus is the outcome of one target execution.
type RunStatus string

// Run statuses.
const (
	StatusSuccess RunStatus = "SUCCESS"
	StatusCrashed RunStatus = "CRASHED"
	StatusTimeout RunStatus = "TIMEOUT"
)

// RunRecord is one execution of the target on a configuration.
type RunRecord struct {
	Config   Configuration
	Cost     float64
	Runtime  time.Duration
	Status   RunStatus
	Instance string
	Seed     int64

	// RunID identifies the optimizer instance that produced the record. It
	// is what shared-history synchronization keys on.
	RunID string

	// Additional holds free-form information returned by the target.
	Additional map[string]string
}

// TargetResult is what a TargetFunc reports for one evaluation.
type TargetResult struct {
	// Cost is the value being minimized.
	Cost float64

	// Runtime is the time the evaluation took. When zero the runner
	// measures the wall-clock time of the call instead.
	Runtime time.Duration

	// Cached lists the pipeline prefixes this evaluation made reusable.
	Cached []CachedConfiguration

	// Additional is copied into the run record.
	Additional map[string]string
}

// TargetFunc evaluates one configuration. It is the expensive function being
// optimized.
//
// Returned errors are recorded as crashed runs with the configured crash
// cost, except context cancellation which aborts the run.
type TargetFunc func(ctx context.Context, cfg Configuration) (TargetResult, error)

// AggregateFunc reduces the costs of all runs of a configuration into one
// performance value.
type AggregateFunc func(costs []float64) float64

//////
// Collaborator interfaces.
//////

// ConfigurationSpace samples and validates configurations.
type ConfigurationSpace interface {
	// Sample returns n valid configurations.
	Sample(rng *rand.Rand, n int) ([]Configuration, error)

	// New validates values and builds a configuration from them. It
	// returns an error wrapping ErrConstraintViolation when the values
	// break a structural constraint.
	New(values map[string]any) (Configuration, error)

	// Vector encodes cfg as a feature vector for the surrogate, imputing
	// inactive hyperparameters.
	Vector(cfg Configuration) []float64

	// Default returns the default configuration of the space.
	Default() (Configuration, error)
}

// Neighborhood enumerates the neighbors of a configuration for local search.
type Neighborhood interface {
	Neighbors(rng *rand.Rand, cfg Configuration) []Configuration
}

// SurrogateModel predicts cost from a feature vector.
type SurrogateModel interface {
	// Train fits the model on all observations. It replaces prior data.
	Train(features [][]float64, costs []float64) error

	// Predict returns the predicted mean cost and its variance at x.
	Predict(x []float64) (mean, variance float64)
}

// AcquisitionFunction scores points; higher values are more promising.
type AcquisitionFunction interface {
	// Update sets the model and the reference cost eta for the next
	// Evaluate calls.
	Update(model SurrogateModel, eta float64)

	// Evaluate scores every point. discounts is either nil or has one
	// non-negative caching discount per point.
	Evaluate(points [][]float64, discounts []float64) ([]float64, error)
}

// RunHistory is the read-only view of all evaluations the optimizer uses.
type RunHistory interface {
	Empty() bool
	Cost(cfg Configuration) (float64, bool)
	AllConfigurations() []Configuration
	CachedConfigurations() []CachedConfiguration
}

// RunStore is a RunHistory that can be written to and enumerated. The
// intensifier and the shared-history synchronization work on it.
type RunStore interface {
	RunHistory
	Add(rec RunRecord) error
	AddCached(rec CachedConfiguration) error
	Runs() []RunRecord
	Costs(cfg Configuration) []float64
}

// HistoryTransformer turns a run history into surrogate training data.
type HistoryTransformer interface {
	Transform(rh RunHistory) (features [][]float64, costs []float64, err error)
}

// Intensifier races challengers against the incumbent. It owns execution,
// run-history mutation and the racing policy.
type Intensifier interface {
	Intensify(
		ctx context.Context,
		challengers []Configuration,
		incumbent Configuration,
		rh RunHistory,
		aggregate AggregateFunc,
		timeBound time.Duration,
	) (Configuration, float64, error)
}

// InitialDesign produces the first incumbent.
type InitialDesign interface {
	Run(ctx context.Context, rng *rand.Rand) (Configuration, error)
}

// StatsProvider is the read-only view of run statistics the core needs.
type StatsProvider interface {
	EMAConfigsPerIntensify() float64
	IsBudgetExhausted() bool
}

// SharedHistory exchanges run-history snapshots with other optimizer
// instances. Read merges foreign results into rh, Write persists the local
// ones under runID.
type SharedHistory interface {
	Read(ctx context.Context, rh RunStore, space ConfigurationSpace) error
	Write(ctx context.Context, rh RunStore, runID string) error
}

// LocalSearch maximizes the acquisition function starting from a seed.
// values[0] is the acquisition value of the returned optimum.
type LocalSearch interface {
	Maximize(
		ctx context.Context,
		rng *rand.Rand,
		start Configuration,
		cached []CachedConfiguration,
	) (optimum Configuration, values []float64, err error)
}
