package pcsmac

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//////
// Const, vars, types.
//////

// LoopState is the state of an Optimizer.
type LoopState int

// Loop states.
const (
	StateNotStarted LoopState = iota
	StateSelecting
	StateIntensifying
	StateTerminated
)

// String implements fmt.Stringer.
func (s LoopState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateSelecting:
		return "Selecting"
	case StateIntensifying:
		return "Intensifying"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// Selector proposes the challengers of one round. *CandidateSelector is the
// implementation used by Optimize.
type Selector interface {
	ChooseNext(ctx context.Context, X [][]float64, Y []float64, incumbent Configuration) ([]Configuration, error)
}

// OptimizerDeps are the collaborators of an Optimizer. Shared and Progress
// are optional.
type OptimizerDeps struct {
	InitialDesign InitialDesign
	Selector      Selector
	Transformer   HistoryTransformer
	Intensifier   Intensifier
	History       RunStore
	Stats         StatsProvider

	// Shared, when set, is read before every selection and written after
	// every intensification.
	Shared SharedHistory
	Space  ConfigurationSpace
	RunID  string

	// Aggregate reduces the costs of a configuration. Nil means
	// AverageCost.
	Aggregate AggregateFunc

	Progress chan<- ProgressUpdate
	Logger   *slog.Logger
}

// Optimizer is the sequential model-based optimization loop:
//
//	NotStarted -> Selecting -> Intensifying -> (Selecting | Terminated)
//
// The initial design sets the first incumbent. Every round transforms the
// run history into training data, selects challengers and lets the
// intensifier race them against the incumbent. The budget (and the
// context) are checked once per round, after intensification, so a started
// round always completes.
//
// Thread safety:
// - Run must not be called concurrently
// - State, Incumbent and Iterations may be called from other goroutines
type Optimizer struct {
	cfg  LoopConfig
	deps OptimizerDeps
	rng  *rand.Rand

	logger *slog.Logger

	mu            sync.RWMutex
	state         LoopState
	incumbent     Configuration
	incumbentCost float64
	iterations    int
}

// Result is the outcome of Optimize.
type Result struct {
	Incumbent     Configuration
	IncumbentCost float64
	Iterations    int
	Runs          int
	RunID         string
	History       *History
}

// Option customizes Optimize.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	shared  SharedHistory
	history *History
	runID   string
}

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithSharedHistory synchronizes the run history through s.
func WithSharedHistory(s SharedHistory) Option { return func(o *options) { o.shared = s } }

// WithHistory starts from an existing history, e.g. a warm start.
func WithHistory(h *History) Option { return func(o *options) { o.history = h } }

// WithRunID overrides the run ID.
func WithRunID(id string) Option { return func(o *options) { o.runID = id } }

//////
// Methods.
//////

// State returns the current loop state.
func (o *Optimizer) State() LoopState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.state
}

// Incumbent returns the current incumbent and its cost.
func (o *Optimizer) Incumbent() (Configuration, float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.incumbent, o.incumbentCost
}

// Iterations returns the number of completed rounds.
func (o *Optimizer) Iterations() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.iterations
}

func (o *Optimizer) setState(s LoopState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state = s
}

func (o *Optimizer) setIncumbent(cfg Configuration, cost float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.incumbent, o.incumbentCost = cfg, cost
}

// Run drives the loop until the budget is exhausted, the iteration limit is
// reached or ctx is cancelled, and returns the final incumbent.
//
// A cancelled context ends the loop at the next round boundary: the round in
// progress, including its target runs, completes first, then the incumbent
// is returned together with ctx.Err(). Use Config.Cutoff to bound a single
// target run. Errors from the initial
// design, model fitting, acquisition evaluation, intensification and shared
// history are fatal and returned with the last incumbent.
func (o *Optimizer) Run(ctx context.Context) (Configuration, error) {
	ctx, span := tracer.Start(ctx, "smbo.run")
	defer span.End()

	incumbent, err := o.deps.InitialDesign.Run(ctx, o.rng)
	if err != nil {
		return o.fail(span, Configuration{}, err)
	}

	if incumbent.IsZero() {
		return o.fail(span, Configuration{}, fmt.Errorf("%w: initial design returned no incumbent", ErrIntensification))
	}

	cost, _ := o.deps.History.Cost(incumbent)
	o.setIncumbent(incumbent, cost)

	o.logger.InfoContext(ctx, "initial incumbent",
		slog.String("incumbent", incumbent.String()),
		slog.Float64("cost", cost),
	)

	// Rounds run detached from cancellation; ctx is observed between rounds.
	roundCtx := context.WithoutCancel(ctx)

	for iteration := 1; ; iteration++ {
		incumbent, cost, err = o.iterate(roundCtx, iteration, incumbent)
		if err != nil {
			return o.fail(span, incumbent, err)
		}

		o.mu.Lock()
		o.incumbent, o.incumbentCost, o.iterations = incumbent, cost, iteration
		o.mu.Unlock()

		if o.deps.Stats.IsBudgetExhausted() || (o.cfg.MaxIterations > 0 && iteration >= o.cfg.MaxIterations) {
			break
		}

		if ctx.Err() != nil {
			o.setState(StateTerminated)

			return incumbent, ctx.Err()
		}
	}

	o.setState(StateTerminated)

	span.SetAttributes(
		attribute.Int("smbo.iterations", o.Iterations()),
		attribute.Float64("smbo.incumbent_cost", cost),
	)

	o.logger.InfoContext(ctx, "optimization finished",
		slog.Int("iterations", o.Iterations()),
		slog.String("incumbent", incumbent.String()),
		slog.Float64("cost", cost),
	)

	return incumbent, nil
}

// iterate runs one Selecting/Intensifying round.
func (o *Optimizer) iterate(ctx context.Context, iteration int, incumbent Configuration) (Configuration, float64, error) {
	ctx, span := tracer.Start(ctx, "smbo.iteration")
	defer span.End()

	span.SetAttributes(attribute.Int("smbo.iteration", iteration))

	o.setState(StateSelecting)

	if o.deps.Shared != nil {
		if err := o.deps.Shared.Read(ctx, o.deps.History, o.deps.Space); err != nil {
			return incumbent, 0, fmt.Errorf("read shared run history: %w", err)
		}
	}

	start := time.Now()

	X, Y, err := o.deps.Transformer.Transform(o.deps.History)
	if err != nil {
		return incumbent, 0, wrapSentinel(ErrModelFitting, err)
	}

	challengers, err := o.deps.Selector.ChooseNext(ctx, X, Y, incumbent)
	if err != nil {
		return incumbent, 0, err
	}

	selectionTime := time.Since(start)

	o.setState(StateIntensifying)

	timeBound := maxDuration(o.cfg.MinTimeBound, selectionTime)
	intensifyStart := time.Now()

	newIncumbent, cost, err := o.deps.Intensifier.Intensify(ctx, challengers, incumbent, o.deps.History, o.deps.Aggregate, timeBound)
	recordIntensify(time.Since(intensifyStart).Seconds(), err)

	if err != nil {
		return incumbent, 0, wrapSentinel(ErrIntensification, err)
	}

	if o.deps.Shared != nil {
		if err := o.deps.Shared.Write(ctx, o.deps.History, o.deps.RunID); err != nil {
			return newIncumbent, cost, fmt.Errorf("write shared run history: %w", err)
		}
	}

	iterationsTotal.WithLabelValues(o.policy()).Inc()

	o.logRemaining(ctx, iteration, selectionTime, cost)

	o.sendProgress(ProgressUpdate{
		State:         StateIntensifying,
		Iteration:     iteration,
		Incumbent:     newIncumbent,
		IncumbentCost: cost,
		Challengers:   len(challengers),
		SelectionTime: selectionTime,
	})

	return newIncumbent, cost, nil
}

func (o *Optimizer) fail(span trace.Span, incumbent Configuration, err error) (Configuration, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	o.setState(StateTerminated)

	return incumbent, err
}

func (o *Optimizer) logRemaining(ctx context.Context, iteration int, selectionTime time.Duration, cost float64) {
	attrs := []any{
		slog.Int("iteration", iteration),
		slog.Duration("selection_time", selectionTime),
		slog.Float64("incumbent_cost", cost),
	}

	if s, ok := o.deps.Stats.(*Stats); ok {
		attrs = append(attrs,
			slog.Duration("remaining_wallclock", s.RemainingWallClock()),
			slog.Duration("remaining_algorithm_time", s.RemainingAlgorithmTime()),
			slog.Int("remaining_runs", s.RemainingRuns()),
		)
	}

	o.logger.DebugContext(ctx, "iteration finished", attrs...)
}

// sendProgress never blocks: updates are dropped while the channel is full.
func (o *Optimizer) sendProgress(update ProgressUpdate) {
	if o.deps.Progress == nil {
		return
	}

	select {
	case o.deps.Progress <- update:
	default:
		// Skip update if channel is full.
	}
}

func (o *Optimizer) policy() string {
	if cs, ok := o.deps.Selector.(*CandidateSelector); ok {
		return string(cs.cfg.Policy)
	}

	return "custom"
}

//////
// Factory.
//////

// NewOptimizer validates deps and returns an optimizer in StateNotStarted.
func NewOptimizer(cfg LoopConfig, deps OptimizerDeps, rng *rand.Rand) (*Optimizer, error) {
	switch {
	case deps.InitialDesign == nil:
		return nil, fmt.Errorf("%w: optimizer needs an initial design", ErrInvalidConfig)
	case deps.Selector == nil:
		return nil, fmt.Errorf("%w: optimizer needs a selector", ErrInvalidConfig)
	case deps.Transformer == nil:
		return nil, fmt.Errorf("%w: optimizer needs a history transformer", ErrInvalidConfig)
	case deps.Intensifier == nil:
		return nil, fmt.Errorf("%w: optimizer needs an intensifier", ErrInvalidConfig)
	case deps.History == nil:
		return nil, fmt.Errorf("%w: optimizer needs a run history", ErrInvalidConfig)
	case deps.Stats == nil:
		return nil, fmt.Errorf("%w: optimizer needs stats", ErrInvalidConfig)
	case deps.Shared != nil && deps.Space == nil:
		return nil, fmt.Errorf("%w: shared run history needs the configuration space", ErrInvalidConfig)
	case rng == nil:
		return nil, fmt.Errorf("%w: optimizer needs a random generator", ErrInvalidConfig)
	}

	if cfg.MinTimeBound <= 0 {
		cfg.MinTimeBound = DefaultMinTimeBound
	}

	if deps.Aggregate == nil {
		deps.Aggregate = AverageCost
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Optimizer{
		cfg:           cfg,
		deps:          deps,
		rng:           rng,
		logger:        logger,
		state:         StateNotStarted,
		incumbentCost: math.Inf(1),
	}, nil
}

// Optimize wires the reference collaborators around space and target and
// runs the loop.
//
// Parameters:
// - cfg: Config controlling the run (see DefaultConfig)
// - space: the configuration space to search
// - target: the function whose cost is minimized
//
// Returns:
// - Result: final incumbent, its cost and the run history
// - error: fatal failures, or ctx.Err() after cancellation
//
// Usage example:
//
//	cfg := DefaultConfig()
//	cfg.Seed = 42
//	cfg.Budget.MaxRuns = 50
//
//	res, err := Optimize(ctx, cfg, space, func(ctx context.Context, c Configuration) (TargetResult, error) {
//	    return TargetResult{Cost: evaluate(c)}, nil
//	})
//
// How it works:
// 1. Evaluates the initial design (default or random configurations)
// 2. For each iteration:
//   - Fits the Gaussian process on all observed costs
//   - Ranks random and local-search candidates by the acquisition function
//   - Interleaves them with exploration candidates
//   - Races the challengers against the incumbent
//
// 3. Returns the incumbent once the budget is exhausted
func Optimize(ctx context.Context, cfg Config, space *Space, target TargetFunc, opts ...Option) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	o := options{runID: cfg.Shared.RunID}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	history := o.history
	if history == nil {
		history = NewHistory(AverageCost)
	}

	rng := NewRand(cfg.Seed)
	stats := NewStats(cfg.Budget)

	runner := &Runner{
		Target:    target,
		History:   history,
		Stats:     stats,
		RunID:     o.runID,
		Seed:      cfg.Seed,
		Cutoff:    cfg.Cutoff,
		CrashCost: cfg.CrashCost,
		Logger:    logger,
	}

	criterion, err := CriterionByName(cfg.Acquisition.Criterion)
	if err != nil {
		return Result{}, err
	}

	acq := NewModelAcquisition(criterion, AcquisitionParams{
		Beta:        cfg.Acquisition.Beta,
		Xi:          cfg.Acquisition.Xi,
		RandomState: rng,
	})
	acq.DiscountWeight = cfg.Acquisition.DiscountWeight

	selector, err := NewCandidateSelector(cfg.Selector, SelectorDeps{
		Space:       space,
		Model:       NewGaussianProcess(cfg.Model.Sigma),
		Acquisition: acq,
		LocalSearch: &OneExchangeLocalSearch{
			Space:        space,
			Neighborhood: space,
			Acquisition:  acq,
			MaxSteps:     cfg.LocalSearch.MaxSteps,
		},
		History: history,
		Stats:   stats,
		Logger:  logger,
	}, rng)
	if err != nil {
		return Result{}, err
	}

	var design InitialDesign = &DefaultInitialDesign{Space: space, Runner: runner}
	if cfg.Loop.InitialDesign == "random" {
		design = &RandomInitialDesign{Space: space, Runner: runner, Size: cfg.Loop.InitialDesignSize}
	}

	optimizer, err := NewOptimizer(cfg.Loop, OptimizerDeps{
		InitialDesign: design,
		Selector:      selector,
		Transformer:   CostTransformer{Space: space, LogScale: cfg.Model.LogCosts},
		Intensifier: &RacingIntensifier{
			Runner:         runner,
			Stats:          stats,
			MinChallengers: cfg.Loop.MinChallengers,
			Logger:         logger,
		},
		History:   history,
		Stats:     stats,
		Shared:    o.shared,
		Space:     space,
		RunID:     o.runID,
		Aggregate: AverageCost,
		Progress:  cfg.ProgressChan,
		Logger:    logger,
	}, rng)
	if err != nil {
		return Result{}, err
	}

	incumbent, err := optimizer.Run(ctx)
	_, cost := optimizer.Incumbent()

	return Result{
		Incumbent:     incumbent,
		IncumbentCost: cost,
		Iterations:    optimizer.Iterations(),
		Runs:          stats.Runs(),
		RunID:         o.runID,
		History:       history,
	}, err
}
