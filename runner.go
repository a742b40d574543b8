package pcsmac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// DefaultCrashCost is the cost recorded for failed target executions.
const DefaultCrashCost = 1e6

// Runner executes the target on one configuration and records the outcome.
//
// Target failures do not abort the run: they are recorded as crashed (or
// timed out) runs with CrashCost, so the surrogate learns to avoid them.
// Cancellation of the parent context is returned as is.
//
// Thread safety:
// - Safe for concurrent use when History and Stats are
type Runner struct {
	Target  TargetFunc
	History RunStore

	// Stats is charged for every execution. Optional.
	Stats *Stats

	// RunID tags every record; shared-history sync keys on it.
	RunID    string
	Instance string
	Seed     int64

	// Cutoff bounds a single execution. Zero means no bound.
	Cutoff time.Duration

	// CrashCost is recorded for failed executions. Zero means
	// DefaultCrashCost.
	CrashCost float64

	Logger *slog.Logger
}

// Run evaluates cfg and returns the recorded cost.
func (r *Runner) Run(ctx context.Context, cfg Configuration) (float64, error) {
	runCtx := ctx

	if r.Cutoff > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, r.Cutoff)
		defer cancel()
	}

	start := time.Now()
	res, err := r.Target(runCtx, cfg)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	status := StatusSuccess
	cost := res.Cost

	switch {
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil:
		status, cost = StatusTimeout, r.crashCost()
	case err != nil:
		status, cost = StatusCrashed, r.crashCost()
	case math.IsNaN(cost) || math.IsInf(cost, 0):
		status, cost = StatusCrashed, r.crashCost()
		err = fmt.Errorf("non-finite cost %v", res.Cost)
	}

	if status != StatusSuccess {
		r.logger().Warn("target run failed",
			slog.String("status", string(status)),
			slog.String("config", cfg.String()),
			slog.Any("error", err),
		)
	}

	runtime := res.Runtime
	if runtime <= 0 {
		runtime = elapsed
	}

	rec := RunRecord{
		Config:     cfg,
		Cost:       cost,
		Runtime:    runtime,
		Status:     status,
		Instance:   r.Instance,
		Seed:       r.Seed,
		RunID:      r.RunID,
		Additional: res.Additional,
	}

	if err := r.History.Add(rec); err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}

	for _, c := range res.Cached {
		if err := r.History.AddCached(c); err != nil {
			return 0, fmt.Errorf("record cached configuration: %w", err)
		}
	}

	if r.Stats != nil {
		r.Stats.RecordRun(runtime)
	}

	targetRuns.WithLabelValues(string(status)).Inc()

	r.logger().Debug("target run",
		slog.Float64("cost", cost),
		slog.Duration("runtime", runtime),
		slog.String("origin", string(cfg.Origin)),
	)

	return cost, nil
}

func (r *Runner) crashCost() float64 {
	if r.CrashCost == 0 {
		return DefaultCrashCost
	}

	return r.CrashCost
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}

	return r.Logger
}
