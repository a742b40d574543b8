package pcsmac

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMinChallengers is the number of challengers raced per round
// regardless of the time bound.
const DefaultMinChallengers = 2

// RacingIntensifier is the reference Intensifier. It evaluates challengers
// in the order given until the round's time bound has passed and at least
// MinChallengers were run, and promotes any challenger whose aggregate cost
// beats the incumbent.
//
// Already evaluated challengers are skipped. Every round reports the
// number of challengers it ran to Stats, which feeds the EMA that sizes the
// next round's local search.
type RacingIntensifier struct {
	Runner *Runner

	// Stats receives the round size and stops racing once the budget is
	// exhausted. Optional.
	Stats *Stats

	// MinChallengers is raced even when the time bound has passed. Zero
	// means DefaultMinChallengers.
	MinChallengers int

	Logger *slog.Logger

	now func() time.Time
}

// Intensify implements Intensifier.
func (ri *RacingIntensifier) Intensify(
	ctx context.Context,
	challengers []Configuration,
	incumbent Configuration,
	rh RunHistory,
	aggregate AggregateFunc,
	timeBound time.Duration,
) (Configuration, float64, error) {
	now := ri.now
	if now == nil {
		now = time.Now
	}

	minChallengers := ri.MinChallengers
	if minChallengers <= 0 {
		minChallengers = DefaultMinChallengers
	}

	start := now()

	incCost, ok := ri.cost(rh, incumbent, aggregate)
	if !ok {
		if _, err := ri.Runner.Run(ctx, incumbent); err != nil {
			return incumbent, 0, wrapSentinel(ErrIntensification, fmt.Errorf("evaluate incumbent: %w", err))
		}

		incCost, _ = ri.cost(rh, incumbent, aggregate)
	}

	ran := 0

	for _, ch := range challengers {
		if ran >= minChallengers && now().Sub(start) >= timeBound {
			break
		}

		if ri.Stats != nil && ri.Stats.IsBudgetExhausted() {
			break
		}

		if ch.Equal(incumbent) {
			continue
		}

		if _, seen := rh.Cost(ch); seen {
			continue
		}

		if _, err := ri.Runner.Run(ctx, ch); err != nil {
			return incumbent, incCost, wrapSentinel(ErrIntensification, err)
		}

		ran++

		chCost, _ := ri.cost(rh, ch, aggregate)
		if chCost < incCost {
			ri.logger().Info("challenger becomes incumbent",
				slog.Float64("old_cost", incCost),
				slog.Float64("new_cost", chCost),
				slog.String("origin", string(ch.Origin)),
			)

			incumbent, incCost = ch, chCost
		}
	}

	if ri.Stats != nil {
		ri.Stats.RecordIntensification(ran)
	}

	incumbentCost.Set(incCost)

	return incumbent, incCost, nil
}

// cost aggregates the recorded costs of cfg with aggregate when rh exposes
// them, and falls back to the history's own aggregate otherwise.
func (ri *RacingIntensifier) cost(rh RunHistory, cfg Configuration, aggregate AggregateFunc) (float64, bool) {
	store, ok := rh.(RunStore)
	if !ok || aggregate == nil {
		return rh.Cost(cfg)
	}

	costs := store.Costs(cfg)
	if len(costs) == 0 {
		return 0, false
	}

	return aggregate(costs), true
}

func (ri *RacingIntensifier) logger() *slog.Logger {
	if ri.Logger == nil {
		return slog.Default()
	}

	return ri.Logger
}
