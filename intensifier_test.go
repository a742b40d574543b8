package pcsmac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// costByKey is a target returning the value of "k" as cost.
func costByKey(_ context.Context, cfg Configuration) (TargetResult, error) {
	v, _ := cfg.Get("k")

	return TargetResult{Cost: float64(v.(int64)), Runtime: time.Millisecond}, nil
}

func configs(ks ...int) []Configuration {
	out := make([]Configuration, len(ks))
	for i, k := range ks {
		out[i] = NewConfiguration(map[string]any{"k": k})
	}

	return out
}

func TestRacingIntensifier_PromotesBetterChallenger(t *testing.T) {
	h := NewHistory(nil)
	stats := NewStats(Budget{})
	ri := &RacingIntensifier{
		Runner:         &Runner{Target: costByKey, History: h, Stats: stats},
		Stats:          stats,
		MinChallengers: 3,
	}

	inc := configs(5)[0]

	newInc, cost, err := ri.Intensify(context.Background(), configs(7, 2, 4), inc, h, AverageCost, 0)
	require.NoError(t, err)

	assert.True(t, newInc.Equal(configs(2)[0]))
	assert.Equal(t, 2.0, cost)

	// The incumbent had no cost yet and is evaluated first.
	assert.Len(t, h.Runs(), 4)
	assert.Equal(t, 1, stats.Rounds())
	assert.InDelta(t, 3, stats.EMAConfigsPerIntensify(), 1e-12)
}

func TestRacingIntensifier_SkipsKnownChallengers(t *testing.T) {
	h := NewHistory(nil)
	ri := &RacingIntensifier{Runner: &Runner{Target: costByKey, History: h}, MinChallengers: 10}

	inc := configs(5)[0]
	require.NoError(t, h.Add(RunRecord{Config: inc, Cost: 5}))
	require.NoError(t, h.Add(RunRecord{Config: configs(1)[0], Cost: 1}))

	newInc, cost, err := ri.Intensify(context.Background(), configs(5, 1, 3, 3), inc, h, AverageCost, time.Hour)
	require.NoError(t, err)

	assert.True(t, newInc.Equal(configs(3)[0]))
	assert.Equal(t, 3.0, cost)
	assert.Len(t, h.Runs(), 3)
}

func TestRacingIntensifier_StopsAtTimeBound(t *testing.T) {
	h := NewHistory(nil)
	now := time.Unix(0, 0)

	ri := &RacingIntensifier{
		Runner: &Runner{
			Target: func(ctx context.Context, cfg Configuration) (TargetResult, error) {
				now = now.Add(time.Second)

				return costByKey(ctx, cfg)
			},
			History: h,
		},
		MinChallengers: 2,
		now:            func() time.Time { return now },
	}

	inc := configs(100)[0]
	require.NoError(t, h.Add(RunRecord{Config: inc, Cost: 100}))

	_, _, err := ri.Intensify(context.Background(), configs(9, 8, 7, 6, 5), inc, h, AverageCost, 3*time.Second)
	require.NoError(t, err)

	// Three challengers take three seconds, which reaches the bound.
	assert.Len(t, h.Runs(), 1+3)
}

func TestRacingIntensifier_MinChallengersBeatTimeBound(t *testing.T) {
	h := NewHistory(nil)
	ri := &RacingIntensifier{Runner: &Runner{Target: costByKey, History: h}}

	inc := configs(100)[0]
	require.NoError(t, h.Add(RunRecord{Config: inc, Cost: 100}))

	_, _, err := ri.Intensify(context.Background(), configs(9, 8, 7), inc, h, AverageCost, 0)
	require.NoError(t, err)

	assert.Len(t, h.Runs(), 1+DefaultMinChallengers)
}

func TestRacingIntensifier_StopsOnBudget(t *testing.T) {
	h := NewHistory(nil)
	stats := NewStats(Budget{MaxRuns: 2})
	ri := &RacingIntensifier{
		Runner:         &Runner{Target: costByKey, History: h, Stats: stats},
		Stats:          stats,
		MinChallengers: 10,
	}

	_, _, err := ri.Intensify(context.Background(), configs(9, 8, 7), configs(100)[0], h, AverageCost, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Runs())
}

func TestRacingIntensifier_Errors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHistory(nil)

	ri := &RacingIntensifier{
		Runner: &Runner{
			Target: func(context.Context, Configuration) (TargetResult, error) {
				cancel()

				return TargetResult{}, errors.New("interrupted")
			},
			History: h,
		},
	}

	_, _, err := ri.Intensify(ctx, configs(1), configs(2)[0], h, AverageCost, 0)
	assert.ErrorIs(t, err, ErrIntensification)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultInitialDesign(t *testing.T) {
	space := gridSpace(t)
	h := NewHistory(nil)

	d := &DefaultInitialDesign{
		Space: space,
		Runner: &Runner{
			Target: func(_ context.Context, cfg Configuration) (TargetResult, error) {
				return TargetResult{Cost: bowl(space.Vector(cfg))}, nil
			},
			History: h,
		},
	}

	inc, err := d.Run(context.Background(), newTestRand())
	require.NoError(t, err)

	assert.Equal(t, OriginDefault, inc.Origin)

	_, ok := h.Cost(inc)
	assert.True(t, ok)
}

func TestRandomInitialDesign(t *testing.T) {
	space := gridSpace(t)
	h := NewHistory(nil)

	d := &RandomInitialDesign{
		Space: space,
		Runner: &Runner{
			Target: func(_ context.Context, cfg Configuration) (TargetResult, error) {
				return TargetResult{Cost: bowl(space.Vector(cfg))}, nil
			},
			History: h,
		},
		Size: 8,
	}

	inc, err := d.Run(context.Background(), newTestRand())
	require.NoError(t, err)

	assert.Equal(t, OriginInitialDesign, inc.Origin)

	_, best, ok := h.Incumbent()
	require.True(t, ok)

	cost, _ := h.Cost(inc)
	assert.Equal(t, best, cost)
}
