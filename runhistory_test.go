package pcsmac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AddAndCost(t *testing.T) {
	h := NewHistory(nil)
	assert.True(t, h.Empty())

	a := NewConfiguration(map[string]any{"k": 1})
	b := NewConfiguration(map[string]any{"k": 2})

	require.NoError(t, h.Add(RunRecord{Config: a, Cost: 1, Seed: 1}))
	require.NoError(t, h.Add(RunRecord{Config: a, Cost: 3, Seed: 2}))
	require.NoError(t, h.Add(RunRecord{Config: b, Cost: 1.5}))

	assert.False(t, h.Empty())

	cost, ok := h.Cost(a)
	require.True(t, ok)
	assert.InDelta(t, 2, cost, 1e-12)
	assert.Equal(t, []float64{1, 3}, h.Costs(a))

	_, ok = h.Cost(NewConfiguration(map[string]any{"k": 3}))
	assert.False(t, ok)

	configs := h.AllConfigurations()
	require.Len(t, configs, 2)
	assert.True(t, configs[0].Equal(a))
	assert.True(t, configs[1].Equal(b))

	assert.Equal(t, StatusSuccess, h.Runs()[0].Status)
}

func TestHistory_AddDeduplicates(t *testing.T) {
	h := NewHistory(nil)
	cfg := NewConfiguration(map[string]any{"k": 1})

	rec := RunRecord{Config: cfg, Cost: 1, RunID: "a", Instance: "i", Seed: 7}

	require.NoError(t, h.Add(rec))
	require.NoError(t, h.Add(rec))

	rec.RunID = "b"
	require.NoError(t, h.Add(rec))

	assert.Len(t, h.Runs(), 2)
}

func TestHistory_AddRejectsInvalid(t *testing.T) {
	h := NewHistory(nil)
	cfg := NewConfiguration(map[string]any{"k": 1})

	assert.ErrorIs(t, h.Add(RunRecord{Cost: 1}), ErrInvalidRecord)
	assert.ErrorIs(t, h.Add(RunRecord{Config: cfg, Cost: math.NaN()}), ErrInvalidRecord)
	assert.ErrorIs(t, h.Add(RunRecord{Config: cfg, Cost: math.Inf(1)}), ErrInvalidRecord)
	assert.True(t, h.Empty())
}

func TestHistory_AddCached(t *testing.T) {
	h := NewHistory(nil)

	rec := CachedConfiguration{Values: map[string]any{"a:n": 3}, Discount: 1}

	require.NoError(t, h.AddCached(rec))
	require.NoError(t, h.AddCached(rec))

	cached := h.CachedConfigurations()
	require.Len(t, cached, 1)
	assert.Equal(t, int64(3), cached[0].Values["a:n"])

	assert.ErrorIs(t, h.AddCached(CachedConfiguration{Discount: -1}), ErrInvalidRecord)
	assert.ErrorIs(t, h.AddCached(CachedConfiguration{Discount: math.NaN()}), ErrInvalidRecord)
}

func TestHistory_Incumbent(t *testing.T) {
	h := NewHistory(nil)

	_, _, ok := h.Incumbent()
	assert.False(t, ok)

	a := NewConfiguration(map[string]any{"k": 1})
	b := NewConfiguration(map[string]any{"k": 2})

	require.NoError(t, h.Add(RunRecord{Config: a, Cost: 2}))
	require.NoError(t, h.Add(RunRecord{Config: b, Cost: 1}))

	inc, cost, ok := h.Incumbent()
	require.True(t, ok)
	assert.True(t, inc.Equal(b))
	assert.Equal(t, 1.0, cost)
}

func TestHistory_CustomAggregate(t *testing.T) {
	worst := func(costs []float64) float64 {
		m := math.Inf(-1)
		for _, c := range costs {
			m = math.Max(m, c)
		}

		return m
	}

	h := NewHistory(worst)
	cfg := NewConfiguration(map[string]any{"k": 1})

	require.NoError(t, h.Add(RunRecord{Config: cfg, Cost: 1, Seed: 1}))
	require.NoError(t, h.Add(RunRecord{Config: cfg, Cost: 5, Seed: 2}))

	cost, _ := h.Cost(cfg)
	assert.Equal(t, 5.0, cost)
}

func TestCostTransformer(t *testing.T) {
	space := gridSpace(t)
	h := NewHistory(nil)

	a, err := space.New(map[string]any{"x:__choice__": "0", "y:__choice__": "9"})
	require.NoError(t, err)

	b, err := space.New(map[string]any{"x:__choice__": "9", "y:__choice__": "0"})
	require.NoError(t, err)

	require.NoError(t, h.Add(RunRecord{Config: a, Cost: 2}))
	require.NoError(t, h.Add(RunRecord{Config: b, Cost: 4}))

	X, Y, err := CostTransformer{Space: space}.Transform(h)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, X)
	assert.Equal(t, []float64{2, 4}, Y)

	_, Y, err = CostTransformer{Space: space, LogScale: true}.Transform(h)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, math.Log(3)}, Y, 1e-12)
}
