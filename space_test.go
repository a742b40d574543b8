package pcsmac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpace_SampleRespectsConditions(t *testing.T) {
	space := pipelineSpace(t)

	configs, err := space.Sample(newTestRand(), 200)
	require.NoError(t, err)
	require.Len(t, configs, 200)

	for _, cfg := range configs {
		clf, _ := cfg.Get("clf:__choice__")

		_, hasAlpha := cfg.Get("clf:sgd:alpha")
		_, hasK := cfg.Get("clf:knn:k")

		assert.Equal(t, clf == "sgd", hasAlpha)
		assert.Equal(t, clf == "knn", hasK)

		// Every sample is a valid point of the space.
		_, err := space.New(cfg.Values())
		assert.NoError(t, err)
	}
}

func TestSpace_SampleIsReproducible(t *testing.T) {
	space := pipelineSpace(t)

	a, err := space.Sample(newTestRand(), 20)
	require.NoError(t, err)

	b, err := space.Sample(newTestRand(), 20)
	require.NoError(t, err)

	for i := range a {
		assert.True(t, a[i].Equal(b[i]))
	}
}

func TestSpace_NewRejectsViolations(t *testing.T) {
	space := pipelineSpace(t)
	require.NoError(t, space.AddForbidden(
		ForbiddenEquals{Key: "feat:__choice__", Value: "none"},
		ForbiddenEquals{Key: "clf:__choice__", Value: "knn"},
	))

	valid := map[string]any{
		"prep:__choice__": "none",
		"feat:__choice__": "none",
		"clf:__choice__":  "sgd",
		"clf:sgd:alpha":   0.01,
	}

	_, err := space.New(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		change func(map[string]any)
	}{
		{"unknown key", func(v map[string]any) { v["nope"] = 1 }},
		{"inactive set", func(v map[string]any) { v["clf:knn:k"] = 3 }},
		{"active missing", func(v map[string]any) { delete(v, "clf:sgd:alpha") }},
		{"out of range", func(v map[string]any) { v["clf:sgd:alpha"] = 5.0 }},
		{"bad choice", func(v map[string]any) { v["prep:__choice__"] = "minmax" }},
		{"forbidden", func(v map[string]any) {
			v["clf:__choice__"] = "knn"
			v["clf:knn:k"] = 3
			delete(v, "clf:sgd:alpha")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]any{}
			for k, v := range valid {
				values[k] = v
			}

			tt.change(values)

			_, err := space.New(values)
			assert.ErrorIs(t, err, ErrConstraintViolation)
		})
	}
}

func TestSpace_NewCoercesIntegralFloats(t *testing.T) {
	space := pipelineSpace(t)

	cfg, err := space.New(map[string]any{
		"prep:__choice__": "none",
		"feat:__choice__": "none",
		"clf:__choice__":  "knn",
		"clf:knn:k":       7.0,
	})
	require.NoError(t, err)

	v, _ := cfg.Get("clf:knn:k")
	assert.Equal(t, int64(7), v)

	_, err = space.New(map[string]any{
		"prep:__choice__": "none",
		"feat:__choice__": "none",
		"clf:__choice__":  "knn",
		"clf:knn:k":       7.5,
	})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestSpace_Default(t *testing.T) {
	cfg, err := pipelineSpace(t).Default()
	require.NoError(t, err)

	assert.Equal(t, OriginDefault, cfg.Origin)

	v, _ := cfg.Get("clf:__choice__")
	assert.Equal(t, "sgd", v)

	v, _ = cfg.Get("clf:sgd:alpha")
	assert.Equal(t, 1e-3, v)
}

func TestSpace_AddConditionOrder(t *testing.T) {
	space := NewSpace()
	require.NoError(t, space.Add(
		NewFloat("a:child", ParameterRange[float64]{Min: 0, Max: 1}, 0.5, false),
		NewCategorical("a:parent", []string{"x", "y"}, ""),
	))

	err := space.AddCondition(Condition{Child: "a:child", Parent: "a:parent", Values: []any{"x"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = space.AddCondition(Condition{Child: "a:child", Parent: "a:missing"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSpace_AddRejectsInvalidHyperparameters(t *testing.T) {
	tests := []struct {
		name string
		hp   Hyperparameter
	}{
		{"duplicate name", NewCategorical("a", []string{"y"}, "")},
		{"default outside range", NewFloat("b", ParameterRange[float64]{Min: 0, Max: 1}, 2, false)},
		{"no choices", NewCategorical("c", nil, "")},
		{"empty range", NewInteger("d", ParameterRange[int64]{Min: 5, Max: 1}, 3, false)},
		{"log scale from zero", NewFloat("e", ParameterRange[float64]{Min: 0, Max: 1}, 0.5, true)},
		{"log scale from negative", NewInteger("f", ParameterRange[int64]{Min: -3, Max: 10}, 1, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space := NewSpace()
			require.NoError(t, space.Add(NewCategorical("a", []string{"x"}, "")))

			err := space.Add(tt.hp)
			assert.ErrorIs(t, err, ErrInvalidSpace)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Len(t, space.Hyperparameters(), 1)
		})
	}
}

func TestSpace_VectorIsNormalized(t *testing.T) {
	space := pipelineSpace(t)

	configs, err := space.Sample(newTestRand(), 50)
	require.NoError(t, err)

	for _, cfg := range configs {
		x := space.Vector(cfg)
		require.Len(t, x, len(space.Hyperparameters()))

		for _, v := range x {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestSpace_NeighborsChangeOneValue(t *testing.T) {
	space := pipelineSpace(t)

	start, err := space.Default()
	require.NoError(t, err)

	neighbors := space.Neighbors(newTestRand(), start)
	require.NotEmpty(t, neighbors)

	for _, n := range neighbors {
		assert.False(t, n.Equal(start))

		_, err := space.New(n.Values())
		assert.NoError(t, err)

		changed := 0

		for _, k := range start.Keys() {
			v, ok := n.Get(k)
			sv, _ := start.Get(k)

			if ok && v != sv {
				changed++
			}
		}

		assert.LessOrEqual(t, changed, 1)
	}
}

func TestSpace_SampleFailsWhenEverythingIsForbidden(t *testing.T) {
	space := NewSpace()
	require.NoError(t, space.Add(NewCategorical("a", []string{"x"}, "")))
	require.NoError(t, space.AddForbidden(ForbiddenEquals{Key: "a", Value: "x"}))

	space.MaxSampleAttempts = 5

	_, err := space.Sample(newTestRand(), 1)
	assert.ErrorIs(t, err, ErrSampling)
}
