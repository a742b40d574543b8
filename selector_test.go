package pcsmac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T, cfg SelectorConfig, space *Space, model *exactModel, h *History) *CandidateSelector {
	t.Helper()

	acq := NewModelAcquisition(LowerConfidenceBound, AcquisitionParams{})

	s, err := NewCandidateSelector(cfg, SelectorDeps{
		Space:       space,
		Model:       model,
		Acquisition: acq,
		LocalSearch: &OneExchangeLocalSearch{Space: space, Neighborhood: space, Acquisition: acq},
		History:     h,
	}, newTestRand())
	require.NoError(t, err)

	return s
}

func observe(t *testing.T, space *Space, h *History, model *exactModel, n int) Configuration {
	t.Helper()

	configs, err := space.Sample(rngFor(7), n)
	require.NoError(t, err)

	for _, c := range configs {
		require.NoError(t, h.Add(RunRecord{Config: c, Cost: model.cost(space.Vector(c))}))
	}

	inc, _, ok := h.Incumbent()
	require.True(t, ok)

	return inc
}

func legalOrigin(o Origin) bool {
	switch o {
	case OriginRandomSearch, OriginRandomSearchSorted, OriginRandomSearchBatch, OriginLocalSearch:
		return true
	default:
		return false
	}
}

func TestCandidateSelector_EtaIsZeroWithoutHistory(t *testing.T) {
	space := gridSpace(t)
	model := &exactModel{cost: bowl}

	s := newTestSelector(t, SelectorConfig{}, space, model, NewHistory(nil))

	cfg, err := space.Default()
	require.NoError(t, err)

	assert.Zero(t, s.Eta(Configuration{}))
	assert.Zero(t, s.Eta(cfg))

	h := NewHistory(nil)
	require.NoError(t, h.Add(RunRecord{Config: cfg, Cost: 4}))

	s = newTestSelector(t, SelectorConfig{}, space, model, h)
	assert.Zero(t, s.Eta(Configuration{}))
	assert.Equal(t, 4.0, s.Eta(cfg))

	other, err := space.New(map[string]any{"x:__choice__": "5", "y:__choice__": "5"})
	require.NoError(t, err)
	assert.Zero(t, s.Eta(other), "an incumbent without a recorded cost gives eta 0")
}

func TestCandidateSelector_PlainChooseNext(t *testing.T) {
	space := pipelineSpace(t)
	model := &exactModel{cost: func(x []float64) float64 { return x[1] + x[5] }}
	h := NewHistory(nil)
	incumbent := observe(t, space, h, model, 5)

	s := newTestSelector(t, SelectorConfig{
		Policy:               PolicyPlain,
		RandomSearchPoolSize: 100,
		LocalSearchSeeds:     10,
	}, space, model, h)

	challengers, err := s.ChooseNext(context.Background(), nil, nil, incumbent)
	require.NoError(t, err)

	// 100 ranked random configurations and 10 local-search optima,
	// interleaved 1:1 with as many random configurations.
	require.Len(t, challengers, 2*110)
	assert.Equal(t, 1, model.trained)

	counts := map[Origin]int{}

	for i, c := range challengers {
		assert.True(t, legalOrigin(c.Origin), "unexpected origin %q", c.Origin)

		counts[c.Origin]++

		if i%2 == 1 {
			assert.Equal(t, OriginRandomSearch, c.Origin, "odd slots explore")
		} else {
			assert.NotEqual(t, OriginRandomSearch, c.Origin, "even slots exploit")
		}
	}

	assert.Equal(t, 110, counts[OriginRandomSearch])
	assert.Equal(t, 100, counts[OriginRandomSearchSorted])
	assert.Equal(t, 10, counts[OriginLocalSearch])
}

func TestCandidateSelector_CacheAwareChooseNext(t *testing.T) {
	space := pipelineSpace(t)
	model := &exactModel{cost: func(x []float64) float64 { return x[1] + x[5] }}
	h := NewHistory(nil)
	incumbent := observe(t, space, h, model, 5)

	const leafSize = 3

	s := newTestSelector(t, SelectorConfig{
		Policy:               PolicyCacheAware,
		RandomSearchPoolSize: 20,
		LocalSearchSeeds:     4,
		LeafSize:             leafSize,
		ConstantSteps:        []string{"prep", "feat"},
		VariableSteps:        []string{"clf"},
	}, space, model, h)

	challengers, err := s.ChooseNext(context.Background(), nil, nil, incumbent)
	require.NoError(t, err)

	exploit := 20 + 4
	require.Len(t, challengers, exploit*(leafSize+1))

	for i := 0; i < len(challengers); i += leafSize + 1 {
		assert.NotEqual(t, OriginRandomSearchBatch, challengers[i].Origin, "slot %d exploits", i)

		leaf := challengers[i+1 : i+1+leafSize]
		want := constantValues(leaf[0], "prep", "feat")

		for _, c := range leaf {
			assert.Equal(t, OriginRandomSearchBatch, c.Origin)
			assert.Equal(t, want, constantValues(c, "prep", "feat"), "siblings share the constant prefix")
		}
	}
}

func TestCandidateSelector_TopExploitBeatsExploration(t *testing.T) {
	space := gridSpace(t)
	model := &exactModel{cost: bowl}
	h := NewHistory(nil)
	incumbent := observe(t, space, h, model, 5)

	X, Y, err := CostTransformer{Space: space}.Transform(h)
	require.NoError(t, err)

	s := newTestSelector(t, SelectorConfig{
		Policy:               PolicyPlain,
		RandomSearchPoolSize: 30,
		LocalSearchSeeds:     5,
	}, space, model, h)

	challengers, err := s.ChooseNext(context.Background(), X, Y, incumbent)
	require.NoError(t, err)

	var exploit, explore []Configuration

	for i, c := range challengers {
		if i%2 == 0 {
			exploit = append(exploit, c)
		} else {
			explore = append(explore, c)
		}
	}

	acq := newTestAcquisition(model)

	top, err := acq.Evaluate(vectors(space, exploit[:1]), nil)
	require.NoError(t, err)

	values, err := acq.Evaluate(vectors(space, explore), nil)
	require.NoError(t, err)

	for _, v := range values {
		assert.GreaterOrEqual(t, top[0], v)
	}

	// The exploitation list is ordered best first.
	ev, err := acq.Evaluate(vectors(space, exploit), nil)
	require.NoError(t, err)

	for i := 1; i < len(ev); i++ {
		assert.GreaterOrEqual(t, ev[i-1], ev[i])
	}
}

func TestCandidateSelector_IsReproducible(t *testing.T) {
	run := func() []Configuration {
		space := pipelineSpace(t)
		model := &exactModel{cost: func(x []float64) float64 { return x[1] + x[5] }}
		h := NewHistory(nil)
		incumbent := observe(t, space, h, model, 5)

		s := newTestSelector(t, SelectorConfig{RandomSearchPoolSize: 20, LocalSearchSeeds: 3}, space, model, h)

		out, err := s.ChooseNext(context.Background(), nil, nil, incumbent)
		require.NoError(t, err)

		return out
	}

	a, b := run(), run()
	require.Equal(t, len(a), len(b))

	for i := range a {
		assert.True(t, a[i].Equal(b[i]), "position %d differs", i)
		assert.Equal(t, a[i].Origin, b[i].Origin)
	}
}

func TestCandidateSelector_SeedCount(t *testing.T) {
	space := gridSpace(t)
	model := &exactModel{cost: bowl}

	tests := []struct {
		name  string
		fixed int
		stats StatsProvider
		want  int
	}{
		{"fixed", 3, nil, 3},
		{"no stats", 0, nil, DefaultLocalSearchSeeds},
		{"no rounds yet", 0, fixedStats{}, DefaultLocalSearchSeeds},
		{"small ema", 0, fixedStats{ema: 4}, 3},
		{"fractional ema", 0, fixedStats{ema: 5}, 4},
		{"large ema", 0, fixedStats{ema: 100}, DefaultLocalSearchSeeds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acq := NewModelAcquisition(LowerConfidenceBound, AcquisitionParams{})

			s, err := NewCandidateSelector(SelectorConfig{LocalSearchSeeds: tt.fixed}, SelectorDeps{
				Space:       space,
				Model:       model,
				Acquisition: acq,
				LocalSearch: &OneExchangeLocalSearch{Space: space, Neighborhood: space, Acquisition: acq},
				Stats:       tt.stats,
			}, newTestRand())
			require.NoError(t, err)

			assert.Equal(t, tt.want, s.SeedCount())
		})
	}
}

func TestCandidateSelector_Seeds(t *testing.T) {
	space := gridSpace(t)
	model := &exactModel{cost: bowl}
	h := NewHistory(nil)
	incumbent := observe(t, space, h, model, 5)

	plain := newTestSelector(t, SelectorConfig{Policy: PolicyPlain, LocalSearchSeeds: 3}, space, model, h)
	plain.deps.Acquisition.Update(model, 0)

	seeds, err := plain.seeds(incumbent, nil)
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.True(t, seeds[0].Equal(incumbent))

	aware := newTestSelector(t, SelectorConfig{
		Policy:           PolicyCacheAware,
		LocalSearchSeeds: 3,
		ConstantSteps:    []string{"x"},
	}, space, model, h)
	aware.deps.Acquisition.Update(model, 0)

	seeds, err = aware.seeds(incumbent, nil)
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	// The best previous configuration comes first, reached through the
	// ranking rather than the incumbent slot.
	assert.InDelta(t, bowl(space.Vector(incumbent)), bowl(space.Vector(seeds[0])), 1e-12)

	for i, a := range seeds {
		assert.Equal(t, OriginPreviousRun, a.Origin)

		for _, b := range seeds[i+1:] {
			assert.False(t, a.Equal(b), "seeds are unique")
		}
	}
}

func TestCandidateSelector_Errors(t *testing.T) {
	space := gridSpace(t)

	model := &exactModel{cost: bowl, trainErr: errors.New("singular")}
	s := newTestSelector(t, SelectorConfig{RandomSearchPoolSize: 5}, space, model, NewHistory(nil))

	_, err := s.ChooseNext(context.Background(), nil, nil, Configuration{})
	assert.ErrorIs(t, err, ErrModelFitting)

	acq := failingAcquisition{}

	s, err = NewCandidateSelector(SelectorConfig{RandomSearchPoolSize: 5}, SelectorDeps{
		Space:       space,
		Model:       &exactModel{cost: bowl},
		Acquisition: acq,
		LocalSearch: &OneExchangeLocalSearch{Space: space, Neighborhood: space, Acquisition: acq},
	}, newTestRand())
	require.NoError(t, err)

	_, err = s.ChooseNext(context.Background(), nil, nil, Configuration{})
	assert.ErrorIs(t, err, ErrAcquisitionEvaluation)
}

func TestNewCandidateSelector_Validates(t *testing.T) {
	space := gridSpace(t)

	_, err := NewCandidateSelector(SelectorConfig{}, SelectorDeps{Space: space}, newTestRand())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	acq := NewModelAcquisition(ExpectedImprovement, AcquisitionParams{})
	deps := SelectorDeps{
		Space:       space,
		Model:       NewGaussianProcess(0.5),
		Acquisition: acq,
		LocalSearch: &OneExchangeLocalSearch{Space: space, Neighborhood: space, Acquisition: acq},
	}

	_, err = NewCandidateSelector(SelectorConfig{Policy: "greedy"}, deps, newTestRand())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCandidateSelector(SelectorConfig{}, deps, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInterleave(t *testing.T) {
	exploit := numbered(3)
	explore := numbered(2)

	assert.Len(t, interleave(exploit, explore), 5)

	leaves := [][]Configuration{numbered(2), numbered(1)}
	out := interleaveLeaves(exploit, leaves)

	require.Len(t, out, 6)
	assert.True(t, out[0].Equal(exploit[0]))
	assert.True(t, out[3].Equal(exploit[1]))
	assert.True(t, out[5].Equal(exploit[2]))
}
