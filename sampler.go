package pcsmac

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

// DefaultMaxSpliceRetries is the number of consecutive constraint
// violations after which a batch leaf is accepted short.
const DefaultMaxSpliceRetries = 10

// RandomSearchSampler produces random candidates: plain, ranked by the
// acquisition function, and in cache-amortizing batches.
//
// Batches are built from leaves. A leaf starts with one freely sampled
// configuration; every sibling is spliced from a fresh sample by copying the
// hyperparameters of ConstantSteps from the start and taking the remaining
// ones from the fresh sample. Siblings therefore share the constant pipeline
// prefix, which only has to be computed once.
//
// Usage example:
//
//	s := &RandomSearchSampler{
//	    Space:         space,
//	    Acquisition:   acq,
//	    History:       rh,
//	    ConstantSteps: []string{"imputation", "feature_preprocessor"},
//	}
//	leaves, err := s.SampleLeaves(rng, 10, 3)
type RandomSearchSampler struct {
	Space       ConfigurationSpace
	Acquisition AcquisitionFunction

	// History supplies the cached configurations used for discounts. Nil
	// means no discounts.
	History RunHistory

	// ConstantSteps are copied from the start configuration of a leaf.
	ConstantSteps []string

	// VariableSteps, when set, restricts the keys taken from the fresh
	// sample to these steps. Empty means every non-constant step.
	VariableSteps []string

	// MaxSpliceRetries bounds consecutive constraint violations per leaf.
	// Zero means DefaultMaxSpliceRetries.
	MaxSpliceRetries int

	Logger *slog.Logger
}

//////
// Methods.
//////

// Sample returns n random configurations with origin OriginRandomSearch.
func (s *RandomSearchSampler) Sample(rng *rand.Rand, n int) ([]Configuration, error) {
	configs, err := s.Space.Sample(rng, n)
	if err != nil {
		return nil, fmt.Errorf("random search: %w", err)
	}

	for i := range configs {
		configs[i] = configs[i].WithOrigin(OriginRandomSearch)
	}

	return configs, nil
}

// SampleRanked returns n random configurations scored by the acquisition
// function, best first, with origin OriginRandomSearchSorted.
func (s *RandomSearchSampler) SampleRanked(rng *rand.Rand, n int) ([]Candidate, error) {
	configs, err := s.Space.Sample(rng, n)
	if err != nil {
		return nil, fmt.Errorf("sorted random search: %w", err)
	}

	return s.Rank(rng, configs, OriginRandomSearchSorted)
}

// Rank scores configs with the acquisition function and caching discounts
// and returns them best first, ties broken with rng. Every returned
// configuration carries origin.
func (s *RandomSearchSampler) Rank(rng *rand.Rand, configs []Configuration, origin Origin) ([]Candidate, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	var cached []CachedConfiguration
	if s.History != nil {
		cached = s.History.CachedConfigurations()
	}

	values, err := s.Acquisition.Evaluate(vectors(s.Space, configs), CachingDiscounts(configs, cached))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionEvaluation, err)
	}

	return rankCandidates(rng, configs, values, origin), nil
}

// SampleBatches returns numBatches leaves of up to leafSize configurations,
// flattened in leaf order, with origin OriginRandomSearchBatch.
func (s *RandomSearchSampler) SampleBatches(rng *rand.Rand, numBatches, leafSize int) ([]Configuration, error) {
	leaves, err := s.SampleLeaves(rng, numBatches, leafSize)
	if err != nil {
		return nil, err
	}

	var out []Configuration
	for _, leaf := range leaves {
		out = append(out, leaf...)
	}

	return out, nil
}

// SampleLeaves is SampleBatches keeping the leaf structure.
//
// A splice rejected with ErrConstraintViolation is retried with a new fresh
// sample. After MaxSpliceRetries consecutive rejections the leaf is accepted
// short. Any other error aborts.
func (s *RandomSearchSampler) SampleLeaves(rng *rand.Rand, numBatches, leafSize int) ([][]Configuration, error) {
	if leafSize < 1 {
		leafSize = 1
	}

	maxRetries := s.MaxSpliceRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxSpliceRetries
	}

	leaves := make([][]Configuration, 0, numBatches)

	for b := 0; b < numBatches; b++ {
		start, err := s.sampleOne(rng)
		if err != nil {
			return nil, err
		}

		leaf := make([]Configuration, 1, leafSize)
		leaf[0] = start.WithOrigin(OriginRandomSearchBatch)

		failures := 0

		for len(leaf) < leafSize {
			fresh, err := s.sampleOne(rng)
			if err != nil {
				return nil, err
			}

			cfg, err := s.Space.New(s.splice(start, fresh))
			if errors.Is(err, ErrConstraintViolation) {
				failures++
				spliceRetries.Inc()

				if failures >= maxRetries {
					shortLeaves.Inc()
					s.logger().Debug("accepting short batch leaf",
						slog.Int("leaf", b),
						slog.Int("size", len(leaf)),
						slog.Int("want", leafSize),
						slog.Int("violations", failures),
					)

					break
				}

				continue
			}

			if err != nil {
				return nil, fmt.Errorf("batch splice: %w", err)
			}

			failures = 0
			leaf = append(leaf, cfg.WithOrigin(OriginRandomSearchBatch))
		}

		leaves = append(leaves, leaf)
	}

	return leaves, nil
}

func (s *RandomSearchSampler) sampleOne(rng *rand.Rand) (Configuration, error) {
	configs, err := s.Space.Sample(rng, 1)
	if err != nil {
		return Configuration{}, fmt.Errorf("batch random search: %w", err)
	}

	if len(configs) != 1 {
		return Configuration{}, fmt.Errorf("%w: space returned %d configurations, want 1", ErrSampling, len(configs))
	}

	return configs[0], nil
}

// splice merges the constant-step values of start with the variable-step
// values of fresh.
func (s *RandomSearchSampler) splice(start, fresh Configuration) map[string]any {
	constant := stepSet(s.ConstantSteps)
	variable := stepSet(s.VariableSteps)

	values := make(map[string]any, start.Len())

	for _, k := range start.Keys() {
		if _, ok := constant[Step(k)]; ok {
			values[k], _ = start.Get(k)
		}
	}

	for _, k := range fresh.Keys() {
		step := Step(k)

		if _, ok := constant[step]; ok {
			continue
		}

		if len(variable) > 0 {
			if _, ok := variable[step]; !ok {
				continue
			}
		}

		values[k], _ = fresh.Get(k)
	}

	return values
}

func (s *RandomSearchSampler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}

	return s.Logger
}

func stepSet(steps []string) map[string]struct{} {
	out := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		out[s] = struct{}{}
	}

	return out
}
