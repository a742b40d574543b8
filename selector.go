package pcsmac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//////
// Const, vars, types.
//////

// Selector defaults.
const (
	DefaultRandomSearchPoolSize = 1000
	DefaultLocalSearchSeeds     = 10
	DefaultLeafSize             = 1
	DefaultReportTop            = 10
)

// Policy selects the candidate selector variant.
type Policy string

// Selector variants.
const (
	// PolicyPlain interleaves exploitation with uninformed random samples.
	PolicyPlain Policy = "plain"

	// PolicyCacheAware interleaves exploitation with batch leaves sharing a
	// cacheable pipeline prefix.
	PolicyCacheAware Policy = "cache_aware"
)

// IncumbentSeeding decides whether the incumbent seeds a local search.
type IncumbentSeeding string

// Incumbent seeding policies.
const (
	// SeedIncumbentAuto seeds with the incumbent under PolicyPlain only.
	SeedIncumbentAuto   IncumbentSeeding = "auto"
	SeedIncumbentAlways IncumbentSeeding = "always"
	SeedIncumbentNever  IncumbentSeeding = "never"
)

// SelectorConfig controls one CandidateSelector.
type SelectorConfig struct {
	Policy Policy `json:"policy" yaml:"policy" validate:"omitempty,oneof=plain cache_aware"`

	// RandomSearchPoolSize is the number of ranked random configurations
	// drawn per round.
	RandomSearchPoolSize int `json:"random_search_pool_size" yaml:"random_search_pool_size" validate:"gte=0"`

	// LocalSearchSeeds fixes the number of local searches per round. Zero
	// derives it from the configs-per-intensify EMA.
	LocalSearchSeeds int `json:"local_search_seeds" yaml:"local_search_seeds" validate:"gte=0"`

	// LeafSize is the number of configurations per batch leaf
	// (cache-aware only).
	LeafSize int `json:"leaf_size" yaml:"leaf_size" validate:"gte=0"`

	// ConstantSteps and VariableSteps partition the pipeline steps for
	// batch splicing (cache-aware only).
	ConstantSteps []string `json:"constant_steps" yaml:"constant_steps"`
	VariableSteps []string `json:"variable_steps" yaml:"variable_steps"`

	IncumbentSeeding IncumbentSeeding `json:"incumbent_seeding" yaml:"incumbent_seeding" validate:"omitempty,oneof=auto always never"`

	// MaxSpliceRetries bounds consecutive splice violations per leaf.
	MaxSpliceRetries int `json:"max_splice_retries" yaml:"max_splice_retries" validate:"gte=0"`

	// ReportTop is the number of best candidates logged at debug level.
	ReportTop int `json:"report_top" yaml:"report_top" validate:"gte=0"`
}

// SelectorDeps are the collaborators of a CandidateSelector.
type SelectorDeps struct {
	Space       ConfigurationSpace
	Model       SurrogateModel
	Acquisition AcquisitionFunction
	LocalSearch LocalSearch
	History     RunHistory

	// Stats supplies the EMA used to size the seed list. Optional.
	Stats StatsProvider

	Logger *slog.Logger
}

// CandidateSelector turns the run history into an ordered challenger list.
//
// One round:
// 1. Fits the surrogate on (X, Y)
// 2. Updates the acquisition function with the incumbent cost (eta)
// 3. Ranks RandomSearchPoolSize random configurations
// 4. Runs local search from the incumbent (per IncumbentSeeding) and the
// best previously evaluated configurations
// 5. Merges both lists best first (exploitation)
// 6. Interleaves exploitation with an equally sized exploration list
//
// Rounds are deterministic for a seeded generator and fixed inputs.
type CandidateSelector struct {
	cfg     SelectorConfig
	deps    SelectorDeps
	sampler *RandomSearchSampler
	rng     *rand.Rand
	logger  *slog.Logger
}

//////
// Methods.
//////

// ChooseNext runs one selection round.
//
// Errors wrap ErrModelFitting, ErrAcquisitionEvaluation or ErrSampling and
// are fatal for the run.
func (s *CandidateSelector) ChooseNext(
	ctx context.Context,
	X [][]float64,
	Y []float64,
	incumbent Configuration,
) ([]Configuration, error) {
	ctx, span := tracer.Start(ctx, "selector.choose_next")
	defer span.End()

	span.SetAttributes(
		attribute.String("selector.policy", string(s.cfg.Policy)),
		attribute.Int("selector.observations", len(Y)),
	)

	start := time.Now()

	challengers, err := s.chooseNext(ctx, X, Y, incumbent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	selectionLatency.WithLabelValues(string(s.cfg.Policy)).Observe(time.Since(start).Seconds())
	recordChallengers(challengers)

	span.SetAttributes(attribute.Int("selector.challengers", len(challengers)))

	return challengers, nil
}

func (s *CandidateSelector) chooseNext(
	ctx context.Context,
	X [][]float64,
	Y []float64,
	incumbent Configuration,
) ([]Configuration, error) {
	if err := s.deps.Model.Train(X, Y); err != nil {
		return nil, wrapSentinel(ErrModelFitting, err)
	}

	eta := s.Eta(incumbent)
	s.deps.Acquisition.Update(s.deps.Model, eta)

	ranked, err := s.sampler.SampleRanked(s.rng, s.cfg.RandomSearchPoolSize)
	if err != nil {
		return nil, err
	}

	seeds, err := s.seeds(incumbent, ranked)
	if err != nil {
		return nil, err
	}

	local, err := s.localSearch(ctx, seeds)
	if err != nil {
		return nil, err
	}

	merged := make([]Candidate, 0, len(ranked)+len(local))
	merged = append(merged, ranked...)
	merged = append(merged, local...)
	sortCandidates(merged)

	s.report(merged, eta)

	exploit := make([]Configuration, len(merged))
	for i, c := range merged {
		exploit[i] = c.Config
	}

	if s.cfg.Policy == PolicyCacheAware {
		leaves, err := s.sampler.SampleLeaves(s.rng, len(exploit), s.cfg.LeafSize)
		if err != nil {
			return nil, err
		}

		return interleaveLeaves(exploit, leaves), nil
	}

	explore, err := s.sampler.Sample(s.rng, len(exploit))
	if err != nil {
		return nil, err
	}

	return interleave(exploit, explore), nil
}

// Eta returns the reference cost for improvement-based criteria: zero for
// an empty history or no incumbent, the incumbent's cost otherwise. An
// incumbent without a recorded cost also yields zero.
func (s *CandidateSelector) Eta(incumbent Configuration) float64 {
	if s.deps.History == nil || s.deps.History.Empty() || incumbent.IsZero() {
		return 0
	}

	cost, ok := s.deps.History.Cost(incumbent)
	if !ok {
		s.logger.Warn("incumbent has no recorded cost, using eta 0",
			slog.String("incumbent", incumbent.String()),
		)

		return 0
	}

	return cost
}

// SeedCount returns the number of local searches for the next round.
func (s *CandidateSelector) SeedCount() int {
	if s.cfg.LocalSearchSeeds > 0 {
		return s.cfg.LocalSearchSeeds
	}

	if s.deps.Stats == nil {
		return DefaultLocalSearchSeeds
	}

	ema := s.deps.Stats.EMAConfigsPerIntensify()
	if ema <= 0 {
		return DefaultLocalSearchSeeds
	}

	return min(DefaultLocalSearchSeeds, int(math.Ceil(0.5*ema))+1)
}

func (s *CandidateSelector) seedsIncumbent() bool {
	switch s.cfg.IncumbentSeeding {
	case SeedIncumbentAlways:
		return true
	case SeedIncumbentNever:
		return false
	default:
		return s.cfg.Policy != PolicyCacheAware
	}
}

// seeds assembles the local-search starting points: the incumbent, the best
// previously evaluated configurations, then (plain only) the top of ranked.
func (s *CandidateSelector) seeds(incumbent Configuration, ranked []Candidate) ([]Configuration, error) {
	n := s.SeedCount()
	out := make([]Configuration, 0, n)
	seen := make(map[string]struct{}, n)

	add := func(c Configuration) {
		if len(out) >= n {
			return
		}

		if _, dup := seen[c.Key()]; dup {
			return
		}

		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}

	if s.seedsIncumbent() && !incumbent.IsZero() {
		add(incumbent)
	}

	if s.deps.History != nil {
		previous, err := s.sampler.Rank(s.rng, s.deps.History.AllConfigurations(), OriginPreviousRun)
		if err != nil {
			return nil, err
		}

		for _, c := range previous {
			add(c.Config)
		}
	}

	if s.cfg.Policy != PolicyCacheAware {
		for _, c := range ranked {
			add(c.Config)
		}
	}

	return out, nil
}

// localSearch maximizes from every seed and returns the optima best first.
func (s *CandidateSelector) localSearch(ctx context.Context, seeds []Configuration) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "selector.local_search")
	defer span.End()

	span.SetAttributes(attribute.Int("localsearch.seeds", len(seeds)))

	var cached []CachedConfiguration
	if s.deps.History != nil {
		cached = s.deps.History.CachedConfigurations()
	}

	out := make([]Candidate, 0, len(seeds))

	for i, seed := range seeds {
		optimum, values, err := s.deps.LocalSearch.Maximize(ctx, s.rng, seed, cached)
		if err != nil {
			return nil, wrapSentinel(ErrAcquisitionEvaluation, fmt.Errorf("local search from seed %d: %w", i, err))
		}

		if len(values) == 0 || math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
			return nil, fmt.Errorf("%w: local search from seed %d returned no finite value", ErrAcquisitionEvaluation, i)
		}

		out = append(out, Candidate{Value: values[0], Config: optimum.WithOrigin(OriginLocalSearch)})
	}

	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	sortCandidates(out)

	return out, nil
}

func (s *CandidateSelector) report(merged []Candidate, eta float64) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	top := merged[:min(s.cfg.ReportTop, len(merged))]

	attrs := make([]any, 0, len(top)+1)
	attrs = append(attrs, slog.Float64("eta", eta))

	for i, c := range top {
		attrs = append(attrs, slog.Group(fmt.Sprintf("rank_%d", i+1),
			slog.Float64("value", c.Value),
			slog.String("origin", string(c.Config.Origin)),
		))
	}

	s.logger.Debug("best acquisition values", attrs...)
}

// interleave alternates exploitation and exploration 1:1.
func interleave(exploit, explore []Configuration) []Configuration {
	out := make([]Configuration, 0, len(exploit)+len(explore))

	for i := 0; i < max(len(exploit), len(explore)); i++ {
		if i < len(exploit) {
			out = append(out, exploit[i])
		}

		if i < len(explore) {
			out = append(out, explore[i])
		}
	}

	return out
}

// interleaveLeaves places every exploitation candidate before one whole
// leaf, keeping siblings adjacent.
func interleaveLeaves(exploit []Configuration, leaves [][]Configuration) []Configuration {
	out := make([]Configuration, 0, 2*len(exploit))

	for i := 0; i < max(len(exploit), len(leaves)); i++ {
		if i < len(exploit) {
			out = append(out, exploit[i])
		}

		if i < len(leaves) {
			out = append(out, leaves[i]...)
		}
	}

	return out
}

// wrapSentinel wraps err with sentinel unless it already matches it.
func wrapSentinel(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}

	return fmt.Errorf("%w: %w", sentinel, err)
}

// withDefaults fills zero fields.
func (c SelectorConfig) withDefaults() SelectorConfig {
	if c.Policy == "" {
		c.Policy = PolicyPlain
	}

	if c.RandomSearchPoolSize == 0 {
		c.RandomSearchPoolSize = DefaultRandomSearchPoolSize
	}

	if c.LeafSize == 0 {
		c.LeafSize = DefaultLeafSize
	}

	if c.IncumbentSeeding == "" {
		c.IncumbentSeeding = SeedIncumbentAuto
	}

	if c.MaxSpliceRetries == 0 {
		c.MaxSpliceRetries = DefaultMaxSpliceRetries
	}

	if c.ReportTop == 0 {
		c.ReportTop = DefaultReportTop
	}

	return c
}

//////
// Factory.
//////

// DefaultSelectorConfig returns the plain policy with its defaults.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{}.withDefaults()
}

// NewCandidateSelector validates the collaborators and returns a selector
// drawing every random number from rng.
func NewCandidateSelector(cfg SelectorConfig, deps SelectorDeps, rng *rand.Rand) (*CandidateSelector, error) {
	cfg = cfg.withDefaults()

	switch {
	case deps.Space == nil:
		return nil, fmt.Errorf("%w: selector needs a configuration space", ErrInvalidConfig)
	case deps.Model == nil:
		return nil, fmt.Errorf("%w: selector needs a surrogate model", ErrInvalidConfig)
	case deps.Acquisition == nil:
		return nil, fmt.Errorf("%w: selector needs an acquisition function", ErrInvalidConfig)
	case deps.LocalSearch == nil:
		return nil, fmt.Errorf("%w: selector needs a local search", ErrInvalidConfig)
	case rng == nil:
		return nil, fmt.Errorf("%w: selector needs a random generator", ErrInvalidConfig)
	}

	if cfg.Policy != PolicyPlain && cfg.Policy != PolicyCacheAware {
		return nil, fmt.Errorf("%w: unknown selector policy %q", ErrInvalidConfig, cfg.Policy)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CandidateSelector{
		cfg:  cfg,
		deps: deps,
		sampler: &RandomSearchSampler{
			Space:            deps.Space,
			Acquisition:      deps.Acquisition,
			History:          deps.History,
			ConstantSteps:    cfg.ConstantSteps,
			VariableSteps:    cfg.VariableSteps,
			MaxSpliceRetries: cfg.MaxSpliceRetries,
			Logger:           logger,
		},
		rng:    rng,
		logger: logger,
	}, nil
}
