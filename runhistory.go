package pcsmac

import (
	"fmt"
	"math"
	"strconv"
	"sync"
)

//////
// Const, vars, types.
//////

// History is the reference in-memory RunStore.
//
// Runs are kept in insertion order. A configuration's cost is the aggregate
// (AverageCost unless set otherwise) of all its recorded costs. Identical
// runs, i.e. same run ID, configuration, instance and seed, are stored once,
// which makes merging shared snapshots repeatedly safe.
//
// Thread safety:
// - All fields are protected by the RWMutex
type History struct {
	mu sync.RWMutex

	runs    []RunRecord
	seen    map[string]struct{}
	byCfg   map[string][]int
	configs []Configuration

	cached     []CachedConfiguration
	cachedSeen map[string]struct{}

	aggregate AggregateFunc
}

// CostTransformer is the reference HistoryTransformer. It encodes every
// configuration of the history with the space and pairs it with its
// aggregate cost.
type CostTransformer struct {
	Space ConfigurationSpace

	// LogScale maps costs through log(cost - min + 1) so heavy-tailed costs
	// do not dominate the surrogate.
	LogScale bool
}

//////
// History methods.
//////

// Empty implements RunHistory.
func (h *History) Empty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.runs) == 0
}

// Cost implements RunHistory.
func (h *History) Cost(cfg Configuration) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	idx, ok := h.byCfg[cfg.Key()]
	if !ok {
		return 0, false
	}

	return h.aggregate(h.costsLocked(idx)), true
}

// Costs implements RunStore.
func (h *History) Costs(cfg Configuration) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.costsLocked(h.byCfg[cfg.Key()])
}

func (h *History) costsLocked(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = h.runs[j].Cost
	}

	return out
}

// AllConfigurations implements RunHistory. Configurations are returned in
// the order they were first run.
func (h *History) AllConfigurations() []Configuration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Configuration, len(h.configs))
	copy(out, h.configs)

	return out
}

// CachedConfigurations implements RunHistory.
func (h *History) CachedConfigurations() []CachedConfiguration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]CachedConfiguration, len(h.cached))
	copy(out, h.cached)

	return out
}

// Runs implements RunStore.
func (h *History) Runs() []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RunRecord, len(h.runs))
	copy(out, h.runs)

	return out
}

// Add implements RunStore.
func (h *History) Add(rec RunRecord) error {
	if rec.Config.IsZero() {
		return fmt.Errorf("%w: empty configuration", ErrInvalidRecord)
	}

	if math.IsNaN(rec.Cost) || math.IsInf(rec.Cost, 0) {
		return fmt.Errorf("%w: non-finite cost %v", ErrInvalidRecord, rec.Cost)
	}

	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	key := rec.Config.Key()
	id := rec.RunID + "|" + key + "|" + rec.Instance + "|" + strconv.FormatInt(rec.Seed, 10)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.seen[id]; dup {
		return nil
	}

	h.seen[id] = struct{}{}

	if _, known := h.byCfg[key]; !known {
		h.configs = append(h.configs, rec.Config)
	}

	h.byCfg[key] = append(h.byCfg[key], len(h.runs))
	h.runs = append(h.runs, rec)

	return nil
}

// AddCached implements RunStore. Records equal to a stored one are ignored.
func (h *History) AddCached(rec CachedConfiguration) error {
	if rec.Discount < 0 || math.IsNaN(rec.Discount) || math.IsInf(rec.Discount, 0) {
		return fmt.Errorf("%w: caching discount must be finite and non-negative, got %v", ErrInvalidRecord, rec.Discount)
	}

	values := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = normalizeValue(v)
	}

	rec.Values = values
	id := NewConfiguration(values).Key() + "|" + strconv.FormatFloat(rec.Discount, 'g', -1, 64)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.cachedSeen[id]; dup {
		return nil
	}

	h.cachedSeen[id] = struct{}{}
	h.cached = append(h.cached, rec)

	return nil
}

// Incumbent returns the configuration with the lowest aggregate cost, or
// false for an empty history. Ties keep the earliest configuration.
func (h *History) Incumbent() (Configuration, float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		best     Configuration
		bestCost = math.Inf(1)
		found    bool
	)

	for _, cfg := range h.configs {
		c := h.aggregate(h.costsLocked(h.byCfg[cfg.Key()]))
		if !found || c < bestCost {
			best, bestCost, found = cfg, c, true
		}
	}

	return best, bestCost, found
}

//////
// Transformer methods.
//////

// Transform implements HistoryTransformer.
func (t CostTransformer) Transform(rh RunHistory) ([][]float64, []float64, error) {
	configs := rh.AllConfigurations()

	features := make([][]float64, 0, len(configs))
	costs := make([]float64, 0, len(configs))

	for _, cfg := range configs {
		c, ok := rh.Cost(cfg)
		if !ok {
			continue
		}

		features = append(features, t.Space.Vector(cfg))
		costs = append(costs, c)
	}

	if t.LogScale && len(costs) > 0 {
		lo := costs[0]
		for _, c := range costs {
			lo = math.Min(lo, c)
		}

		for i, c := range costs {
			costs[i] = math.Log(c - lo + 1)
		}
	}

	return features, costs, nil
}

//////
// Factory.
//////

// NewHistory returns an empty history aggregating costs with aggregate. A
// nil aggregate means AverageCost.
func NewHistory(aggregate AggregateFunc) *History {
	if aggregate == nil {
		aggregate = AverageCost
	}

	return &History{
		seen:       make(map[string]struct{}),
		byCfg:      make(map[string][]int),
		cachedSeen: make(map[string]struct{}),
		aggregate:  aggregate,
	}
}
