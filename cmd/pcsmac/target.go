package main

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/thalesfsp/pcsmac"
	"github.com/thalesfsp/pcsmac/pipeline"
)

// stepRuntime is the simulated training time of one pipeline step.
const stepRuntime = 100 * time.Millisecond

// syntheticTarget scores pipelines with a deterministic function of their
// nodes and hyperparameters and simulates runtimes. Steps of the constant
// prefix are charged only the first time a prefix is seen; afterwards the
// prefix is reported as cached.
type syntheticTarget struct {
	pipeline *pipeline.Pipeline
	constant []string

	mu   sync.Mutex
	seen map[string]struct{}
}

func newSyntheticTarget(p *pipeline.Pipeline, constant []string) *syntheticTarget {
	return &syntheticTarget{
		pipeline: p,
		constant: constant,
		seen:     make(map[string]struct{}),
	}
}

// Evaluate implements pcsmac.TargetFunc.
func (t *syntheticTarget) Evaluate(ctx context.Context, cfg pcsmac.Configuration) (pcsmac.TargetResult, error) {
	if err := ctx.Err(); err != nil {
		return pcsmac.TargetResult{}, err
	}

	instances, err := t.pipeline.Instantiate(cfg)
	if err != nil {
		return pcsmac.TargetResult{}, err
	}

	var cost float64
	for _, inst := range instances {
		cost += nodeCost(inst)
	}

	prefix := pipeline.Prefix(cfg, t.constant)
	prefixKey := pcsmac.NewConfiguration(prefix).Key()
	prefixRuntime := time.Duration(len(t.constant)) * stepRuntime

	t.mu.Lock()
	_, cached := t.seen[prefixKey]
	t.seen[prefixKey] = struct{}{}
	t.mu.Unlock()

	runtime := time.Duration(len(instances)-len(t.constant)) * stepRuntime
	if !cached {
		runtime += prefixRuntime
	}

	return pcsmac.TargetResult{
		Cost:    cost,
		Runtime: runtime,
		Cached: []pcsmac.CachedConfiguration{{
			Values:   prefix,
			Discount: prefixRuntime.Seconds(),
		}},
	}, nil
}

// nodeCost is a fixed base per node plus a smooth penalty per
// hyperparameter, each with its own optimum.
func nodeCost(inst pipeline.Instance) float64 {
	cost := 0.2 * unit(inst.Step+pcsmac.KeySeparator+inst.Node)

	keys := make([]string, 0, len(inst.Params))
	for k := range inst.Params {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		name := inst.Step + pcsmac.KeySeparator + inst.Node + pcsmac.KeySeparator + k

		switch v := inst.Params[k].(type) {
		case float64:
			cost += 0.05 * (1 - math.Cos(math.Log1p(math.Abs(v))-3*unit(name)))
		case int64:
			cost += 0.05 * (1 - math.Cos(math.Log1p(math.Abs(float64(v)))-3*unit(name)))
		case string:
			cost += 0.02 * unit(name+"="+v)
		}
	}

	return cost
}

// unit hashes s onto [0, 1).
func unit(s string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))

	return float64(h.Sum64()%1_000_000) / 1_000_000
}
