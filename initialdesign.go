package pcsmac

import (
	"context"
	"fmt"
	"math/rand"
)

// DefaultInitialDesign evaluates the default configuration of the space and
// makes it the first incumbent.
type DefaultInitialDesign struct {
	Space  ConfigurationSpace
	Runner *Runner
}

// Run implements InitialDesign.
func (d *DefaultInitialDesign) Run(ctx context.Context, _ *rand.Rand) (Configuration, error) {
	cfg, err := d.Space.Default()
	if err != nil {
		return Configuration{}, fmt.Errorf("initial design: %w", err)
	}

	cfg = cfg.WithOrigin(OriginDefault)

	if _, err := d.Runner.Run(ctx, cfg); err != nil {
		return Configuration{}, fmt.Errorf("initial design: %w", err)
	}

	return cfg, nil
}

// RandomInitialDesign evaluates Size random configurations and returns the
// cheapest.
type RandomInitialDesign struct {
	Space  ConfigurationSpace
	Runner *Runner
	Size   int
}

// Run implements InitialDesign.
func (d *RandomInitialDesign) Run(ctx context.Context, rng *rand.Rand) (Configuration, error) {
	n := max(d.Size, 1)

	configs, err := d.Space.Sample(rng, n)
	if err != nil {
		return Configuration{}, fmt.Errorf("initial design: %w", err)
	}

	var (
		best     Configuration
		bestCost float64
	)

	for i, cfg := range configs {
		cfg = cfg.WithOrigin(OriginInitialDesign)

		cost, err := d.Runner.Run(ctx, cfg)
		if err != nil {
			return Configuration{}, fmt.Errorf("initial design: %w", err)
		}

		if i == 0 || cost < bestCost {
			best, bestCost = cfg, cost
		}
	}

	return best, nil
}
