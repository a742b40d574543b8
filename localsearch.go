package pcsmac

import (
	"context"
	"fmt"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultLocalSearchSteps bounds the number of improving moves of one local
// search.
const DefaultLocalSearchSteps = 100

// OneExchangeLocalSearch is the reference LocalSearch: first-improvement
// hill climbing over a one-exchange neighborhood.
//
// How it works:
// 1. Scores the start with the acquisition function and caching discounts
// 2. Shuffles the neighbors of the current point with the shared generator
// 3. Moves to the first neighbor scoring strictly higher
// 4. Stops at a local optimum or after MaxSteps moves
//
// The acquisition function must have been updated for the current round.
type OneExchangeLocalSearch struct {
	Space        ConfigurationSpace
	Neighborhood Neighborhood
	Acquisition  AcquisitionFunction

	// MaxSteps bounds the number of moves. Zero means
	// DefaultLocalSearchSteps.
	MaxSteps int
}

// Maximize implements LocalSearch.
func (ls *OneExchangeLocalSearch) Maximize(
	ctx context.Context,
	rng *rand.Rand,
	start Configuration,
	cached []CachedConfiguration,
) (Configuration, []float64, error) {
	_, span := tracer.Start(ctx, "localsearch.maximize")
	defer span.End()

	maxSteps := ls.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultLocalSearchSteps
	}

	values, err := ls.score([]Configuration{start}, cached)
	if err != nil {
		return Configuration{}, nil, err
	}

	current, currentValue := start, values[0]

	steps := 0
	for ; steps < maxSteps; steps++ {
		neighbors := ls.Neighborhood.Neighbors(rng, current)
		if len(neighbors) == 0 {
			break
		}

		rng.Shuffle(len(neighbors), func(i, j int) {
			neighbors[i], neighbors[j] = neighbors[j], neighbors[i]
		})

		scores, err := ls.score(neighbors, cached)
		if err != nil {
			return Configuration{}, nil, err
		}

		improved := false

		for i, v := range scores {
			if v > currentValue {
				current, currentValue = neighbors[i], v
				improved = true

				break
			}
		}

		if !improved {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("localsearch.steps", steps),
		attribute.Float64("localsearch.value", currentValue),
	)

	return current.WithOrigin(OriginLocalSearch), []float64{currentValue}, nil
}

func (ls *OneExchangeLocalSearch) score(configs []Configuration, cached []CachedConfiguration) ([]float64, error) {
	values, err := ls.Acquisition.Evaluate(vectors(ls.Space, configs), CachingDiscounts(configs, cached))
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}

	return values, nil
}
