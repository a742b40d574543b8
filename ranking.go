package pcsmac

import (
	"math/rand"
	"sort"
)

// rankCandidates pairs configs with their acquisition values and orders them
// by value, highest first. Exactly equal values are ordered by one uniform
// draw per candidate, taken from rng in input order, so the tie-break is
// random yet reproducible for a seeded generator.
//
// Every returned configuration carries origin.
func rankCandidates(rng *rand.Rand, configs []Configuration, values []float64, origin Origin) []Candidate {
	keys := make([]float64, len(configs))
	for i := range keys {
		keys[i] = rng.Float64()
	}

	idx := make([]int, len(configs))
	for i := range idx {
		idx[i] = i
	}

	sort.Slice(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if values[i] != values[j] {
			return values[i] > values[j]
		}

		return keys[i] > keys[j]
	})

	out := make([]Candidate, len(idx))
	for n, i := range idx {
		out[n] = Candidate{Value: values[i], Config: configs[i].WithOrigin(origin)}
	}

	return out
}

// sortCandidates orders candidates by value, highest first, keeping the
// current order of equal values.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].Value > cands[b].Value
	})
}
