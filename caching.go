package pcsmac

//////
// Caching discounts.
//////

// CachingDiscount returns how much of cfg's cost is already paid for by
// cached pipeline prefixes.
//
// A record contributes its Discount iff cfg holds an equal value for every
// key of the record's partial configuration; a key missing from cfg counts as
// a mismatch. The result is the sum over all records, since a configuration
// can reuse several disjoint cached prefixes at once.
//
// Usage example:
//
//	records := rh.CachedConfigurations()
//	bonus := CachingDiscount(cfg, records)
//
// Complexity: O(records × keys per record).
func CachingDiscount(cfg Configuration, records []CachedConfiguration) float64 {
	var total float64

	for _, rec := range records {
		if matchesPrefix(cfg, rec) {
			total += rec.Discount
		}
	}

	return total
}

// CachingDiscounts computes CachingDiscount for each configuration.
func CachingDiscounts(configs []Configuration, records []CachedConfiguration) []float64 {
	out := make([]float64, len(configs))

	if len(records) == 0 {
		return out
	}

	for i, cfg := range configs {
		out[i] = CachingDiscount(cfg, records)
	}

	return out
}

func matchesPrefix(cfg Configuration, rec CachedConfiguration) bool {
	for k, want := range rec.Values {
		got, ok := cfg.Get(k)
		if !ok || got != normalizeValue(want) {
			return false
		}
	}

	return true
}
