package pcsmac

import (
	"fmt"
	"sort"
	"strings"
)

//////
// Const, vars, types.
//////

// Origin records which generation strategy produced a configuration.
type Origin string

// Known origins.
const (
	OriginRandomSearch       Origin = "Random Search"
	OriginRandomSearchSorted Origin = "Random Search (Sorted)"
	OriginRandomSearchBatch  Origin = "Random Search (Batch)"
	OriginLocalSearch        Origin = "Local Search"
	OriginPreviousRun        Origin = "Previous Run"
	OriginDefault            Origin = "Default"
	OriginInitialDesign      Origin = "Initial Design"
)

// KeySeparator separates the namespace segments of a hyperparameter key, e.g.
// "classifier:random_forest:max_features".
const KeySeparator = ":"

// Configuration is an immutable, ordered mapping from namespaced
// hyperparameter keys to values, plus the provenance label of the strategy
// that produced it.
//
// Values are normalized on construction: every integer kind becomes int64,
// float32 becomes float64; strings and bools are kept as is. This makes plain
// `==` comparison safe for every stored value.
//
// The zero value is the empty configuration and is used to mean "none", e.g.
// no incumbent yet.
//
// Usage:
//
//	cfg := NewConfiguration(map[string]any{
//	    "rescaling:__choice__":  "standard",
//	    "classifier:__choice__": "sgd",
//	})
//	cfg = cfg.WithOrigin(OriginRandomSearch)
type Configuration struct {
	keys   []string
	values map[string]any

	// Origin is the provenance label. It is informational only and takes no
	// part in equality.
	Origin Origin
}

//////
// Methods.
//////

// Get returns the value stored for key.
func (c Configuration) Get(key string) (any, bool) {
	v, ok := c.values[key]

	return v, ok
}

// Keys returns the keys in their canonical (sorted) order. The returned
// slice is a copy.
func (c Configuration) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)

	return out
}

// Values returns a copy of the key/value mapping.
func (c Configuration) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}

	return out
}

// Len returns the number of active hyperparameters.
func (c Configuration) Len() int { return len(c.keys) }

// IsZero reports whether c is the empty configuration.
func (c Configuration) IsZero() bool { return len(c.keys) == 0 }

// WithOrigin returns a copy of c carrying origin. The receiver is left
// untouched.
func (c Configuration) WithOrigin(origin Origin) Configuration {
	c.Origin = origin

	return c
}

// Equal reports whether both configurations hold the same keys with equal
// values. Origins are ignored.
func (c Configuration) Equal(other Configuration) bool {
	if len(c.keys) != len(other.keys) {
		return false
	}

	for _, k := range c.keys {
		v, ok := other.values[k]
		if !ok || v != c.values[k] {
			return false
		}
	}

	return true
}

// Key returns a canonical string identity for c, suitable as a map key.
// Two configurations have the same Key iff they are Equal.
func (c Configuration) Key() string {
	var b strings.Builder

	for i, k := range c.keys {
		if i > 0 {
			b.WriteByte(';')
		}

		fmt.Fprintf(&b, "%s=%T:%v", k, c.values[k], c.values[k])
	}

	return b.String()
}

// String implements fmt.Stringer.
func (c Configuration) String() string {
	var b strings.Builder

	b.WriteString("Configuration(")

	for i, k := range c.keys {
		if i > 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%s=%v", k, c.values[k])
	}

	b.WriteString(")")

	return b.String()
}

// Step returns the pipeline step a namespaced key belongs to, i.e. the first
// segment of the key.
func Step(key string) string {
	if i := strings.Index(key, KeySeparator); i >= 0 {
		return key[:i]
	}

	return key
}

//////
// Factory.
//////

// NewConfiguration builds a Configuration from values without validating it
// against a space. Use ConfigurationSpace.New for validated construction.
func NewConfiguration(values map[string]any) Configuration {
	c := Configuration{
		keys:   make([]string, 0, len(values)),
		values: make(map[string]any, len(values)),
	}

	for k, v := range values {
		c.keys = append(c.keys, k)
		c.values[k] = normalizeValue(v)
	}

	sort.Strings(c.keys)

	return c
}

// normalizeValue maps every supported value onto a comparable canonical type.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64, string, bool:
		return x
	default:
		return fmt.Sprint(x)
	}
}
