package pcsmac

import (
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
)

//////
// Const, vars, types.
//////

// DefaultMaxSampleAttempts bounds how many times Space.Sample redraws a
// configuration hitting a forbidden clause before giving up.
const DefaultMaxSampleAttempts = 1000

// numericalNeighbors is the number of neighbors drawn per numerical
// hyperparameter by Space.Neighbors.
const numericalNeighbors = 4

// neighborStdDev is the standard deviation, in normalized [0, 1] units, of
// the gaussian step used for numerical neighbors.
const neighborStdDev = 0.2

// Hyperparameter is one dimension of a configuration space.
//
// Implementations are created with NewCategorical, NewFloat and NewInteger.
type Hyperparameter interface {
	// Name is the namespaced key, e.g. "classifier:sgd:alpha".
	Name() string

	// Default is the value used by the default configuration and for
	// imputing the feature vector when the hyperparameter is inactive.
	Default() any

	sample(rng *rand.Rand) any
	coerce(v any) (any, error)
	normalize(v any) float64
	neighbors(rng *rand.Rand, v any, n int) []any
	validate() error
}

// CategoricalHyperparameter takes one of a finite set of string choices.
type CategoricalHyperparameter struct {
	name    string
	Choices []string
	def     string
}

// NumericalHyperparameter takes a value within a range, optionally sampled
// on a log scale.
//
// Type Parameter:
//   - T: int64 for integer hyperparameters, float64 for real ones
type NumericalHyperparameter[T constraints.Integer | constraints.Float] struct {
	name  string
	Range ParameterRange[T]
	def   T

	// Log samples and normalizes on a logarithmic scale. Requires Min > 0.
	Log bool
}

// Condition activates Child only when Parent is active and takes one of
// Values. Several conditions on the same child must all hold.
type Condition struct {
	Child  string
	Parent string
	Values []any
}

// ForbiddenEquals is one term of a ForbiddenClause.
type ForbiddenEquals struct {
	Key   string
	Value any
}

// ForbiddenClause rejects every configuration matching all of its terms.
type ForbiddenClause []ForbiddenEquals

// Space is a conditional configuration space: hyperparameters, activation
// conditions and forbidden combinations. It implements ConfigurationSpace
// and Neighborhood.
//
// Hyperparameters are kept in declaration order and a condition's parent must
// be declared before its child, so a single ordered pass both samples and
// validates a configuration.
//
// Usage:
//
//	space := NewSpace()
//	_ = space.Add(
//	    NewCategorical("classifier:__choice__", []string{"sgd", "knn"}, "sgd"),
//	    NewFloat("classifier:sgd:alpha", ParameterRange[float64]{Min: 1e-7, Max: 1e-1}, 1e-4, true),
//	)
//	_ = space.AddCondition(Condition{
//	    Child:  "classifier:sgd:alpha",
//	    Parent: "classifier:__choice__",
//	    Values: []any{"sgd"},
//	})
//	configs, err := space.Sample(rng, 10)
type Space struct {
	hps        []Hyperparameter
	index      map[string]int
	conditions map[string][]Condition
	forbidden  []ForbiddenClause

	// MaxSampleAttempts bounds redraws of forbidden samples.
	MaxSampleAttempts int
}

//////
// Hyperparameters.
//////

// Name implements Hyperparameter.
func (h *CategoricalHyperparameter) Name() string { return h.name }

// Default implements Hyperparameter.
func (h *CategoricalHyperparameter) Default() any { return h.def }

func (h *CategoricalHyperparameter) sample(rng *rand.Rand) any {
	return h.Choices[rng.Intn(len(h.Choices))]
}

func (h *CategoricalHyperparameter) coerce(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%q expects a string, got %T", h.name, v)
	}

	if h.indexOf(s) < 0 {
		return nil, fmt.Errorf("%q has no choice %q", h.name, s)
	}

	return s, nil
}

func (h *CategoricalHyperparameter) validate() error {
	if len(h.Choices) == 0 {
		return fmt.Errorf("%q has no choices", h.name)
	}

	return nil
}

func (h *CategoricalHyperparameter) normalize(v any) float64 {
	if len(h.Choices) < 2 {
		return 0
	}

	s, _ := v.(string)

	return float64(h.indexOf(s)) / float64(len(h.Choices)-1)
}

func (h *CategoricalHyperparameter) neighbors(_ *rand.Rand, v any, _ int) []any {
	out := make([]any, 0, len(h.Choices)-1)

	for _, c := range h.Choices {
		if c != v {
			out = append(out, c)
		}
	}

	return out
}

func (h *CategoricalHyperparameter) indexOf(s string) int {
	for i, c := range h.Choices {
		if c == s {
			return i
		}
	}

	return -1
}

// Name implements Hyperparameter.
func (h *NumericalHyperparameter[T]) Name() string { return h.name }

// Default implements Hyperparameter.
func (h *NumericalHyperparameter[T]) Default() any { return normalizeValue(h.def) }

func (h *NumericalHyperparameter[T]) sample(rng *rand.Rand) any {
	return h.fromUnit(rng.Float64())
}

func (h *NumericalHyperparameter[T]) coerce(v any) (any, error) {
	var f float64

	switch x := normalizeValue(v).(type) {
	case int64:
		f = float64(x)
	case float64:
		f = x
	default:
		return nil, fmt.Errorf("%q expects a number, got %T", h.name, v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%q must be finite", h.name)
	}

	if isIntegral[T]() && f != math.Trunc(f) {
		return nil, fmt.Errorf("%q expects an integer, got %v", h.name, f)
	}

	t := T(f)
	if !h.Range.Contains(t) {
		return nil, fmt.Errorf("%q value %v outside [%v, %v]", h.name, f, h.Range.Min, h.Range.Max)
	}

	return normalizeValue(t), nil
}

func (h *NumericalHyperparameter[T]) validate() error {
	if h.Range.Min > h.Range.Max {
		return fmt.Errorf("%q has an empty range [%v, %v]", h.name, h.Range.Min, h.Range.Max)
	}

	if h.Log && h.Range.Min <= 0 {
		return fmt.Errorf("%q log scale needs a positive minimum, got %v", h.name, h.Range.Min)
	}

	return nil
}

func (h *NumericalHyperparameter[T]) normalize(v any) float64 {
	var f float64

	switch x := normalizeValue(v).(type) {
	case int64:
		f = float64(x)
	case float64:
		f = x
	}

	lo, hi := float64(h.Range.Min), float64(h.Range.Max)
	if hi == lo {
		return 0
	}

	if h.Log {
		return (math.Log(f) - math.Log(lo)) / (math.Log(hi) - math.Log(lo))
	}

	return (f - lo) / (hi - lo)
}

func (h *NumericalHyperparameter[T]) neighbors(rng *rand.Rand, v any, n int) []any {
	center := h.normalize(v)
	seen := map[any]bool{normalizeValue(v): true}
	out := make([]any, 0, n)

	for i := 0; i < n; i++ {
		u := center + rng.NormFloat64()*neighborStdDev
		u = math.Max(0, math.Min(1, u))

		cand := h.fromUnit(u)
		if seen[cand] {
			continue
		}

		seen[cand] = true
		out = append(out, cand)
	}

	return out
}

// fromUnit maps u in [0, 1] onto the range, rounding for integer types.
func (h *NumericalHyperparameter[T]) fromUnit(u float64) any {
	lo, hi := float64(h.Range.Min), float64(h.Range.Max)

	var f float64
	if h.Log {
		f = math.Exp(math.Log(lo) + u*(math.Log(hi)-math.Log(lo)))
	} else {
		f = lo + u*(hi-lo)
	}

	if isIntegral[T]() {
		f = math.Round(f)
	}

	f = math.Max(lo, math.Min(hi, f))

	return normalizeValue(T(f))
}

func isIntegral[T constraints.Integer | constraints.Float]() bool {
	var zero T

	switch any(zero).(type) {
	case float32, float64:
		return false
	default:
		return true
	}
}

//////
// Space methods.
//////

// Add appends hyperparameters to the space.
func (s *Space) Add(hps ...Hyperparameter) error {
	for _, hp := range hps {
		if _, dup := s.index[hp.Name()]; dup {
			return fmt.Errorf("%w: duplicate hyperparameter %q", ErrInvalidSpace, hp.Name())
		}

		if err := hp.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpace, err)
		}

		if _, err := hp.coerce(hp.Default()); err != nil {
			return fmt.Errorf("%w: default: %v", ErrInvalidSpace, err)
		}

		s.index[hp.Name()] = len(s.hps)
		s.hps = append(s.hps, hp)
	}

	return nil
}

// AddCondition registers an activation condition. The parent must already
// be declared and precede the child.
func (s *Space) AddCondition(c Condition) error {
	pi, ok := s.index[c.Parent]
	if !ok {
		return fmt.Errorf("%w: unknown condition parent %q", ErrInvalidSpace, c.Parent)
	}

	ci, ok := s.index[c.Child]
	if !ok {
		return fmt.Errorf("%w: unknown condition child %q", ErrInvalidSpace, c.Child)
	}

	if pi >= ci {
		return fmt.Errorf("%w: parent %q must be declared before child %q", ErrInvalidSpace, c.Parent, c.Child)
	}

	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		values[i] = normalizeValue(v)
	}

	c.Values = values
	s.conditions[c.Child] = append(s.conditions[c.Child], c)

	return nil
}

// AddForbidden registers a forbidden combination.
func (s *Space) AddForbidden(clause ...ForbiddenEquals) error {
	if len(clause) == 0 {
		return fmt.Errorf("%w: empty forbidden clause", ErrInvalidSpace)
	}

	normalized := make(ForbiddenClause, len(clause))

	for i, term := range clause {
		if _, ok := s.index[term.Key]; !ok {
			return fmt.Errorf("%w: unknown forbidden key %q", ErrInvalidSpace, term.Key)
		}

		normalized[i] = ForbiddenEquals{Key: term.Key, Value: normalizeValue(term.Value)}
	}

	s.forbidden = append(s.forbidden, normalized)

	return nil
}

// Hyperparameters returns the hyperparameters in declaration order.
func (s *Space) Hyperparameters() []Hyperparameter {
	out := make([]Hyperparameter, len(s.hps))
	copy(out, s.hps)

	return out
}

// Sample implements ConfigurationSpace.
func (s *Space) Sample(rng *rand.Rand, n int) ([]Configuration, error) {
	out := make([]Configuration, 0, n)

	for i := 0; i < n; i++ {
		cfg, err := s.sampleOne(rng)
		if err != nil {
			return nil, err
		}

		out = append(out, cfg)
	}

	return out, nil
}

func (s *Space) sampleOne(rng *rand.Rand) (Configuration, error) {
	attempts := s.MaxSampleAttempts
	if attempts <= 0 {
		attempts = DefaultMaxSampleAttempts
	}

	for a := 0; a < attempts; a++ {
		values := make(map[string]any, len(s.hps))

		for _, hp := range s.hps {
			if s.active(hp.Name(), values) {
				values[hp.Name()] = hp.sample(rng)
			}
		}

		if s.isForbidden(values) {
			continue
		}

		return NewConfiguration(values), nil
	}

	return Configuration{}, fmt.Errorf("%w: no valid configuration after %d attempts", ErrSampling, attempts)
}

// New implements ConfigurationSpace.
func (s *Space) New(values map[string]any) (Configuration, error) {
	for k := range values {
		if _, ok := s.index[k]; !ok {
			return Configuration{}, fmt.Errorf("%w: unknown hyperparameter %q", ErrConstraintViolation, k)
		}
	}

	out := make(map[string]any, len(values))

	for _, hp := range s.hps {
		v, present := values[hp.Name()]

		if !s.active(hp.Name(), out) {
			if present {
				return Configuration{}, fmt.Errorf("%w: inactive hyperparameter %q is set", ErrConstraintViolation, hp.Name())
			}

			continue
		}

		if !present {
			return Configuration{}, fmt.Errorf("%w: active hyperparameter %q is missing", ErrConstraintViolation, hp.Name())
		}

		cv, err := hp.coerce(v)
		if err != nil {
			return Configuration{}, fmt.Errorf("%w: %v", ErrConstraintViolation, err)
		}

		out[hp.Name()] = cv
	}

	if s.isForbidden(out) {
		return Configuration{}, fmt.Errorf("%w: forbidden combination", ErrConstraintViolation)
	}

	return NewConfiguration(out), nil
}

// Vector implements ConfigurationSpace. Every dimension lies in [0, 1];
// inactive hyperparameters are imputed with their default.
func (s *Space) Vector(cfg Configuration) []float64 {
	x := make([]float64, len(s.hps))

	for i, hp := range s.hps {
		if v, ok := cfg.Get(hp.Name()); ok {
			x[i] = hp.normalize(v)
		} else {
			x[i] = hp.normalize(hp.Default())
		}
	}

	return x
}

// Default implements ConfigurationSpace.
func (s *Space) Default() (Configuration, error) {
	values := make(map[string]any, len(s.hps))

	for _, hp := range s.hps {
		if s.active(hp.Name(), values) {
			values[hp.Name()] = hp.Default()
		}
	}

	cfg, err := s.New(values)
	if err != nil {
		return Configuration{}, err
	}

	return cfg.WithOrigin(OriginDefault), nil
}

// Neighbors implements Neighborhood using the one-exchange neighborhood:
// every neighbor differs from cfg in exactly one active hyperparameter, with
// children that become active set to their default and children that become
// inactive removed. Invalid neighbors are skipped.
func (s *Space) Neighbors(rng *rand.Rand, cfg Configuration) []Configuration {
	var out []Configuration

	for _, hp := range s.hps {
		v, ok := cfg.Get(hp.Name())
		if !ok {
			continue
		}

		for _, nv := range hp.neighbors(rng, v, numericalNeighbors) {
			values := cfg.Values()
			values[hp.Name()] = nv

			n, err := s.New(s.repair(values))
			if err != nil {
				continue
			}

			out = append(out, n)
		}
	}

	return out
}

// repair drops values of inactive hyperparameters and fills missing active
// ones with their default.
func (s *Space) repair(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))

	for _, hp := range s.hps {
		if !s.active(hp.Name(), out) {
			continue
		}

		if v, ok := values[hp.Name()]; ok {
			out[hp.Name()] = v
		} else {
			out[hp.Name()] = hp.Default()
		}
	}

	return out
}

// active reports whether every condition on name holds given the values of
// the hyperparameters declared before it.
func (s *Space) active(name string, values map[string]any) bool {
	for _, c := range s.conditions[name] {
		pv, ok := values[c.Parent]
		if !ok {
			return false
		}

		matched := false

		for _, want := range c.Values {
			if pv == want {
				matched = true

				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

func (s *Space) isForbidden(values map[string]any) bool {
	for _, clause := range s.forbidden {
		hit := true

		for _, term := range clause {
			if v, ok := values[term.Key]; !ok || v != term.Value {
				hit = false

				break
			}
		}

		if hit {
			return true
		}
	}

	return false
}

//////
// Factory.
//////

// NewSpace returns an empty configuration space.
func NewSpace() *Space {
	return &Space{
		index:             make(map[string]int),
		conditions:        make(map[string][]Condition),
		MaxSampleAttempts: DefaultMaxSampleAttempts,
	}
}

// NewCategorical creates a categorical hyperparameter. When def is empty the
// first choice is the default.
func NewCategorical(name string, choices []string, def string) *CategoricalHyperparameter {
	if def == "" && len(choices) > 0 {
		def = choices[0]
	}

	return &CategoricalHyperparameter{name: name, Choices: choices, def: def}
}

// NewFloat creates a real-valued hyperparameter.
func NewFloat(name string, r ParameterRange[float64], def float64, log bool) *NumericalHyperparameter[float64] {
	return &NumericalHyperparameter[float64]{name: name, Range: r, def: def, Log: log}
}

// NewInteger creates an integer hyperparameter.
func NewInteger(name string, r ParameterRange[int64], def int64, log bool) *NumericalHyperparameter[int64] {
	return &NumericalHyperparameter[int64]{name: name, Range: r, def: def, Log: log}
}
