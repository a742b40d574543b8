package pcsmac

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// DefaultMinTimeBound is the floor of the per-round intensification time
// bound.
const DefaultMinTimeBound = 10 * time.Millisecond

// Config is the complete optimizer configuration.
//
// Load it with LoadConfig or start from DefaultConfig and adjust fields:
//
//	cfg := DefaultConfig()
//	cfg.Budget.MaxRuns = 200
//	cfg.Selector.Policy = PolicyCacheAware
//	cfg.Selector.ConstantSteps = []string{"imputation", "feature_preprocessor"}
type Config struct {
	// Seed seeds the run's single random generator. Zero picks a time-based
	// seed.
	Seed int64 `json:"seed" yaml:"seed"`

	Budget        Budget              `json:"budget" yaml:"budget"`
	Selector      SelectorConfig      `json:"selector" yaml:"selector"`
	Acquisition   AcquisitionConfig   `json:"acquisition" yaml:"acquisition"`
	Model         ModelConfig         `json:"model" yaml:"model"`
	LocalSearch   LocalSearchConfig   `json:"local_search" yaml:"local_search"`
	Loop          LoopConfig          `json:"loop" yaml:"loop"`
	Shared        SharedConfig        `json:"shared" yaml:"shared"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// CrashCost is recorded for failed target executions.
	CrashCost float64 `json:"crash_cost" yaml:"crash_cost" validate:"gt=0"`

	// Cutoff bounds a single target execution. Zero means no bound.
	Cutoff time.Duration `json:"cutoff" yaml:"cutoff" validate:"gte=0"`

	// ProgressChan receives one update per iteration. Sends never block:
	// updates are dropped while the channel is full.
	ProgressChan chan<- ProgressUpdate `json:"-" yaml:"-"`
}

// AcquisitionConfig selects and parameterizes the acquisition criterion.
type AcquisitionConfig struct {
	// Criterion is one of ei, pi, lcb (ucb) or ts.
	Criterion string `json:"criterion" yaml:"criterion" validate:"oneof=ei pi lcb ucb ts"`

	Beta float64 `json:"beta" yaml:"beta" validate:"gte=0"`
	Xi   float64 `json:"xi" yaml:"xi" validate:"gte=0"`

	// DiscountWeight scales caching discounts. Zero ignores them.
	DiscountWeight float64 `json:"discount_weight" yaml:"discount_weight" validate:"gte=0"`
}

// ModelConfig parameterizes the surrogate.
type ModelConfig struct {
	// Sigma is the RBF kernel width over normalized features.
	Sigma float64 `json:"sigma" yaml:"sigma" validate:"gt=0"`

	// LogCosts trains on log-scaled costs.
	LogCosts bool `json:"log_costs" yaml:"log_costs"`
}

// LocalSearchConfig parameterizes the reference local search.
type LocalSearchConfig struct {
	MaxSteps int `json:"max_steps" yaml:"max_steps" validate:"gte=1"`
}

// LoopConfig controls the optimization loop.
type LoopConfig struct {
	// MinTimeBound floors the per-round intensification time bound.
	MinTimeBound time.Duration `json:"min_time_bound" yaml:"min_time_bound" validate:"gt=0"`

	// MaxIterations stops the loop after that many rounds. Zero relies on
	// the budget alone.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gte=0"`

	// InitialDesign is "default" or "random".
	InitialDesign string `json:"initial_design" yaml:"initial_design" validate:"oneof=default random"`

	// InitialDesignSize is the number of random configurations of the
	// random initial design.
	InitialDesignSize int `json:"initial_design_size" yaml:"initial_design_size" validate:"gte=1"`

	// MinChallengers is raced per round regardless of the time bound.
	MinChallengers int `json:"min_challengers" yaml:"min_challengers" validate:"gte=1"`
}

// SharedConfig enables run-history exchange between optimizer instances.
type SharedConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Dir is the shared storage location.
	Dir string `json:"dir" yaml:"dir" validate:"required_if=Enabled true"`

	// RunID identifies this instance. Empty generates one.
	RunID string `json:"run_id" yaml:"run_id"`
}

// ObservabilityConfig controls logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`

	// Tracing exports spans to stdout.
	Tracing bool `json:"tracing" yaml:"tracing"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Budget: Budget{
			MaxRuns: 100,
		},
		Selector: DefaultSelectorConfig(),
		Acquisition: AcquisitionConfig{
			Criterion:      "ei",
			Beta:           2.0,
			Xi:             0.0,
			DiscountWeight: 1.0,
		},
		Model: ModelConfig{
			Sigma: 0.5,
		},
		LocalSearch: LocalSearchConfig{
			MaxSteps: DefaultLocalSearchSteps,
		},
		Loop: LoopConfig{
			MinTimeBound:      DefaultMinTimeBound,
			InitialDesign:     "default",
			InitialDesignSize: 1,
			MinChallengers:    DefaultMinChallengers,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
		CrashCost:    DefaultCrashCost,
		ProgressChan: nil, // Default to no progress updates.
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Parameters:
// - path: YAML or JSON file. Empty or missing files leave the defaults.
//
// Returns:
// - Config: the merged configuration
// - error: wraps ErrInvalidConfig when the file cannot be parsed or the
// result fails validation
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ReadConfig is LoadConfig without validation, for callers that complete
// the configuration first (e.g. deriving constant steps from a pipeline).
// Optimize validates it anyway.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: load config file: %w", ErrInvalidConfig, err)
		}
	}

	loadConfigFromEnv(&cfg)

	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("PCSMAC_SEED"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = i
		}
	}

	// Budget
	if v := os.Getenv("PCSMAC_MAX_RUNS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxRuns = i
		}
	}
	if v := os.Getenv("PCSMAC_WALL_CLOCK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Budget.WallClock = d
		}
	}
	if v := os.Getenv("PCSMAC_ALGORITHM_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Budget.AlgorithmTime = d
		}
	}

	// Selector
	if v := os.Getenv("PCSMAC_POLICY"); v != "" {
		cfg.Selector.Policy = Policy(v)
	}
	if v := os.Getenv("PCSMAC_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Selector.RandomSearchPoolSize = i
		}
	}
	if v := os.Getenv("PCSMAC_LOCAL_SEARCH_SEEDS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Selector.LocalSearchSeeds = i
		}
	}
	if v := os.Getenv("PCSMAC_LEAF_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Selector.LeafSize = i
		}
	}
	if v := os.Getenv("PCSMAC_MAX_SPLICE_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Selector.MaxSpliceRetries = i
		}
	}
	if v := os.Getenv("PCSMAC_INCUMBENT_SEEDING"); v != "" {
		cfg.Selector.IncumbentSeeding = IncumbentSeeding(v)
	}
	if v := os.Getenv("PCSMAC_CONSTANT_STEPS"); v != "" {
		cfg.Selector.ConstantSteps = strings.Split(v, ",")
	}

	// Acquisition
	if v := os.Getenv("PCSMAC_ACQUISITION"); v != "" {
		cfg.Acquisition.Criterion = strings.ToLower(v)
	}

	// Loop
	if v := os.Getenv("PCSMAC_MIN_TIME_BOUND"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.MinTimeBound = d
		}
	}
	if v := os.Getenv("PCSMAC_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxIterations = i
		}
	}

	// Shared
	if v := os.Getenv("PCSMAC_SHARED_ENABLED"); v != "" {
		cfg.Shared.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PCSMAC_SHARED_DIR"); v != "" {
		cfg.Shared.Dir = v
	}
	if v := os.Getenv("PCSMAC_RUN_ID"); v != "" {
		cfg.Shared.RunID = v
	}

	// Observability
	if v := os.Getenv("PCSMAC_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("PCSMAC_TRACING"); v != "" {
		cfg.Observability.Tracing = v == "true" || v == "1"
	}
	if v := os.Getenv("PCSMAC_METRICS_ADDR"); v != "" {
		cfg.Observability.MetricsAddr = v
	}
}

// Validate checks struct tags and cross-field rules. Errors wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := CriterionByName(c.Acquisition.Criterion); err != nil {
		return err
	}

	if c.Budget == (Budget{}) && c.Loop.MaxIterations == 0 {
		return fmt.Errorf("%w: no budget and no iteration limit, the run would never stop", ErrInvalidConfig)
	}

	constant := stepSet(c.Selector.ConstantSteps)
	for _, s := range c.Selector.VariableSteps {
		if _, ok := constant[s]; ok {
			return fmt.Errorf("%w: step %q is both constant and variable", ErrInvalidConfig, s)
		}
	}

	if c.Selector.Policy == PolicyCacheAware && len(c.Selector.ConstantSteps) == 0 {
		return fmt.Errorf("%w: cache-aware policy needs constant steps", ErrInvalidConfig)
	}

	return nil
}
