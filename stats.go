package pcsmac

import (
	"sync"
	"time"
)

// DefaultEMAAlpha is the smoothing factor of the configs-per-intensify EMA.
const DefaultEMAAlpha = 0.3

// Budget bounds a run. A zero field means "unbounded" for that resource; at
// least one field should be set or the run never terminates on its own.
type Budget struct {
	// WallClock bounds the elapsed time since NewStats.
	WallClock time.Duration `json:"wall_clock" yaml:"wall_clock" validate:"gte=0"`

	// AlgorithmTime bounds the summed runtime of all target executions.
	AlgorithmTime time.Duration `json:"algorithm_time" yaml:"algorithm_time" validate:"gte=0"`

	// MaxRuns bounds the number of target executions.
	MaxRuns int `json:"max_runs" yaml:"max_runs" validate:"gte=0"`
}

// Stats tracks budget consumption and the exponential moving average of
// challengers consumed per intensification round. It implements
// StatsProvider.
//
// Thread safety:
// - All fields are protected by the RWMutex
type Stats struct {
	mu sync.RWMutex

	budget Budget
	start  time.Time
	now    func() time.Time

	runs          int
	algorithmTime time.Duration

	ema    float64
	emaSet bool
	alpha  float64
	rounds int
}

// RecordRun accounts for one target execution.
func (s *Stats) RecordRun(runtime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	s.algorithmTime += runtime
}

// RecordIntensification folds the number of challengers consumed by one
// intensification round into the EMA. The first round seeds the average.
func (s *Stats) RecordIntensification(consumed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds++

	if !s.emaSet {
		s.ema = float64(consumed)
		s.emaSet = true

		return
	}

	s.ema = (1-s.alpha)*s.ema + s.alpha*float64(consumed)
}

// EMAConfigsPerIntensify implements StatsProvider. Zero until the first
// intensification round.
func (s *Stats) EMAConfigsPerIntensify() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ema
}

// IsBudgetExhausted implements StatsProvider.
func (s *Stats) IsBudgetExhausted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget.WallClock > 0 && s.now().Sub(s.start) >= s.budget.WallClock {
		return true
	}

	if s.budget.AlgorithmTime > 0 && s.algorithmTime >= s.budget.AlgorithmTime {
		return true
	}

	return s.budget.MaxRuns > 0 && s.runs >= s.budget.MaxRuns
}

// Runs returns the number of recorded target executions.
func (s *Stats) Runs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.runs
}

// Rounds returns the number of recorded intensification rounds.
func (s *Stats) Rounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rounds
}

// Elapsed returns the wall-clock time since the stats were created.
func (s *Stats) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.now().Sub(s.start)
}

// RemainingWallClock returns the unused wall-clock budget, or -1 when
// unbounded.
func (s *Stats) RemainingWallClock() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget.WallClock <= 0 {
		return -1
	}

	return maxDuration(s.budget.WallClock-s.now().Sub(s.start), 0)
}

// RemainingAlgorithmTime returns the unused target-runtime budget, or -1
// when unbounded.
func (s *Stats) RemainingAlgorithmTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget.AlgorithmTime <= 0 {
		return -1
	}

	return maxDuration(s.budget.AlgorithmTime-s.algorithmTime, 0)
}

// RemainingRuns returns the unused run budget, or -1 when unbounded.
func (s *Stats) RemainingRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget.MaxRuns <= 0 {
		return -1
	}

	if r := s.budget.MaxRuns - s.runs; r > 0 {
		return r
	}

	return 0
}

// NewStats starts the wall clock for budget.
func NewStats(budget Budget) *Stats {
	s := &Stats{
		budget: budget,
		now:    time.Now,
		alpha:  DefaultEMAAlpha,
	}

	s.start = s.now()

	return s
}
