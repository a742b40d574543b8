// Package pcsmac provides pipeline-aware sequential model-based optimization
// (SMBO): it searches a conditionally structured space of machine-learning
// pipeline configurations for the one minimizing an expensive cost, within a
// fixed budget.
//
// # Features
//
// The package includes the following key features:
//
//   - Bayesian Optimization: A surrogate model fitted on every observation
//     ranks candidates before anything expensive is evaluated
//   - Conditional Spaces: Categorical, integer and real hyperparameters with
//     activation conditions and forbidden combinations
//   - Caching Discounts: Candidates reusing already computed pipeline
//     prefixes score higher
//   - Cache-aware Batches: Exploration candidates come in leaves sharing a
//     constant pipeline prefix, kept adjacent in the challenger list
//   - Seeded Local Search: One-exchange hill climbing from the incumbent and
//     the best previous configurations
//   - Reproducible Runs: One seeded *rand.Rand drives every random draw
//   - Shared Runs: Independent optimizers can trade run histories (see the
//     shared package)
//   - Progress Monitoring: Real-time updates via channels
//
// # Acquisition Functions
//
// Four criteria are provided. All of them return higher values for more
// promising points:
//
// 1. Expected Improvement (EI):
//
//   - Default choice, balances how likely and how large an improvement is
//
//     cfg := DefaultConfig()
//     cfg.Acquisition.Criterion = "ei"
//     cfg.Acquisition.Xi = 0.01
//
// 2. Probability of Improvement (PI):
//
//   - Conservative exploration strategy
//
// 3. Lower Confidence Bound (LCB):
//
//   - Optimistic cost estimate, controlled by Beta
//
// 4. Thompson Sampling (TS):
//
//   - Draws from the posterior with the run's generator
//
// # Selection Round
//
// Every iteration the CandidateSelector:
//  1. Fits the surrogate on the run history
//  2. Ranks a large pool of random configurations
//  3. Runs local search from the incumbent and the best previous
//     configurations
//  4. Interleaves the merged ranking with exploration candidates
//
// The intensifier then races the challengers against the incumbent for at
// least as long as the selection took.
//
// # Configuration
//
// Config groups every setting; LoadConfig reads YAML or JSON and applies
// PCSMAC_* environment overrides:
//
//	cfg, err := LoadConfig("pcsmac.yaml")
//	if err != nil {
//	    return err
//	}
//
//	res, err := Optimize(ctx, cfg, space, target)
//
// Recommended settings:
//   - Selector.RandomSearchPoolSize: 500-5000
//   - Selector.LeafSize: 2-5 with the cache-aware policy
//   - Budget: at least one of WallClock, AlgorithmTime, MaxRuns
//
// # Thread Safety
//
// The loop runs on a single goroutine. The reference
// History, Stats and GaussianProcess use RWMutex so observers can read them
// while a run is in progress.
package pcsmac
