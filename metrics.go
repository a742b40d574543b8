package pcsmac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// tracer is the package-level tracer for loop and selector spans.
var tracer = otel.Tracer("pcsmac")

//////
// Prometheus metrics.
//////

var (
	// iterationsTotal counts completed loop iterations.
	// Labels: policy (plain, cache_aware)
	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pcsmac",
		Subsystem: "smbo",
		Name:      "iterations_total",
		Help:      "Total completed optimization loop iterations",
	}, []string{"policy"})

	// selectionLatency measures one ChooseNext round.
	// Labels: policy
	selectionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pcsmac",
		Subsystem: "selector",
		Name:      "choose_next_seconds",
		Help:      "Challenger selection latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"policy"})

	// intensifyLatency measures one intensification round.
	// Labels: status (success, error)
	intensifyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pcsmac",
		Subsystem: "smbo",
		Name:      "intensify_seconds",
		Help:      "Intensification latency in seconds",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"status"})

	// challengersTotal counts proposed challengers.
	// Labels: origin
	challengersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pcsmac",
		Subsystem: "selector",
		Name:      "challengers_total",
		Help:      "Total challengers proposed by origin",
	}, []string{"origin"})

	// incumbentCost tracks the cost of the current incumbent.
	incumbentCost = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pcsmac",
		Subsystem: "smbo",
		Name:      "incumbent_cost",
		Help:      "Aggregate cost of the current incumbent",
	})

	// spliceRetries counts batch splices rejected by a constraint.
	spliceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsmac",
		Subsystem: "sampler",
		Name:      "splice_retries_total",
		Help:      "Total batch splices rejected by a configuration constraint",
	})

	// shortLeaves counts leaves accepted with fewer members than requested.
	shortLeaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsmac",
		Subsystem: "sampler",
		Name:      "short_leaves_total",
		Help:      "Total batch leaves accepted short after repeated violations",
	})

	// targetRuns counts target executions.
	// Labels: status (SUCCESS, CRASHED, TIMEOUT)
	targetRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pcsmac",
		Subsystem: "runner",
		Name:      "target_runs_total",
		Help:      "Total target executions by status",
	}, []string{"status"})
)

//////
// Recording functions.
//////

func recordChallengers(challengers []Configuration) {
	for _, c := range challengers {
		challengersTotal.WithLabelValues(string(c.Origin)).Inc()
	}
}

func recordIntensify(seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	intensifyLatency.WithLabelValues(status).Observe(seconds)
}
