package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished sessions by status and failure kind
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriflow_runs_total",
		Help: "Finished verification sessions by status and failure kind",
	}, []string{"status", "failure"})

	// runIterations tracks how many attempts a session needed
	runIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veriflow_run_iterations",
		Help:    "Retrieve/generate/critique attempts per session",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	})

	// stepDuration tracks collaborator latency per step
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veriflow_step_duration_seconds",
		Help:    "Step duration in seconds by step and outcome",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"step", "outcome"})

	// verdictsTotal counts critic verdicts
	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriflow_verdicts_total",
		Help: "Critic verdicts by grounded flag",
	}, []string{"grounded"})

	// searchCacheTotal counts cache lookups in front of the search backend
	searchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriflow_search_cache_total",
		Help: "Search cache lookups by result",
	}, []string{"result"})
)

// ObserveRun records a finished session.
func ObserveRun(status, failure string, iterations int) {
	if failure == "" {
		failure = "none"
	}
	runsTotal.WithLabelValues(status, failure).Inc()
	runIterations.Observe(float64(iterations))
}

// ObserveStep records one collaborator call.
func ObserveStep(step string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stepDuration.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
}

// ObserveVerdict records a parsed critic verdict.
func ObserveVerdict(grounded bool) {
	verdictsTotal.WithLabelValues(strconv.FormatBool(grounded)).Inc()
}

// ObserveCache records a search cache lookup.
func ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	searchCacheTotal.WithLabelValues(result).Inc()
}
