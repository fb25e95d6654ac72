package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection decision metrics.
//
// These cover the two hot paths of the service: pre-filter gating of events
// and interpretation of execution records into test verdicts. Use them for:
//   - Spotting snippets that never let events through
//   - Tracking error rates of detection test runs
//   - Sizing the compiled snippet cache

var (
	// PrefilterEvaluationsTotal counts pre-filter decisions.
	// Labels:
	//   - snippet_id: The snippet that gated the event
	//   - result: "pass" or "drop"
	PrefilterEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "prefilter",
			Name:      "evaluations_total",
			Help:      "Total number of pre-filter evaluations",
		},
		[]string{"snippet_id", "result"},
	)

	// InterpretationsTotal counts interpreted test cases.
	// Labels:
	//   - kind: rule, scheduled_rule or policy
	//   - state: terminal state of the interpreter
	//   - status: PASS, FAIL or ERROR
	InterpretationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "interpreter",
			Name:      "results_total",
			Help:      "Total number of interpreted detection test cases",
		},
		[]string{"kind", "state", "status"},
	)

	// BatchDuration measures how long a batch interpretation takes end to end.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Subsystem: "interpreter",
			Name:      "batch_duration_seconds",
			Help:      "Time spent interpreting a batch of test cases",
			Buckets: []float64{
				0.0001, // 100μs
				0.0005, // 500μs
				0.001,  // 1ms
				0.005,  // 5ms
				0.01,   // 10ms
				0.05,   // 50ms
				0.1,    // 100ms
				0.5,    // 500ms
				1.0,    // 1s
			},
		},
	)

	// InterpreterPanicsTotal counts test cases whose interpretation panicked.
	InterpreterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "interpreter",
			Name:      "panics_total",
			Help:      "Total number of recovered panics while interpreting test cases",
		},
	)

	// SnippetCacheHitsTotal counts compiled snippet cache hits.
	SnippetCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "snippet",
			Name:      "cache_hits_total",
			Help:      "Total number of compiled snippet cache hits",
		},
	)

	// SnippetCacheMissesTotal counts cache misses that required compiling a snippet.
	SnippetCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "snippet",
			Name:      "cache_misses_total",
			Help:      "Total number of compiled snippet cache misses",
		},
	)

	// SnippetCacheEvictionsTotal counts LRU evictions.
	SnippetCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "snippet",
			Name:      "cache_evictions_total",
			Help:      "Total number of compiled snippets evicted from the cache",
		},
	)

	// SnippetsLoaded reports how many snippets the last load produced.
	SnippetsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "snippet",
			Name:      "loaded",
			Help:      "Number of snippets loaded from disk",
		},
	)
)

// RecordPrefilter records a single pre-filter decision.
func RecordPrefilter(snippetID string, passed bool) {
	result := "drop"
	if passed {
		result = "pass"
	}
	PrefilterEvaluationsTotal.WithLabelValues(snippetID, result).Inc()
}

// RecordInterpretation records the outcome of one interpreted test case.
func RecordInterpretation(kind, state, status string) {
	InterpretationsTotal.WithLabelValues(kind, state, status).Inc()
}

// RecordBatchDuration records the duration of one batch in seconds.
func RecordBatchDuration(durationSec float64) {
	BatchDuration.Observe(durationSec)
}

// RecordInterpreterPanic records a recovered panic.
func RecordInterpreterPanic() {
	InterpreterPanicsTotal.Inc()
}

// RecordSnippetCacheHit records a cache hit.
func RecordSnippetCacheHit() {
	SnippetCacheHitsTotal.Inc()
}

// RecordSnippetCacheMiss records a cache miss.
func RecordSnippetCacheMiss() {
	SnippetCacheMissesTotal.Inc()
}

// RecordSnippetCacheEviction records an LRU eviction.
func RecordSnippetCacheEviction() {
	SnippetCacheEvictionsTotal.Inc()
}

// UpdateSnippetsLoaded sets the loaded snippet gauge.
func UpdateSnippetsLoaded(count int) {
	SnippetsLoaded.Set(float64(count))
}
