package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_agent_runs_total",
			Help: "Total number of agent runs by terminal state.",
		},
		[]string{"terminal_state"},
	)
	agentStepsPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_agent_steps_per_run",
			Help:    "LLM reasoning turns consumed per run.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 10, 12, 16},
		},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_validation_rejections_total",
			Help: "Candidate queries rejected by the validator, by reason.",
		},
		[]string{"reason"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_seconds",
			Help:    "Validated query execution latency against the target database.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_rows_returned",
			Help:    "Rows returned per executed query, after the row cap.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)
	queryTruncationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_query_truncations_total",
			Help: "Executed queries whose result hit the row cap.",
		},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_schema_cache_lookups_total",
			Help: "Schema descriptor cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		agentRunsTotal,
		agentStepsPerRun,
		validationRejectionsTotal,
		queryDurationSeconds,
		queryRowsReturned,
		queryTruncationsTotal,
		schemaCacheLookupsTotal,
	)
}

func ObserveAgentRun(terminalState string, steps int) {
	agentRunsTotal.WithLabelValues(terminalState).Inc()
	agentStepsPerRun.Observe(float64(steps))
}

func IncrementValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveQueryExecution(rows int, truncated bool, elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		queryTruncationsTotal.Inc()
	}
}

func ObserveSchemaCacheLookup(hit bool) {
	if hit {
		schemaCacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	schemaCacheLookupsTotal.WithLabelValues("miss").Inc()
}
