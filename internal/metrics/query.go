package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query routing and index Prometheus metrics.
var (
	EngineAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "engine_attempts_total",
			Help:      "Engine dispatches by outcome",
		},
		[]string{"engine", "outcome"}, // outcome: done / fallback / failed
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Name:      "query_duration_seconds",
			Help:      "End-to-end routed query duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"engine"}, // engine that produced the final answer, or "none"
	)

	IndexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "index_rebuilds_total",
			Help:      "Index rebuild attempts by result",
		},
		[]string{"result"}, // "success" / "error"
	)

	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recall",
			Name:      "index_entries",
			Help:      "Entries in the current index generation",
		},
	)

	RecordsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Name:      "records_ingested_total",
			Help:      "Ingested source records by outcome",
		},
		[]string{"outcome"}, // "stored" / "duplicate" / "malformed"
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers query and index metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(EngineAttemptsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(IndexRebuildsTotal)
	prometheus.MustRegister(IndexEntries)
	prometheus.MustRegister(RecordsIngestedTotal)
	queryMetricsRegistered = true
}
