package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensquery",
			Name:      "search_requests_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"mode", "status"}, // mode: "image" / "id"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lensquery",
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"mode"},
	)

	SearchSignalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensquery",
			Name:      "search_signal_failures_total",
			Help:      "Query signal computations that failed and were imputed",
		},
		[]string{"signal"}, // "embedding" / "hash" / "color"
	)

	CorpusCacheLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensquery",
			Name:      "corpus_cache_loads_total",
			Help:      "Corpus cache loads from persistent storage",
		},
		[]string{"kind"}, // "embeddings" / "regions"
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchSignalFailuresTotal)
	prometheus.MustRegister(CorpusCacheLoadsTotal)
	searchMetricsRegistered = true
}
