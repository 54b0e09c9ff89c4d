package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamhub_pass_duration_seconds",
		Help:    "Duration of aggregation passes",
		Buckets: prometheus.DefBuckets,
	})

	passFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_pass_failures_total",
		Help: "Aggregation passes aborted by a storage error",
	})

	// Shared with the push path, labelled by ingest source
	itemsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_items_persisted_total",
		Help: "Items inserted or modified in the store",
	}, []string{"source"})
)

// CountPersisted records items written outside of a pass
func CountPersisted(source string, n int64) {
	itemsPersisted.WithLabelValues(source).Add(float64(n))
}
