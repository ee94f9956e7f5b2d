package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts backend operations.
	// Labels: backend (chromem, qdrant), op, result (success, error)
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obsidian_rag",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// documentsGauge is refreshed whenever a collection is counted.
	documentsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "obsidian_rag",
			Subsystem: "vectorstore",
			Name:      "documents",
			Help:      "Number of documents per collection at last count",
		},
		[]string{"collection"},
	)

	quarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "vectorstore",
			Name:      "quarantined_collections_total",
			Help:      "Collections moved aside because their metadata file was missing",
		},
	)
)

func observeOperation(backend, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(backend, op, result).Inc()
	operationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
