package conclusions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	addedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "conclusions",
			Name:      "added_total",
			Help:      "Conclusions written to the store",
		},
	)

	// readFailures counts reads that degraded to an empty result.
	readFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "conclusions",
			Name:      "read_failures_total",
			Help:      "Conclusion store reads that failed and returned nothing",
		},
		[]string{"op"},
	)
)
