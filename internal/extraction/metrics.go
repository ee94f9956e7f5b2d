package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "extraction",
			Name:      "llm_calls_total",
			Help:      "LLM extraction calls by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obsidian_rag",
			Subsystem: "extraction",
			Name:      "llm_call_duration_seconds",
			Help:      "LLM extraction call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	parseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "extraction",
			Name:      "parse_failures_total",
			Help:      "LLM replies that could not be decoded",
		},
		[]string{"mode"},
	)

	extractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "extraction",
			Name:      "conclusions_total",
			Help:      "Conclusions accepted by type",
		},
		[]string{"type"},
	)

	filteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obsidian_rag",
			Subsystem: "extraction",
			Name:      "conclusions_filtered_total",
			Help:      "Conclusions dropped during validation by reason",
		},
		[]string{"reason"},
	)
)
