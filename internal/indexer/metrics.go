package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obsidian_rag",
			Subsystem: "indexer",
			Name:      "pass_duration_seconds",
			Help:      "Duration of index passes",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"outcome"},
	)

	filesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "files_indexed_total",
		Help:      "Notes chunked and stored",
	})

	chunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "chunks_indexed_total",
		Help:      "Chunks embedded and stored",
	})

	staleRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "stale_notes_removed_total",
		Help:      "Notes removed from the index after disappearing from the vault",
	})

	extractionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "extraction_cache_hits_total",
		Help:      "Chunks skipped because their content was already extracted",
	})

	batchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "extraction_batch_fallbacks_total",
		Help:      "Extraction batches that failed and were retried chunk by chunk",
	})

	conclusionsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obsidian_rag",
		Subsystem: "indexer",
		Name:      "conclusions_extracted_total",
		Help:      "Conclusions extracted during indexing",
	})
)
