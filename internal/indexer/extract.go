package indexer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/chunker"
	"github.com/danielscholl/obsidian-rag-mcp/internal/events"
	"github.com/danielscholl/obsidian-rag-mcp/internal/extraction"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

// extractConclusions runs batch extraction over every chunk except those
// that are both in the extraction cache and listed in kept, falling back to
// one call per chunk for any batch that fails. Nothing is stored or cached
// unless every batch completes, and the caller keeps the notes' file hashes
// stale on error so the next pass extracts them again.
func (ix *Indexer) extractConclusions(ctx context.Context, chunks []chunker.Chunk, kept map[string]bool) (int, error) {
	ctx, span := tracer.Start(ctx, "indexer.extractConclusions")
	defer span.End()

	cfg := ix.extractor.Config()
	hashOf := make(map[string]string, len(chunks))
	var pending []extraction.Chunk
	cached := 0
	for _, c := range chunks {
		h := reasoning.ContentHash(c.Content)
		if ix.extracted[h] && kept[c.ID] {
			cached++
			continue
		}
		hashOf[c.ID] = h
		pending = append(pending, extraction.Chunk{ID: c.ID, Content: c.Content, Context: c.Context()})
	}
	extractionCacheHits.Add(float64(cached))
	if cached > 0 {
		ix.logger.Info("skipping chunks already extracted", zap.Int("chunks", cached))
	}
	if len(pending) == 0 {
		ix.logger.Info("all chunks already extracted")
		return 0, nil
	}

	batches := extraction.PackBatches(pending, cfg.BatchSize, cfg.MaxBatchTokens, ix.counter)
	span.SetAttributes(attribute.Int("chunks", len(pending)), attribute.Int("batches", len(batches)))
	ix.logger.Info("extracting conclusions",
		zap.Int("chunks", len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", cfg.BatchSize))

	var (
		all       []reasoning.Conclusion
		processed []string
	)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		found := ix.extractBatch(ctx, i+1, len(batches), batch)
		// A batch cut short by cancellation reads as empty.
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for _, c := range batch {
			all = append(all, found[c.ID]...)
			processed = append(processed, hashOf[c.ID])
		}
	}

	if len(all) > 0 {
		if _, err := ix.conclusions.Add(ctx, all); err != nil {
			return 0, fmt.Errorf("storing conclusions: %w", err)
		}
	}
	for _, h := range processed {
		ix.extracted[h] = true
	}
	if err := saveJSON(ix.cachePath(extractionCacheFile), ix.extracted); err != nil {
		ix.logger.Warn("failed to save extraction cache", zap.Error(err))
	}

	conclusionsExtracted.Add(float64(len(all)))
	ix.publish(ctx, events.ConclusionsExtracted, map[string]any{
		"chunks":      len(pending),
		"conclusions": len(all),
	})
	ix.logger.Info("conclusions extracted", zap.Int("conclusions", len(all)))
	return len(all), nil
}

// extractBatch returns conclusions keyed by chunk ID. A failed batch call is
// retried one chunk at a time.
func (ix *Indexer) extractBatch(ctx context.Context, n, total int, batch []extraction.Chunk) map[string][]reasoning.Conclusion {
	results, err := ix.extractor.ExtractConclusionsBatch(ctx, batch)
	if err == nil {
		ix.logger.Debug("extraction batch done",
			zap.Int("batch", n),
			zap.Int("of", total),
			zap.Int("conclusions", countAll(results)))
		return results
	}

	batchFallbacks.Inc()
	ix.logger.Warn("extraction batch failed, falling back to single chunks",
		zap.Int("batch", n),
		zap.Int("chunks", len(batch)),
		zap.Error(err))
	results = make(map[string][]reasoning.Conclusion, len(batch))
	for _, c := range batch {
		results[c.ID] = ix.extractor.ExtractConclusions(ctx, c.Content, c.Context)
	}
	return results
}

func countAll(m map[string][]reasoning.Conclusion) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}
