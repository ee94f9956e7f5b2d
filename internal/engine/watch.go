package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
)

// PassFunc observes each indexing pass Watch runs.
type PassFunc func(changes vault.ChangeSet, stats *indexer.Stats, err error)

// Watch re-indexes the vault whenever notes change, until ctx is done. Each
// debounced batch of changes triggers one incremental pass. onPass may be nil.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration, onPass PassFunc) error {
	w, err := vault.NewWatcher(e.vault, debounce)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()
	e.logger.Info("watching vault", zap.String("vault", e.vault.Root()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case changes := <-w.Events():
			e.logger.Info("vault changed",
				zap.Int("changed", len(changes.Changed)),
				zap.Int("removed", len(changes.Removed)))
			stats, err := e.indexer.IndexVault(ctx, false)
			if err != nil && ctx.Err() == nil {
				e.logger.Error("re-index failed", zap.Error(err))
			}
			if onPass != nil {
				onPass(changes, stats, err)
			}
		}
	}
}
