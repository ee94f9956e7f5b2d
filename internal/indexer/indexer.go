// Package indexer keeps the chunk and conclusion collections in step with a
// vault.
//
// A pass removes notes that disappeared, re-chunks notes whose content hash
// changed, embeds and stores the chunks, and, when reasoning is enabled,
// extracts conclusions from chunks whose content has not been extracted
// before. Within a changed note, chunks that kept both their ID and their
// content keep their conclusions and are not sent to the LLM again.
//
// File hashes and the extraction cache are JSON files in the persistence
// directory, rewritten after each pass. Only one pass runs at a
// time per Indexer; separate processes sharing a persistence directory are
// not coordinated.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/chunker"
	"github.com/danielscholl/obsidian-rag-mcp/internal/events"
	"github.com/danielscholl/obsidian-rag-mcp/internal/extraction"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

var tracer = otel.Tracer("obsidian-rag.indexer")

// Extractor proposes conclusions for chunks.
type Extractor interface {
	Config() extraction.Config
	ExtractConclusions(ctx context.Context, content string, chunkCtx reasoning.ChunkContext) []reasoning.Conclusion
	ExtractConclusionsBatch(ctx context.Context, chunks []extraction.Chunk) (map[string][]reasoning.Conclusion, error)
}

// ConclusionStore is the subset of the conclusion store the indexer writes.
type ConclusionStore interface {
	Add(ctx context.Context, items []reasoning.Conclusion) (int, error)
	GetBySource(ctx context.Context, sourcePath string) []reasoning.Conclusion
	Delete(ctx context.Context, ids ...string) error
	DeleteBySource(ctx context.Context, sourcePath string) (int, error)
	Count(ctx context.Context) int
	Clear(ctx context.Context) error
}

// Stats summarizes the index.
type Stats struct {
	TotalFiles           int             `json:"total_files"`
	TotalChunks          int             `json:"total_chunks"`
	IndexedAt            time.Time       `json:"indexed_at"`
	VaultPath            string          `json:"vault_path"`
	FilesIndexed         int             `json:"files_indexed"`
	ConclusionsExtracted int             `json:"conclusions_extracted"`
	TotalConclusions     int             `json:"-"`
	ReasoningEnabled     bool            `json:"-"`
	Revision             *vault.Revision `json:"vault_revision,omitempty"`
}

// MarshalJSON reports total_conclusions and reasoning_enabled only when
// reasoning is enabled.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	out := struct {
		plain
		TotalConclusions *int  `json:"total_conclusions,omitempty"`
		ReasoningEnabled *bool `json:"reasoning_enabled,omitempty"`
	}{plain: plain(s)}
	if s.ReasoningEnabled {
		n, on := s.TotalConclusions, true
		out.TotalConclusions = &n
		out.ReasoningEnabled = &on
	}
	return json.Marshal(out)
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithReasoning enables conclusion extraction during indexing.
func WithReasoning(ex Extractor, store ConclusionStore) Option {
	return func(ix *Indexer) {
		ix.extractor = ex
		ix.conclusions = store
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(ix *Indexer) {
		if p != nil {
			ix.publisher = p
		}
	}
}

// WithTokenCounter sets the counter used to pack extraction batches.
func WithTokenCounter(c extraction.TokenCounter) Option {
	return func(ix *Indexer) { ix.counter = c }
}

// WithCollection overrides the chunk collection name.
func WithCollection(name string) Option {
	return func(ix *Indexer) { ix.collection = name }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// Indexer indexes one vault.
type Indexer struct {
	vault       *vault.Vault
	chunker     *chunker.Chunker
	embedder    vectorstore.Embedder
	store       vectorstore.Store
	collection  string
	persistDir  string
	extractor   Extractor
	conclusions ConclusionStore
	counter     extraction.TokenCounter
	publisher   events.Publisher
	logger      *zap.Logger

	lastPass atomic.Int64 // unix nanos of the last completed pass

	mu        sync.Mutex
	hashes    map[string]string // source path -> content hash
	extracted map[string]bool   // chunk content hash -> processed
}

// New creates an Indexer and loads its caches from persistDir. Corrupt
// caches are logged and replaced with empty ones.
func New(v *vault.Vault, ch *chunker.Chunker, embedder vectorstore.Embedder, store vectorstore.Store, persistDir string, opts ...Option) (*Indexer, error) {
	if v == nil || ch == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("vault, chunker, embedder and store are required")
	}
	if persistDir == "" {
		return nil, fmt.Errorf("persist directory is required")
	}
	ix := &Indexer{
		vault:      v,
		chunker:    ch,
		embedder:   embedder,
		store:      store,
		collection: ChunkCollection,
		persistDir: persistDir,
		publisher:  events.NopPublisher{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if (ix.extractor == nil) != (ix.conclusions == nil) {
		return nil, fmt.Errorf("reasoning needs both an extractor and a conclusion store")
	}
	if ix.counter == nil {
		ix.counter = extraction.NewTokenCounter()
	}

	var err error
	if ix.hashes, err = loadJSON[string](ix.cachePath(fileHashesFile)); err != nil {
		ix.logger.Warn("failed to load file hashes", zap.Error(err))
	}
	if ix.extracted, err = loadJSON[bool](ix.cachePath(extractionCacheFile)); err != nil {
		ix.logger.Warn("failed to load extraction cache", zap.Error(err))
	}
	ix.logger.Debug("index caches loaded",
		zap.Int("file_hashes", len(ix.hashes)),
		zap.Int("extraction_cache", len(ix.extracted)))
	return ix, nil
}

// ReasoningEnabled reports whether passes extract conclusions.
func (ix *Indexer) ReasoningEnabled() bool { return ix.extractor != nil }

// Vault returns the indexed vault.
func (ix *Indexer) Vault() *vault.Vault { return ix.vault }

// Collection opens the chunk collection.
func (ix *Indexer) Collection(ctx context.Context) (vectorstore.Collection, error) {
	col, err := ix.store.Collection(ctx, ix.collection)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", ix.collection, err)
	}
	return col, nil
}

func (ix *Indexer) cachePath(name string) string {
	return filepath.Join(ix.persistDir, name)
}

func (ix *Indexer) publish(ctx context.Context, t events.Type, data map[string]any) {
	if err := ix.publisher.Publish(ctx, events.New(t, ix.vault.Root(), data)); err != nil {
		ix.logger.Warn("failed to publish event", zap.String("type", string(t)), zap.Error(err))
	}
}

type pendingFile struct {
	path    string
	content string
	hash    string
}

// IndexVault runs one pass. With force every note is re-chunked, and the
// extraction cache and conclusion store are cleared first.
func (ix *Indexer) IndexVault(ctx context.Context, force bool) (stats *Stats, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ctx, span := tracer.Start(ctx, "indexer.IndexVault")
	defer span.End()
	span.SetAttributes(attribute.Bool("force", force))
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "index pass failed")
		}
		passDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	ix.publish(ctx, events.IndexStarted, map[string]any{"force": force})

	paths, err := ix.vault.Scan(ctx)
	if err != nil {
		return nil, err
	}
	ix.logger.Info("scanning vault", zap.String("vault", ix.vault.Root()), zap.Int("files", len(paths)))

	col, err := ix.Collection(ctx)
	if err != nil {
		return nil, err
	}

	if force && ix.conclusions != nil {
		if err := ix.conclusions.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clearing conclusions: %w", err)
		}
		ix.extracted = make(map[string]bool)
		if err := saveJSON(ix.cachePath(extractionCacheFile), ix.extracted); err != nil {
			ix.logger.Warn("failed to save extraction cache", zap.Error(err))
		}
	}

	ix.removeStale(ctx, col, paths)

	var changed []pendingFile
	for _, rel := range paths {
		content, err := ix.vault.Read(rel)
		if err != nil {
			ix.logger.Warn("failed to read note", zap.String("path", rel), zap.Error(err))
			continue
		}
		hash := reasoning.ContentHash(content)
		if force || ix.hashes[rel] != hash {
			changed = append(changed, pendingFile{path: rel, content: content, hash: hash})
		}
	}

	stats = &Stats{
		TotalFiles:       len(paths),
		VaultPath:        ix.vault.Root(),
		ReasoningEnabled: ix.ReasoningEnabled(),
		Revision:         ix.vault.Revision(),
	}

	if len(changed) == 0 {
		ix.logger.Info("no notes need indexing")
		// Stale removals still need persisting.
		ix.saveHashes()
		return ix.finish(ctx, col, stats), nil
	}
	ix.logger.Info("indexing notes", zap.Int("files", len(changed)))

	var chunks []chunker.Chunk
	kept := make(map[string]bool)
	for _, f := range changed {
		fileChunks := ix.chunker.ChunkDocument(f.content, f.path)
		var unchanged map[string]bool
		if ix.conclusions != nil && !force {
			unchanged = ix.unchangedChunks(ctx, col, f.path, fileChunks)
		}
		if _, err := col.Delete(ctx, vectorstore.NewFilter().Eq(KeySourcePath, f.path)); err != nil {
			ix.logger.Debug("failed to delete old chunks", zap.String("path", f.path), zap.Error(err))
		}
		if ix.conclusions != nil {
			for id := range ix.pruneConclusions(ctx, f.path, unchanged) {
				kept[id] = true
			}
		}
		chunks = append(chunks, fileChunks...)
		stats.FilesIndexed++
		ix.publish(ctx, events.IndexFile, map[string]any{"path": f.path, "chunks": len(fileChunks)})
	}

	if err := ix.storeChunks(ctx, col, chunks); err != nil {
		return nil, err
	}
	filesIndexed.Add(float64(stats.FilesIndexed))
	chunksIndexed.Add(float64(len(chunks)))

	if ix.extractor != nil && len(chunks) > 0 {
		n, err := ix.extractConclusions(ctx, chunks, kept)
		if err != nil {
			// Their conclusions are already pruned; forget the hashes so
			// the next pass treats these notes as changed.
			for _, f := range changed {
				delete(ix.hashes, f.path)
			}
			ix.saveHashes()
			return nil, err
		}
		stats.ConclusionsExtracted = n
	}
	for _, f := range changed {
		ix.hashes[f.path] = f.hash
	}
	ix.saveHashes()

	ix.logger.Info("index pass complete",
		zap.Int("files_indexed", stats.FilesIndexed),
		zap.Int("chunks", len(chunks)),
		zap.Int("conclusions", stats.ConclusionsExtracted),
		zap.Duration("duration", time.Since(start)))
	return ix.finish(ctx, col, stats), nil
}

// unchangedChunks returns the IDs of chunks whose stored content matches
// the new chunk with the same ID.
func (ix *Indexer) unchangedChunks(ctx context.Context, col vectorstore.Collection, path string, fresh []chunker.Chunk) map[string]bool {
	old, err := col.Find(ctx, vectorstore.NewFilter().Eq(KeySourcePath, path))
	if err != nil {
		ix.logger.Debug("failed to read old chunks", zap.String("path", path), zap.Error(err))
		return nil
	}
	oldHash := make(map[string]string, len(old))
	for _, d := range old {
		oldHash[d.ID] = reasoning.ContentHash(d.Content)
	}
	out := make(map[string]bool)
	for _, c := range fresh {
		if h, ok := oldHash[c.ID]; ok && h == reasoning.ContentHash(c.Content) {
			out[c.ID] = true
		}
	}
	return out
}

// pruneConclusions deletes the conclusions of path except those from
// unchanged chunks, and returns the chunk IDs whose conclusions survived.
func (ix *Indexer) pruneConclusions(ctx context.Context, path string, unchanged map[string]bool) map[string]bool {
	if len(unchanged) == 0 {
		if _, err := ix.conclusions.DeleteBySource(ctx, path); err != nil {
			ix.logger.Debug("failed to delete old conclusions", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	var drop []string
	for _, c := range ix.conclusions.GetBySource(ctx, path) {
		if !unchanged[c.SourceChunkID] {
			drop = append(drop, c.ID)
		}
	}
	if err := ix.conclusions.Delete(ctx, drop...); err != nil {
		ix.logger.Debug("failed to delete old conclusions", zap.String("path", path), zap.Error(err))
		if _, err := ix.conclusions.DeleteBySource(ctx, path); err != nil {
			ix.logger.Debug("failed to delete old conclusions", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return unchanged
}

func (ix *Indexer) finish(ctx context.Context, col vectorstore.Collection, stats *Stats) *Stats {
	stats.IndexedAt = time.Now()
	ix.lastPass.Store(stats.IndexedAt.UnixNano())
	if n, err := col.Count(ctx); err == nil {
		stats.TotalChunks = n
	} else {
		ix.logger.Warn("failed to count chunks", zap.Error(err))
	}
	if ix.conclusions != nil {
		stats.TotalConclusions = ix.conclusions.Count(ctx)
	}
	ix.publish(ctx, events.IndexCompleted, map[string]any{
		"files_indexed":         stats.FilesIndexed,
		"total_chunks":          stats.TotalChunks,
		"conclusions_extracted": stats.ConclusionsExtracted,
	})
	return stats
}

// removeStale drops chunks, conclusions and the hash entry of every note
// that is in the hash cache but no longer in the vault. A note whose chunks
// cannot be deleted keeps its hash entry so the next pass retries it.
func (ix *Indexer) removeStale(ctx context.Context, col vectorstore.Collection, current []string) {
	present := make(map[string]bool, len(current))
	for _, p := range current {
		present[p] = true
	}
	var stale []string
	for p := range ix.hashes {
		if !present[p] {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)
	ix.logger.Info("removing stale notes", zap.Int("count", len(stale)))

	for _, p := range stale {
		if _, err := col.Delete(ctx, vectorstore.NewFilter().Eq(KeySourcePath, p)); err != nil {
			ix.logger.Warn("failed to remove stale chunks", zap.String("path", p), zap.Error(err))
			continue
		}
		if ix.conclusions != nil {
			if _, err := ix.conclusions.DeleteBySource(ctx, p); err != nil {
				ix.logger.Warn("failed to remove stale conclusions", zap.String("path", p), zap.Error(err))
				continue
			}
		}
		delete(ix.hashes, p)
		staleRemoved.Inc()
		ix.logger.Debug("removed stale note", zap.String("path", p))
	}
}

// storeChunks embeds every chunk and upserts them in batches.
func (ix *Indexer) storeChunks(ctx context.Context, col vectorstore.Collection, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ix.logger.Info("embedding chunks", zap.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks",
			vectorstore.ErrDimensionMismatch, len(vectors), len(texts))
	}

	for i := 0; i < len(chunks); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(chunks))
		docs := make([]vectorstore.Document, 0, end-i)
		for j := i; j < end; j++ {
			docs = append(docs, chunkDocument(chunks[j], vectors[j]))
		}
		if err := col.Upsert(ctx, docs); err != nil {
			return fmt.Errorf("storing chunks: %w", err)
		}
		ix.logger.Debug("stored chunk batch", zap.Int("batch", i/upsertBatchSize+1), zap.Int("size", len(docs)))
	}
	return nil
}

func (ix *Indexer) saveHashes() {
	if err := saveJSON(ix.cachePath(fileHashesFile), ix.hashes); err != nil {
		ix.logger.Warn("failed to save file hashes", zap.Error(err))
	}
}

// Stats reports the current index without indexing.
func (ix *Indexer) Stats(ctx context.Context) (*Stats, error) {
	paths, err := ix.vault.Scan(ctx)
	if err != nil {
		return nil, err
	}
	col, err := ix.Collection(ctx)
	if err != nil {
		return nil, err
	}
	n, err := col.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	stats := &Stats{
		TotalFiles:       len(paths),
		TotalChunks:      n,
		IndexedAt:        ix.lastIndexed(),
		VaultPath:        ix.vault.Root(),
		ReasoningEnabled: ix.ReasoningEnabled(),
		Revision:         ix.vault.Revision(),
	}
	if ix.conclusions != nil {
		stats.TotalConclusions = ix.conclusions.Count(ctx)
	}
	return stats, nil
}

// lastIndexed is when a pass last completed. Before the first pass of this
// process it falls back to when the file hash cache was last written, and is
// zero for a vault that was never indexed.
func (ix *Indexer) lastIndexed() time.Time {
	switch n := ix.lastPass.Load(); {
	case n < 0:
		return time.Time{}
	case n > 0:
		return time.Unix(0, n)
	}
	if fi, err := os.Stat(ix.cachePath(fileHashesFile)); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}

// DeleteIndex drops the chunk collection, both caches and every conclusion.
func (ix *Indexer) DeleteIndex(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.logger.Info("deleting index", zap.String("collection", ix.collection))
	if err := ix.store.DeleteCollection(ctx, ix.collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", ix.collection, err)
	}
	if _, err := ix.Collection(ctx); err != nil {
		return err
	}

	ix.hashes = make(map[string]string)
	ix.saveHashes()
	ix.extracted = make(map[string]bool)
	if err := saveJSON(ix.cachePath(extractionCacheFile), ix.extracted); err != nil {
		ix.logger.Warn("failed to save extraction cache", zap.Error(err))
	}

	if ix.conclusions != nil {
		if err := ix.conclusions.Clear(ctx); err != nil {
			return fmt.Errorf("clearing conclusions: %w", err)
		}
	}
	ix.lastPass.Store(-1)
	ix.publish(ctx, events.IndexDeleted, nil)
	ix.logger.Info("index deleted")
	return nil
}
