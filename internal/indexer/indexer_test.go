package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielscholl/obsidian-rag-mcp/internal/chunker"
	"github.com/danielscholl/obsidian-rag-mcp/internal/conclusions"
	"github.com/danielscholl/obsidian-rag-mcp/internal/events"
	"github.com/danielscholl/obsidian-rag-mcp/internal/extraction"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
	"github.com/danielscholl/obsidian-rag-mcp/internal/testutil"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

const noteA = `# Alpha

Intro about the caching layer.

## First

The cache is warmed at startup.

## Second

Evictions follow LRU order.
`

const noteB = `## Only

Deploys happen on Fridays. #ops
`

// fakeExtractor proposes one conclusion per chunk and records what it saw.
type fakeExtractor struct {
	mu          sync.Mutex
	batchErr    error
	onBatch     func()
	batchIDs    []string
	singleIDs   []string
	batchCalls  int
	singleCalls int
}

func (f *fakeExtractor) Config() extraction.Config {
	cfg := extraction.DefaultConfig()
	cfg.BatchSize = 2
	return cfg
}

func fact(content string, cc reasoning.ChunkContext) reasoning.Conclusion {
	statement := "Fact: " + content
	return reasoning.Conclusion{
		ID:                 reasoning.GenerateID(statement, cc.ChunkID()),
		Type:               reasoning.Deductive,
		Statement:          statement,
		Confidence:         0.8,
		Evidence:           []string{content},
		SourceChunkID:      cc.ChunkID(),
		Context:            cc,
		RelatedConclusions: []string{},
	}
}

func (f *fakeExtractor) ExtractConclusions(_ context.Context, content string, cc reasoning.ChunkContext) []reasoning.Conclusion {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singleCalls++
	f.singleIDs = append(f.singleIDs, cc.ChunkID())
	return []reasoning.Conclusion{fact(content, cc)}
}

func (f *fakeExtractor) ExtractConclusionsBatch(_ context.Context, chunks []extraction.Chunk) (map[string][]reasoning.Conclusion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.onBatch != nil {
		f.onBatch()
	}
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make(map[string][]reasoning.Conclusion, len(chunks))
	for _, c := range chunks {
		f.batchIDs = append(f.batchIDs, c.ID)
		out[c.ID] = []reasoning.Conclusion{fact(c.Content, c.Context)}
	}
	return out, nil
}

func (f *fakeExtractor) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchIDs, f.singleIDs = nil, nil
	f.batchCalls, f.singleCalls = 0, 0
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	root       string
	persist    string
	embedder   *testutil.HashEmbedder
	store      vectorstore.Store
	concl      *conclusions.Store
	extractor  *fakeExtractor
	publisher  *recordingPublisher
	ix         *Indexer
	withReason bool
}

func newFixture(t *testing.T, withReasoning bool) *fixture {
	t.Helper()
	f := &fixture{
		root:       t.TempDir(),
		persist:    t.TempDir(),
		embedder:   &testutil.HashEmbedder{},
		extractor:  &fakeExtractor{},
		publisher:  &recordingPublisher{},
		withReason: withReasoning,
	}
	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, VectorSize: testutil.Dim}, f.embedder, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.store = vs
	f.concl, err = conclusions.NewStore(vs, f.embedder)
	require.NoError(t, err)

	f.write(t, "a.md", noteA)
	f.write(t, "b.md", noteB)
	f.ix = f.newIndexer(t)
	return f
}

func (f *fixture) newIndexer(t *testing.T) *Indexer {
	t.Helper()
	v, err := vault.Open(f.root, vault.Options{})
	require.NoError(t, err)
	opts := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithPublisher(f.publisher),
		WithTokenCounter(extraction.TokenCounter(countChars{})),
	}
	if f.withReason {
		opts = append(opts, WithReasoning(f.extractor, f.concl))
	}
	ix, err := New(v, chunker.New(chunker.DefaultConfig()), f.embedder, f.store, f.persist, opts...)
	require.NoError(t, err)
	return ix
}

type countChars struct{}

func (countChars) Count(s string) int { return extraction.EstimateTokens(s) }

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), []byte(content), 0o644))
}

func (f *fixture) chunkIDs(t *testing.T, path string) []string {
	t.Helper()
	col, err := f.ix.Collection(context.Background())
	require.NoError(t, err)
	docs, err := col.Find(context.Background(), vectorstore.NewFilter().Eq(KeySourcePath, path))
	require.NoError(t, err)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	sort.Strings(ids)
	return ids
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t, false)
	v, err := vault.Open(f.root, vault.Options{})
	require.NoError(t, err)

	_, err = New(nil, chunker.New(chunker.DefaultConfig()), f.embedder, f.store, f.persist)
	assert.Error(t, err)
	_, err = New(v, chunker.New(chunker.DefaultConfig()), f.embedder, f.store, "")
	assert.Error(t, err)
	_, err = New(v, chunker.New(chunker.DefaultConfig()), f.embedder, f.store, f.persist, WithReasoning(f.extractor, nil))
	assert.Error(t, err)
}

func TestNew_CorruptCachesStartEmpty(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.persist, fileHashesFile), []byte("{not json"), 0o644))
	ix := f.newIndexer(t)
	assert.Empty(t, ix.hashes)
}

func TestIndexVault_Incremental(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 4, stats.TotalChunks)
	assert.Equal(t, f.root, stats.VaultPath)
	assert.False(t, stats.ReasoningEnabled)
	assert.Equal(t, []string{"a.md:0", "a.md:1", "a.md:2"}, f.chunkIDs(t, "a.md"))

	hashes, err := loadJSON[string](filepath.Join(f.persist, fileHashesFile))
	require.NoError(t, err)
	assert.Equal(t, reasoning.ContentHash(noteA), hashes["a.md"])

	embedded := f.embedder.Calls()
	stats, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Equal(t, 4, stats.TotalChunks)
	assert.Equal(t, embedded, f.embedder.Calls(), "unchanged notes are not re-embedded")

	f.write(t, "b.md", "## Only\n\nDeploys moved to Mondays.\n\n## Extra\n\nNew section.\n")
	stats, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 5, stats.TotalChunks)
	assert.Equal(t, []string{"b.md:0", "b.md:1"}, f.chunkIDs(t, "b.md"))

	// A fresh indexer picks the hashes up from disk.
	ix := f.newIndexer(t)
	stats, err = ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
}

func TestIndexVault_ChunkMetadata(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	col, err := f.ix.Collection(ctx)
	require.NoError(t, err)
	docs, err := col.Get(ctx, "b.md:0")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	c := ChunkFromDocument(docs[0])
	assert.Equal(t, "b.md", c.SourcePath)
	assert.Equal(t, 0, c.ChunkIndex)
	assert.Equal(t, "b", c.Title)
	assert.Equal(t, "Only", c.Heading)
	assert.Equal(t, []string{"ops"}, c.Tags)
	assert.Contains(t, c.Content, "Deploys happen")
	n, ok := docs[0].Metadata.Int(KeyTokenEstimate)
	assert.True(t, ok)
	assert.Equal(t, c.TokenEstimate(), n)
}

func TestIndexVault_RemovesStaleNotes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	require.NotEmpty(t, f.concl.GetBySource(ctx, "b.md"))

	require.NoError(t, os.Remove(filepath.Join(f.root, "b.md")))
	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Empty(t, f.chunkIDs(t, "b.md"))
	assert.Empty(t, f.concl.GetBySource(ctx, "b.md"))

	hashes, err := loadJSON[string](filepath.Join(f.persist, fileHashesFile))
	require.NoError(t, err)
	assert.NotContains(t, hashes, "b.md")
}

func TestIndexVault_ExtractsConclusions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.ReasoningEnabled)
	assert.Equal(t, 4, stats.ConclusionsExtracted)
	assert.Equal(t, 4, stats.TotalConclusions)
	assert.Equal(t, 2, f.extractor.batchCalls, "four chunks in batches of two")
	assert.Zero(t, f.extractor.singleCalls)

	got := f.concl.GetBySourceChunk(ctx, "a.md:1")
	require.Len(t, got, 1)
	assert.Equal(t, "First", got[0].Context.Heading)

	cache, err := loadJSON[bool](filepath.Join(f.persist, extractionCacheFile))
	require.NoError(t, err)
	assert.Len(t, cache, 4)
}

func TestIndexVault_ExtractionCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	firstA1 := f.concl.GetBySourceChunk(ctx, "a.md:1")
	require.Len(t, firstA1, 1)

	// Unchanged vault: nothing is extracted again.
	f.extractor.reset()
	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, f.extractor.batchCalls)
	assert.Zero(t, stats.ConclusionsExtracted)
	assert.Equal(t, 4, stats.TotalConclusions)

	// Only the edited section of a.md goes back to the LLM, and the
	// untouched sections keep their conclusions.
	f.extractor.reset()
	f.write(t, "a.md", noteA+"\nEntries expire after an hour.\n")
	stats, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md:2"}, f.extractor.batchIDs)
	assert.Equal(t, 1, stats.ConclusionsExtracted)
	assert.Equal(t, 4, stats.TotalConclusions)
	assert.Equal(t, firstA1, f.concl.GetBySourceChunk(ctx, "a.md:1"))
	assert.Len(t, f.concl.GetBySource(ctx, "a.md"), 3)
}

func TestIndexVault_CachedContentInNewChunkIsExtracted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	// c.md repeats b.md's only chunk; its content hash is cached but c.md
	// has no conclusions yet.
	f.extractor.reset()
	f.write(t, "c.md", noteB)
	_, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.md:0"}, f.extractor.batchIDs)
	assert.Len(t, f.concl.GetBySource(ctx, "c.md"), 1)
}

func TestIndexVault_BatchFallback(t *testing.T) {
	f := newFixture(t, true)
	f.extractor.batchErr = errors.New("malformed reply")
	ctx := context.Background()

	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.extractor.batchCalls)
	assert.Equal(t, 4, f.extractor.singleCalls)
	assert.ElementsMatch(t, []string{"a.md:0", "a.md:1", "a.md:2", "b.md:0"}, f.extractor.singleIDs)
	assert.Equal(t, 4, stats.ConclusionsExtracted)
	assert.Equal(t, 4, f.concl.Count(ctx))
}

func TestIndexVault_CanceledExtractionIsRetried(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.extractor.onBatch = cancel

	_, err := f.ix.IndexVault(ctx, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.concl.Count(context.Background()))

	f.extractor.onBatch = nil
	f.extractor.reset()
	stats, err := f.ix.IndexVault(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 4, stats.ConclusionsExtracted)
	assert.Equal(t, 4, stats.TotalConclusions)
	assert.Len(t, f.extractor.batchIDs, 4)
}

func TestIndexVault_FailedConclusionWriteIsRetried(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	// The edit prunes a.md:2's conclusion, then storing its replacement fails.
	f.write(t, "a.md", noteA+"\nEntries expire after an hour.\n")
	f.extractor.onBatch = func() { f.embedder.SetFail(true) }
	_, err = f.ix.IndexVault(ctx, false)
	require.ErrorIs(t, err, testutil.ErrEmbedderDown)
	assert.Empty(t, f.concl.GetBySourceChunk(ctx, "a.md:2"))

	f.embedder.SetFail(false)
	f.extractor.onBatch = nil
	f.extractor.reset()
	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, []string{"a.md:2"}, f.extractor.batchIDs)
	assert.Equal(t, 4, stats.TotalConclusions)
	assert.Len(t, f.concl.GetBySourceChunk(ctx, "a.md:2"), 1)
}

func TestIndexVault_FailedForcePassIsRetried(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	defer cancel()
	f.extractor.onBatch = cancel
	_, err = f.ix.IndexVault(canceled, true)
	require.ErrorIs(t, err, context.Canceled)

	f.extractor.onBatch = nil
	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 4, stats.TotalConclusions)
}

func TestIndexVault_ForceClearsReasoningState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	f.extractor.reset()
	stats, err := f.ix.IndexVault(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Len(t, f.extractor.batchIDs, 4, "force re-extracts every chunk")
	assert.Equal(t, 4, stats.TotalConclusions)
}

func TestIndexVault_EmbeddingFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.embedder.SetFail(true)
	_, err := f.ix.IndexVault(ctx, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrEmbedderDown)

	f.embedder.SetFail(false)
	stats, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed, "failed pass does not record hashes")
}

func TestIndexVault_Events(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ix.IndexVault(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []events.Type{
		events.IndexStarted,
		events.IndexFile,
		events.IndexFile,
		events.ConclusionsExtracted,
		events.IndexCompleted,
	}, f.publisher.types())

	// Publish failures never fail indexing.
	f.publisher.fail = true
	_, err = f.ix.IndexVault(context.Background(), true)
	assert.NoError(t, err)
}

func TestStats_IndexedAt(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	stats, err := f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.IndexedAt.IsZero(), "never indexed")

	before := time.Now()
	_, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	stats, err = f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.IndexedAt.Before(before))

	reopened, err := f.newIndexer(t).Stats(ctx)
	require.NoError(t, err)
	assert.False(t, reopened.IndexedAt.IsZero(), "falls back to the hash cache")

	require.NoError(t, f.ix.DeleteIndex(ctx))
	stats, err = f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.IndexedAt.IsZero())
}

func TestDeleteIndex(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.ix.IndexVault(ctx, false)
	require.NoError(t, err)

	require.NoError(t, f.ix.DeleteIndex(ctx))
	stats, err := f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
	assert.Zero(t, stats.TotalConclusions)
	assert.Equal(t, 2, stats.TotalFiles)

	cache, err := loadJSON[bool](filepath.Join(f.persist, extractionCacheFile))
	require.NoError(t, err)
	assert.Empty(t, cache)
	assert.Contains(t, f.publisher.types(), events.IndexDeleted)

	f.extractor.reset()
	stats, err = f.ix.IndexVault(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Len(t, f.extractor.batchIDs, 4)
}

func TestStats_JSON(t *testing.T) {
	data, err := json.Marshal(Stats{TotalFiles: 2, TotalChunks: 4, VaultPath: "/v"})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.EqualValues(t, 2, m["total_files"])
	assert.NotContains(t, m, "total_conclusions")
	assert.NotContains(t, m, "reasoning_enabled")
	assert.NotContains(t, m, "vault_revision")

	data, err = json.Marshal(Stats{ReasoningEnabled: true, Revision: &vault.Revision{Commit: "abc"}})
	require.NoError(t, err)
	m = nil
	require.NoError(t, json.Unmarshal(data, &m))
	assert.EqualValues(t, 0, m["total_conclusions"])
	assert.Equal(t, true, m["reasoning_enabled"])
	assert.Equal(t, "abc", m["vault_revision"].(map[string]any)["commit"])
}

func TestSaveJSON_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")
	require.NoError(t, saveJSON(path, map[string]bool{"x": true}))
	require.NoError(t, saveJSON(path, map[string]bool{"y": true}))

	got, err := loadJSON[bool](path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"y": true}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	missing, err := loadJSON[string](filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{}, SplitTags(""))
	assert.Equal(t, []string{"a", "b/c"}, SplitTags("a, b/c,"))
}
