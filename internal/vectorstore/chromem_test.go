package vectorstore_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

const testDim = 64

// wordEmbedder hashes words into buckets, so texts sharing words are close.
type wordEmbedder struct {
	calls int
	fail  bool
}

func (e *wordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return embedWords(text), nil
}

func embedWords(text string) []float32 {
	v := make([]float32, testDim)
	v[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%uint32(testDim-1))] += 1
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func newMemStore(t *testing.T) (*vectorstore.ChromemStore, *wordEmbedder) {
	t.Helper()
	emb := &wordEmbedder{}
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, VectorSize: testDim}, emb, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, emb
}

func seed(t *testing.T, col vectorstore.Collection) {
	t.Helper()
	docs := []vectorstore.Document{
		{ID: "c1", Content: "cache warm requests fast", Metadata: vectorstore.Metadata{"source_path": "a.md", "type": "deductive", "confidence": 0.9}},
		{ID: "c2", Content: "cache cold requests slow", Metadata: vectorstore.Metadata{"source_path": "a.md", "type": "inductive", "confidence": 0.3}},
		{ID: "c3", Content: "deploys happen on friday", Metadata: vectorstore.Metadata{"source_path": "b.md", "type": "abductive", "confidence": 0.6}},
		{ID: "c4", Content: "cache eviction policy lru", Metadata: vectorstore.Metadata{"source_path": "b.md", "type": "deductive", "confidence": 0.5}},
	}
	require.NoError(t, col.Upsert(context.Background(), docs))
}

func ids(results []vectorstore.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestChromemConfig_ApplyDefaults(t *testing.T) {
	var c vectorstore.ChromemConfig
	c.ApplyDefaults()
	assert.Equal(t, ".chroma", c.Path)
	assert.Equal(t, 1536, c.VectorSize)

	mem := vectorstore.ChromemConfig{InMemory: true}
	mem.ApplyDefaults()
	assert.Empty(t, mem.Path)
}

func TestChromemStore_CollectionNames(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()

	_, err := s.Collection(ctx, "Bad-Name")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	a, err := s.Collection(ctx, "conclusions")
	require.NoError(t, err)
	b, err := s.Collection(ctx, "conclusions")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "conclusions", a.Name())
}

func TestChromemStore_UpsertAndGet(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)

	assert.ErrorIs(t, col.Upsert(ctx, nil), vectorstore.ErrEmptyDocuments)

	seed(t, col)
	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Upsert replaces by id.
	require.NoError(t, col.Upsert(ctx, []vectorstore.Document{
		{ID: "c1", Content: "cache warm requests very fast", Metadata: vectorstore.Metadata{"source_path": "a.md", "confidence": 0.95}},
	}))
	n, _ = col.Count(ctx)
	assert.Equal(t, 4, n)

	docs, err := col.Get(ctx, "c1", "missing")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cache warm requests very fast", docs[0].Content)
	f, ok := docs[0].Metadata.Float("confidence")
	require.True(t, ok)
	assert.Equal(t, 0.95, f)
}

func TestChromemStore_QueryFilters(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)
	seed(t, col)

	t.Run("ranked by similarity", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Text: "cache warm fast", TopK: 2})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "c1", res[0].ID)
		assert.GreaterOrEqual(t, res[0].Similarity(), res[1].Similarity())
	})

	t.Run("equality pushed down", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Text: "cache", TopK: 10, Filter: vectorstore.NewFilter().Eq("source_path", "b.md")})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c3", "c4"}, ids(res))
	})

	t.Run("range is exact", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Text: "cache", TopK: 10, Filter: vectorstore.NewFilter().Gte("confidence", 0.5)})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c1", "c3", "c4"}, ids(res))
		for _, r := range res {
			c, _ := r.Metadata.Float("confidence")
			assert.GreaterOrEqual(t, c, 0.5)
		}
	})

	t.Run("one of", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Text: "cache", TopK: 10, Filter: vectorstore.NewFilter().In("type", "inductive", "abductive")})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c2", "c3"}, ids(res))
	})

	t.Run("residual filter fills top k", func(t *testing.T) {
		// Without evaluating the residual over the full candidate set, the
		// low-confidence nearest neighbour would crowd out a valid match.
		res, err := col.Query(ctx, vectorstore.Query{
			Text:   "cache cold requests slow",
			TopK:   1,
			Filter: vectorstore.NewFilter().Eq("source_path", "a.md").Gte("confidence", 0.5),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, ids(res))
	})

	t.Run("top k larger than collection", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Text: "cache", TopK: 50})
		require.NoError(t, err)
		assert.Len(t, res, 4)
	})

	t.Run("precomputed embedding", func(t *testing.T) {
		res, err := col.Query(ctx, vectorstore.Query{Embedding: embedWords("deploys friday"), TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"c3"}, ids(res))
	})

	t.Run("invalid top k", func(t *testing.T) {
		_, err := col.Query(ctx, vectorstore.Query{Text: "x", TopK: 0})
		assert.Error(t, err)
	})
}

func TestChromemStore_QueryEmptyCollection(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "empty")
	require.NoError(t, err)

	res, err := col.Query(ctx, vectorstore.Query{Text: "anything", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestChromemStore_FindAndDelete(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)
	seed(t, col)

	docs, err := col.Find(ctx, vectorstore.NewFilter().Eq("source_path", "a.md"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = col.Delete(ctx, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)

	n, err := col.Delete(ctx, vectorstore.NewFilter().Eq("source_path", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, _ := col.Count(ctx)
	assert.Equal(t, 2, count)

	docs, err = col.Find(ctx, vectorstore.NewFilter().Eq("source_path", "a.md"))
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err = col.Delete(ctx, vectorstore.NewFilter().Eq("source_path", "nowhere.md"))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, col.DeleteIDs(ctx, "c3"))
	count, _ = col.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestChromemStore_DeleteCollection(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)
	seed(t, col)

	require.NoError(t, s.DeleteCollection(ctx, "docs"))
	require.NoError(t, s.DeleteCollection(ctx, "docs"), "deleting twice is fine")

	col, err = s.Collection(ctx, "docs")
	require.NoError(t, err)
	n, _ := col.Count(ctx)
	assert.Zero(t, n)
}

func TestChromemStore_NoEmbedder(t *testing.T) {
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, VectorSize: testDim}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)

	require.NoError(t, col.Upsert(ctx, []vectorstore.Document{{ID: "x", Content: "x", Embedding: embedWords("x")}}))

	_, err = col.Query(ctx, vectorstore.Query{Text: "x", TopK: 1})
	assert.ErrorIs(t, err, vectorstore.ErrNoEmbedder)

	res, err := col.Query(ctx, vectorstore.Query{Embedding: embedWords("x"), TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(res))
}

func TestChromemStore_EmbedderFailure(t *testing.T) {
	s, emb := newMemStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "docs")
	require.NoError(t, err)
	seed(t, col)

	emb.fail = true
	_, err = col.Query(ctx, vectorstore.Query{Text: "cache", TopK: 1})
	assert.ErrorIs(t, err, vectorstore.ErrEmbeddingFailed)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := vectorstore.ChromemConfig{Path: dir, VectorSize: testDim}

	s1, err := vectorstore.NewChromemStore(cfg, &wordEmbedder{}, nil)
	require.NoError(t, err)
	col, err := s1.Collection(ctx, "docs")
	require.NoError(t, err)
	seed(t, col)
	require.NoError(t, s1.Close())

	s2, err := vectorstore.NewChromemStore(cfg, &wordEmbedder{}, nil)
	require.NoError(t, err)
	col, err = s2.Collection(ctx, "docs")
	require.NoError(t, err)

	n, _ := col.Count(ctx)
	assert.Equal(t, 4, n)

	// Listing after reload relies on the configured vector size.
	docs, err := col.Find(ctx, vectorstore.NewFilter().Eq("type", "deductive"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
