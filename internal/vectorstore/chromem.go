package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("obsidian-rag.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty with InMemory unset falls
	// back to ".chroma".
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// InMemory skips persistence entirely. Used by tests.
	InMemory bool

	// VectorSize is the embedding dimension. It sizes the probe vector used
	// for unranked listing when a collection's dimension is not yet known.
	// Default: 1536
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" && !c.InMemory {
		c.Path = ".chroma"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store on chromem-go.
//
// chromem-go only understands exact string equality in its where clause, so
// equality conditions are pushed down and one-of and range conditions are
// evaluated here over the full filtered candidate set before truncating to
// TopK. Results are exact, not approximations from over-fetching.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromemCollection
}

// NewChromemStore creates a ChromemStore. embedder may be nil, in which case
// every upserted document must carry an embedding and text queries fail with
// ErrNoEmbedder.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.InMemory {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = NewResilientChromemDB(expandedPath, config.Compress, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expandedPath
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("in_memory", config.InMemory),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemStore{
		db:          db,
		embedder:    embedder,
		config:      config,
		logger:      logger,
		collections: make(map[string]*chromemCollection),
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if s.embedder == nil {
			return nil, ErrNoEmbedder
		}
		v, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return v, nil
	}
}

// Collection returns the named collection, creating it if needed.
func (s *ChromemStore) Collection(ctx context.Context, name string) (Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	c := &chromemCollection{name: name, col: col, store: s}
	s.collections[name] = c
	return c, nil
}

// DeleteCollection drops a collection.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections, name)
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	s.logger.Info("collection deleted", zap.String("collection", name))
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

type chromemCollection struct {
	name  string
	col   *chromem.Collection
	store *ChromemStore

	dimMu sync.Mutex
	dim   int
}

func (c *chromemCollection) Name() string { return c.name }

func (c *chromemCollection) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	start := time.Now()
	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document %d has no id", ErrInvalidConfig, i)
		}
		if len(d.Embedding) > 0 {
			c.rememberDim(len(d.Embedding))
		}
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  stringMetadata(d.Metadata),
			Embedding: d.Embedding,
		}
	}

	if err := c.col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		observeOperation("chromem", "upsert", start, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting into %s: %w", c.name, err)
	}
	observeOperation("chromem", "upsert", start, nil)
	if c.knownDim() == 0 {
		if d, err := c.col.GetByID(ctx, docs[0].ID); err == nil && len(d.Embedding) > 0 {
			c.rememberDim(len(d.Embedding))
		}
	}
	c.store.logger.Debug("documents upserted",
		zap.String("collection", c.name),
		zap.Int("count", len(docs)),
	)
	return nil
}

func (c *chromemCollection) Query(ctx context.Context, q Query) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("top_k", q.TopK),
		attribute.String("filter", q.Filter.String()),
	)

	if q.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", q.TopK)
	}
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	vec := q.Embedding
	if len(vec) == 0 {
		if q.Text == "" {
			return nil, fmt.Errorf("query needs text or an embedding")
		}
		var err error
		vec, err = c.store.embeddingFunc()(ctx, q.Text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	start := time.Now()
	results, err := c.query(ctx, vec, q.TopK, q.Filter)
	observeOperation("chromem", "query", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", c.name, err)
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// query fetches every document passing the pushed-down equality filter,
// applies the residual conditions, then truncates to topK.
func (c *chromemCollection) query(ctx context.Context, vec []float32, topK int, filter *Filter) ([]Result, error) {
	total := c.col.Count()
	if total == 0 {
		return nil, nil
	}

	where, residual := chromemWhere(filter)
	n := topK
	if !residual.IsEmpty() {
		n = total
	}
	if n > total {
		n = total
	}

	raw, err := c.col.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, min(len(raw), topK))
	for _, r := range raw {
		md := fromStringMetadata(r.Metadata)
		if !residual.Match(md) {
			continue
		}
		results = append(results, Result{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  md,
				Embedding: r.Embedding,
			},
			Distance: 1 - float64(r.Similarity),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (c *chromemCollection) Get(ctx context.Context, ids ...string) ([]Document, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.Int("ids", len(ids)))

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		d, err := c.col.GetByID(ctx, id)
		if err != nil {
			// chromem reports a missing id as an error.
			continue
		}
		docs = append(docs, Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  fromStringMetadata(d.Metadata),
			Embedding: d.Embedding,
		})
	}
	return docs, nil
}

func (c *chromemCollection) Find(ctx context.Context, filter *Filter) ([]Document, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Find")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.String("filter", filter.String()))

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	total := c.col.Count()
	if total == 0 {
		return nil, nil
	}

	start := time.Now()
	where, residual := chromemWhere(filter)
	raw, err := c.col.QueryEmbedding(ctx, c.probe(), total, where, nil)
	observeOperation("chromem", "find", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing %s: %w", c.name, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, r := range raw {
		md := fromStringMetadata(r.Metadata)
		if !residual.Match(md) {
			continue
		}
		docs = append(docs, Document{ID: r.ID, Content: r.Content, Metadata: md, Embedding: r.Embedding})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (c *chromemCollection) Delete(ctx context.Context, filter *Filter) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.String("filter", filter.String()))

	if filter.IsEmpty() {
		return 0, fmt.Errorf("%w: delete requires a filter", ErrInvalidConfig)
	}

	docs, err := c.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if err := c.DeleteIDs(ctx, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("deleted", len(ids)))
	return len(ids), nil
}

func (c *chromemCollection) DeleteIDs(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	err := c.col.Delete(ctx, nil, nil, ids...)
	observeOperation("chromem", "delete", start, err)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", c.name, err)
	}
	return nil
}

func (c *chromemCollection) Count(ctx context.Context) (int, error) {
	n := c.col.Count()
	documentsGauge.WithLabelValues(c.name).Set(float64(n))
	return n, nil
}

func (c *chromemCollection) rememberDim(n int) {
	c.dimMu.Lock()
	c.dim = n
	c.dimMu.Unlock()
}

func (c *chromemCollection) knownDim() int {
	c.dimMu.Lock()
	defer c.dimMu.Unlock()
	return c.dim
}

// probe returns a unit vector used to enumerate documents without a query.
// Every similarity is computed, so its direction only affects ordering.
func (c *chromemCollection) probe() []float32 {
	dim := c.knownDim()
	if dim == 0 {
		dim = c.store.config.VectorSize
	}
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// chromemWhere converts equality conditions into a chromem where clause and
// returns the rest as a residual filter.
func chromemWhere(filter *Filter) (map[string]string, *Filter) {
	seen := make(map[string]bool)
	pushdown, residual := filter.split(func(c Condition) bool {
		// chromem's where is a map, so only the first equality per field fits.
		if c.Op != OpEq || seen[c.Field] {
			return false
		}
		seen[c.Field] = true
		return true
	})
	if pushdown.IsEmpty() {
		return nil, residual
	}
	where := make(map[string]string, len(pushdown.Conditions))
	for _, c := range pushdown.Conditions {
		where[c.Field] = FormatValue(c.Value)
	}
	return where, residual
}

var _ Store = (*ChromemStore)(nil)
var _ Collection = (*chromemCollection)(nil)
