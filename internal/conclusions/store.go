// Package conclusions persists extracted conclusions in a vector collection
// and answers semantic and metadata queries over them.
//
// Read paths degrade: a backend failure is logged, counted, and reported as
// an empty result. Write paths (Add, DeleteBySource, Clear) return errors,
// and an embedding failure during Add aborts the whole batch.
package conclusions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

// DefaultCollection is the collection conclusions live in.
const DefaultCollection = "conclusions"

// DefaultTopK is used when a search asks for zero results.
const DefaultTopK = 10

var tracer = otel.Tracer("obsidian-rag.conclusions")

// SearchOptions restricts a conclusion search. Zero values mean no filter.
type SearchOptions struct {
	TopK          int
	Types         []reasoning.ConclusionType
	MinConfidence float64
	SourcePath    string
}

// Option configures a Store.
type Option func(*Store)

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(s *Store) { s.collection = name }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the conclusion store.
type Store struct {
	vs         vectorstore.Store
	embedder   vectorstore.Embedder
	collection string
	logger     *zap.Logger
}

// NewStore creates a conclusion store over vs. embedder may be nil, in which
// case statements are embedded by the collection itself.
func NewStore(vs vectorstore.Store, embedder vectorstore.Embedder, opts ...Option) (*Store, error) {
	if vs == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	s := &Store{
		vs:         vs,
		embedder:   embedder,
		collection: DefaultCollection,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CollectionName returns the backing collection name.
func (s *Store) CollectionName() string { return s.collection }

func (s *Store) open(ctx context.Context) (vectorstore.Collection, error) {
	col, err := s.vs.Collection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", s.collection, err)
	}
	return col, nil
}

// degrade logs a failed read and records it.
func (s *Store) degrade(op string, err error, fields ...zap.Field) {
	readFailures.WithLabelValues(op).Inc()
	s.logger.Warn("conclusion store read failed",
		append(fields, zap.String("op", op), zap.Error(err))...)
}

// Add upserts conclusions by ID and returns how many were written.
func (s *Store) Add(ctx context.Context, items []reasoning.Conclusion) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "conclusions.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(items)))
	start := time.Now()

	for _, c := range items {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidConclusion, err)
		}
	}

	var vectors [][]float32
	if s.embedder != nil {
		statements := make([]string, len(items))
		for i, c := range items {
			statements[i] = c.Statement
		}
		var err error
		vectors, err = s.embedder.EmbedDocuments(ctx, statements)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return 0, fmt.Errorf("embedding %d statements: %w", len(statements), err)
		}
		if len(vectors) != len(statements) {
			err := fmt.Errorf("%w: got %d embeddings for %d statements",
				vectorstore.ErrDimensionMismatch, len(vectors), len(statements))
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding count mismatch")
			return 0, err
		}
	}

	docs := make([]vectorstore.Document, len(items))
	for i, c := range items {
		var vec []float32
		if vectors != nil {
			vec = vectors[i]
		}
		doc, err := encode(c, vec)
		if err != nil {
			return 0, err
		}
		docs[i] = doc
	}

	col, err := s.open(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return 0, storageErr("add", err)
	}
	if err := col.Upsert(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return 0, storageErr("add", err)
	}

	addedTotal.Add(float64(len(docs)))
	s.logger.Debug("conclusions stored",
		zap.Int("count", len(docs)),
		zap.Duration("duration", time.Since(start)))
	return len(docs), nil
}

// Lookup returns the conclusion with the given ID. A missing conclusion is
// ErrNotFound; a backend failure is a *StorageError.
func (s *Store) Lookup(ctx context.Context, id string) (*reasoning.Conclusion, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	col, err := s.open(ctx)
	if err != nil {
		return nil, storageErr("get", err)
	}
	docs, err := col.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	c, err := decode(docs[0])
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &c, nil
}

// Get is Lookup for callers that treat a backend failure like a miss. The
// failure is logged.
func (s *Store) Get(ctx context.Context, id string) *reasoning.Conclusion {
	c, err := s.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.degrade("get", err, zap.String("id", id))
		}
		return nil
	}
	return c
}

// Search returns conclusions ranked by similarity to query. MinConfidence,
// Types and SourcePath are applied by the collection, so exactly TopK
// candidates are requested.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]reasoning.ScoredConclusion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if opts.TopK < 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", opts.TopK)
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}

	ctx, span := tracer.Start(ctx, "conclusions.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", opts.TopK),
		attribute.Float64("min_confidence", opts.MinConfidence),
	)

	q := vectorstore.Query{TopK: opts.TopK, Filter: searchFilter(opts)}
	if s.embedder != nil {
		vec, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			s.degrade("search", err)
			return []reasoning.ScoredConclusion{}, nil
		}
		q.Embedding = vec
	} else {
		q.Text = query
	}

	col, err := s.open(ctx)
	if err != nil {
		s.degrade("search", err)
		return []reasoning.ScoredConclusion{}, nil
	}
	results, err := col.Query(ctx, q)
	if err != nil {
		span.RecordError(err)
		s.degrade("search", err)
		return []reasoning.ScoredConclusion{}, nil
	}

	out := s.scored(results, "")
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func searchFilter(opts SearchOptions) *vectorstore.Filter {
	f := vectorstore.NewFilter()
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		f.In(keyType, types...)
	}
	if opts.SourcePath != "" {
		f.Eq(keySourcePath, opts.SourcePath)
	}
	if opts.MinConfidence > 0 {
		f.Gte(keyConfidence, opts.MinConfidence)
	}
	return f
}

// scored decodes results, dropping any with ID skip and any that fail to decode.
func (s *Store) scored(results []vectorstore.Result, skip string) []reasoning.ScoredConclusion {
	out := make([]reasoning.ScoredConclusion, 0, len(results))
	for _, r := range results {
		if r.ID == skip {
			continue
		}
		c, err := decode(r.Document)
		if err != nil {
			s.logger.Warn("skipping undecodable conclusion", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, reasoning.ScoredConclusion{Conclusion: c, Similarity: r.Similarity()})
	}
	return out
}

// GetBySource returns every conclusion derived from sourcePath, unranked.
func (s *Store) GetBySource(ctx context.Context, sourcePath string) []reasoning.Conclusion {
	return s.find(ctx, "get_by_source", vectorstore.NewFilter().Eq(keySourcePath, sourcePath))
}

// GetBySourceChunk returns every conclusion derived from one chunk.
func (s *Store) GetBySourceChunk(ctx context.Context, chunkID string) []reasoning.Conclusion {
	return s.find(ctx, "get_by_source_chunk", vectorstore.NewFilter().Eq(keySourceChunkID, chunkID))
}

func (s *Store) find(ctx context.Context, op string, filter *vectorstore.Filter) []reasoning.Conclusion {
	col, err := s.open(ctx)
	if err != nil {
		s.degrade(op, err)
		return []reasoning.Conclusion{}
	}
	docs, err := col.Find(ctx, filter)
	if err != nil {
		s.degrade(op, err, zap.String("filter", filter.String()))
		return []reasoning.Conclusion{}
	}
	out := make([]reasoning.Conclusion, 0, len(docs))
	for _, d := range docs {
		c, err := decode(d)
		if err != nil {
			s.logger.Warn("skipping undecodable conclusion", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// DeleteBySource removes every conclusion derived from sourcePath.
func (s *Store) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	if sourcePath == "" {
		return 0, fmt.Errorf("source path cannot be empty")
	}
	col, err := s.open(ctx)
	if err != nil {
		return 0, storageErr("delete_by_source", err)
	}
	n, err := col.Delete(ctx, vectorstore.NewFilter().Eq(keySourcePath, sourcePath))
	if err != nil {
		return 0, storageErr("delete_by_source", err)
	}
	if n > 0 {
		s.logger.Debug("conclusions deleted",
			zap.String("source_path", sourcePath),
			zap.Int("count", n))
	}
	return n, nil
}

// Delete removes conclusions by ID. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.open(ctx)
	if err != nil {
		return storageErr("delete", err)
	}
	if err := col.DeleteIDs(ctx, ids...); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// Count returns the number of stored conclusions, or 0 when the backend
// cannot be read.
func (s *Store) Count(ctx context.Context) int {
	col, err := s.open(ctx)
	if err != nil {
		s.degrade("count", err)
		return 0
	}
	n, err := col.Count(ctx)
	if err != nil {
		s.degrade("count", err)
		return 0
	}
	return n
}

// CountByType tallies stored conclusions per type.
func (s *Store) CountByType(ctx context.Context) map[reasoning.ConclusionType]int {
	out := make(map[reasoning.ConclusionType]int, len(reasoning.AllTypes))
	for _, t := range reasoning.AllTypes {
		out[t] = len(s.find(ctx, "count_by_type", vectorstore.NewFilter().Eq(keyType, string(t))))
	}
	return out
}

// FindSimilar returns up to topK conclusions closest to the statement of the
// conclusion with the given ID. The conclusion itself is never included.
// With excludeSameSource, conclusions from the same note are skipped too.
func (s *Store) FindSimilar(ctx context.Context, id string, topK int, excludeSameSource bool) []reasoning.ScoredConclusion {
	if topK <= 0 {
		return []reasoning.ScoredConclusion{}
	}
	target := s.Get(ctx, id)
	if target == nil {
		return []reasoning.ScoredConclusion{}
	}

	ctx, span := tracer.Start(ctx, "conclusions.FindSimilar")
	defer span.End()
	span.SetAttributes(attribute.String("id", id), attribute.Int("top_k", topK))

	// The filter language has no inequality, so over-fetch by however many
	// candidates the exclusions can remove.
	fetch := topK + 1
	if excludeSameSource {
		fetch += len(s.GetBySource(ctx, target.Context.SourcePath))
	}

	q := vectorstore.Query{TopK: fetch}
	if s.embedder != nil {
		vec, err := s.embedder.EmbedQuery(ctx, target.Statement)
		if err != nil {
			s.degrade("find_similar", err, zap.String("id", id))
			return []reasoning.ScoredConclusion{}
		}
		q.Embedding = vec
	} else {
		q.Text = target.Statement
	}

	col, err := s.open(ctx)
	if err != nil {
		s.degrade("find_similar", err, zap.String("id", id))
		return []reasoning.ScoredConclusion{}
	}
	results, err := col.Query(ctx, q)
	if err != nil {
		span.RecordError(err)
		s.degrade("find_similar", err, zap.String("id", id))
		return []reasoning.ScoredConclusion{}
	}

	out := make([]reasoning.ScoredConclusion, 0, topK)
	for _, sc := range s.scored(results, id) {
		if excludeSameSource && sc.Conclusion.Context.SourcePath == target.Context.SourcePath {
			continue
		}
		out = append(out, sc)
		if len(out) == topK {
			break
		}
	}
	return out
}

// Clear drops and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.vs.DeleteCollection(ctx, s.collection); err != nil {
		return storageErr("clear", err)
	}
	if _, err := s.open(ctx); err != nil {
		return storageErr("clear", err)
	}
	s.logger.Info("conclusion store cleared", zap.String("collection", s.collection))
	return nil
}
