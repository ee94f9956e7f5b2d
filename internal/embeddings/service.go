package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the backend failed to produce embeddings.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrCountMismatch means the backend returned a different number of
	// vectors than it was given texts.
	ErrCountMismatch = fmt.Errorf("%w: vector count does not match input", vectorstore.ErrDimensionMismatch)
)

// DefaultBatchSize is the number of documents sent per backend call.
const DefaultBatchSize = 100

// emptyPlaceholder replaces inputs that are empty after cleaning; most
// backends reject empty strings.
const emptyPlaceholder = "(empty)"

// Backend is a raw embedding source.
type Backend interface {
	vectorstore.Embedder
	Close() error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Model     string
	Dimension int
	BatchSize int
}

// Service wraps a Backend with input cleaning, truncation, batching and
// count checks. It implements Provider.
type Service struct {
	backend   Backend
	model     string
	dimension int
	batchSize int
	logger    *zap.Logger
	metrics   *Metrics
}

var _ Provider = (*Service)(nil)

// NewService wraps backend.
func NewService(backend Backend, cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:   backend,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		logger:    logger,
		metrics:   NewMetrics(logger),
	}, nil
}

// Model returns the configured model name.
func (s *Service) Model() string { return s.model }

// Dimension returns the embedding size.
func (s *Service) Dimension() int { return s.dimension }

// Close releases the backend.
func (s *Service) Close() error { return s.backend.Close() }

func (s *Service) prepare(ctx context.Context, text string, max int) string {
	text = CleanText(text)
	if text == "" {
		return emptyPlaceholder
	}
	text, cut := truncate(text, max)
	if cut {
		s.metrics.RecordTruncation(ctx, s.model, 1)
	}
	return text
}

// EmbedDocuments embeds texts in batches of the configured size. The result
// has exactly one vector per input or the call fails.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = s.prepare(ctx, t, MaxDocumentChars)
		}

		vectors, err := s.call(ctx, "embed_documents", batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}

	s.logger.Debug("embedded documents",
		zap.String("model", s.model),
		zap.Int("count", len(out)))
	return out, nil
}

func (s *Service) call(ctx context.Context, op string, batch []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := s.backend.EmbedDocuments(ctx, batch)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("%w: got %d vectors for %d texts", ErrCountMismatch, len(vectors), len(batch))
	}
	s.metrics.RecordGeneration(ctx, s.model, op, time.Since(start), len(batch), err)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	text = s.prepare(ctx, text, MaxQueryChars)

	start := time.Now()
	vec, err := s.backend.EmbedQuery(ctx, text)
	s.metrics.RecordGeneration(ctx, s.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}
	return vec, nil
}
