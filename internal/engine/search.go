package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

// SearchResult is one matching chunk.
type SearchResult struct {
	Content    string   `json:"content"`
	SourcePath string   `json:"source_path"`
	Title      string   `json:"title"`
	Heading    string   `json:"heading,omitempty"`
	Tags       []string `json:"tags"`
	Score      float64  `json:"score"`
	ChunkIndex int      `json:"chunk_index"`
}

// SearchResponse is a ranked list of chunks.
type SearchResponse struct {
	Query               string         `json:"query"`
	Results             []SearchResult `json:"results"`
	TotalChunksSearched int            `json:"total_chunks_searched"`
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func validateQuery(query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", validationf("query cannot be empty")
	}
	if r := []rune(query); len(r) > MaxQueryLength {
		query = string(r[:MaxQueryLength])
	}
	return query, nil
}

func validateTopK(topK int) error {
	if topK < 1 {
		return validationf("top_k must be at least 1")
	}
	if topK > MaxTopK {
		return validationf("top_k cannot exceed %d", MaxTopK)
	}
	return nil
}

func round4(f float64) float64 { return math.Round(f*1e4) / 1e4 }

// Search returns up to topK chunks most similar to query. With tags, a
// chunk must carry at least one of them, either in its metadata or as an
// inline #tag. Chunks scoring below minScore are dropped.
func (e *Engine) Search(ctx context.Context, query string, topK int, tags []string, minScore float64) (*SearchResponse, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	if err := validateTopK(topK); err != nil {
		return nil, err
	}
	return e.search(ctx, query, topK, tags, minScore)
}

func (e *Engine) search(ctx context.Context, query string, topK int, tags []string, minScore float64) (resp *SearchResponse, err error) {
	ctx, span := tracer.Start(ctx, "engine.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Int("tags", len(tags)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
		}
	}()

	resp = &SearchResponse{Query: query, Results: []SearchResult{}}
	col, err := e.indexer.Collection(ctx)
	if err != nil {
		return nil, err
	}
	total, err := col.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if total == 0 {
		return resp, nil
	}
	resp.TotalChunksSearched = total

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := col.Query(ctx, vectorstore.Query{Embedding: vec, TopK: topK * 2})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		score := r.Similarity()
		if score < minScore {
			continue
		}
		c := indexer.ChunkFromDocument(r.Document)
		if len(tags) > 0 && !hasAnyTag(c.Tags, c.Content, tags) {
			continue
		}
		resp.Results = append(resp.Results, SearchResult{
			Content:    c.Content,
			SourcePath: c.SourcePath,
			Title:      c.Title,
			Heading:    c.Heading,
			Tags:       c.Tags,
			Score:      round4(score),
			ChunkIndex: c.ChunkIndex,
		})
	}
	sort.SliceStable(resp.Results, func(i, j int) bool { return resp.Results[i].Score > resp.Results[j].Score })
	if len(resp.Results) > topK {
		resp.Results = resp.Results[:topK]
	}
	span.SetAttributes(attribute.Int("results", len(resp.Results)))
	return resp, nil
}

func hasAnyTag(chunkTags []string, content string, want []string) bool {
	for _, w := range want {
		w = strings.TrimPrefix(strings.TrimSpace(w), "#")
		if w == "" {
			continue
		}
		for _, t := range chunkTags {
			if strings.EqualFold(t, w) {
				return true
			}
		}
		if strings.Contains(content, "#"+w) {
			return true
		}
	}
	return false
}

// GetNote returns the content of the note at the vault-relative path. Paths
// outside the vault are reported as not found.
func (e *Engine) GetNote(_ context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", validationf("path cannot be empty")
	}
	content, err := e.vault.Read(path)
	if errors.Is(err, vault.ErrNotFound) {
		return "", fmt.Errorf("%w: note %s", ErrNotFound, path)
	}
	return content, err
}

// GetRelated finds chunks from other notes that resemble the note at path.
// A missing note yields an empty response.
func (e *Engine) GetRelated(ctx context.Context, path string, topK int) (*SearchResponse, error) {
	if err := validateTopK(topK); err != nil {
		return nil, err
	}
	label := "related to: " + path
	content, err := e.GetNote(ctx, path)
	if errors.Is(err, ErrNotFound) || (err == nil && strings.TrimSpace(content) == "") {
		return &SearchResponse{Query: label, Results: []SearchResult{}}, nil
	}
	if err != nil {
		return nil, err
	}

	if r := []rune(content); len(r) > relatedQueryLength {
		content = string(r[:relatedQueryLength])
	}
	resp, err := e.search(ctx, content, topK+5, nil, 0)
	if err != nil {
		return nil, err
	}

	related := make([]SearchResult, 0, topK)
	for _, r := range resp.Results {
		if r.SourcePath == path {
			continue
		}
		related = append(related, r)
		if len(related) == topK {
			break
		}
	}
	return &SearchResponse{Query: label, Results: related, TotalChunksSearched: resp.TotalChunksSearched}, nil
}

// ListRecent returns up to limit notes, newest first.
func (e *Engine) ListRecent(ctx context.Context, limit int) ([]vault.NoteInfo, error) {
	if limit < 1 || limit > MaxRecent {
		return nil, validationf("limit must be between 1 and %d", MaxRecent)
	}
	return e.vault.ListRecent(ctx, limit)
}

// Index runs one indexing pass.
func (e *Engine) Index(ctx context.Context, force bool) (*indexer.Stats, error) {
	return e.indexer.IndexVault(ctx, force)
}

// Stats reports the current index.
func (e *Engine) Stats(ctx context.Context) (*indexer.Stats, error) {
	return e.indexer.Stats(ctx)
}

// DeleteIndex removes every chunk, conclusion and cache entry.
func (e *Engine) DeleteIndex(ctx context.Context) error {
	e.logger.Info("deleting index", zap.String("vault", e.vault.Root()))
	return e.indexer.DeleteIndex(ctx)
}
