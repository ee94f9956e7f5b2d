package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/conclusions"
	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

// ReasoningSearch parameterizes SearchWithReasoning.
type ReasoningSearch struct {
	Query         string
	TopK          int
	Types         []reasoning.ConclusionType
	MinConfidence float64
	Tags          []string
}

// RelatedConclusion is a short reference to a neighbouring conclusion.
type RelatedConclusion struct {
	ID         string  `json:"id"`
	Statement  string  `json:"statement"`
	Similarity float64 `json:"similarity"`
}

// ConclusionResult is a conclusion returned alongside chunk results.
type ConclusionResult struct {
	ID          string                   `json:"id"`
	Type        reasoning.ConclusionType `json:"type"`
	Statement   string                   `json:"statement"`
	Confidence  float64                  `json:"confidence"`
	Evidence    []string                 `json:"evidence"`
	SourcePath  string                   `json:"source_path"`
	Heading     string                   `json:"heading,omitempty"`
	SourceChunk string                   `json:"source_chunk,omitempty"`
	Related     []RelatedConclusion      `json:"related"`
}

// ReasoningResponse holds chunk results and the conclusions matching the
// same query.
type ReasoningResponse struct {
	Query                    string             `json:"query"`
	Results                  []SearchResult     `json:"results"`
	Conclusions              []ConclusionResult `json:"conclusions"`
	TotalChunksSearched      int                `json:"total_chunks_searched"`
	TotalConclusionsSearched int                `json:"total_conclusions_searched"`
}

// Explore parameterizes ExploreConnectedConclusions. Exactly one of Query
// and ConclusionID is used; ConclusionID wins when both are set.
type Explore struct {
	Query         string
	ConclusionID  string
	TopK          int
	MinConfidence float64
}

func validateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return validationf("min_confidence must be between 0 and 1")
	}
	return nil
}

// SearchWithReasoning runs a chunk search and a conclusion search for the
// same query. Without reasoning the conclusion list is empty. Each
// conclusion carries its source chunk text and up to three related
// conclusions; both are best effort.
func (e *Engine) SearchWithReasoning(ctx context.Context, req ReasoningSearch) (*ReasoningResponse, error) {
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	if err := validateTopK(req.TopK); err != nil {
		return nil, err
	}
	if err := validateConfidence(req.MinConfidence); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.SearchWithReasoning")
	defer span.End()

	chunks, err := e.search(ctx, query, req.TopK, req.Tags, 0)
	if err != nil {
		return nil, err
	}
	resp := &ReasoningResponse{
		Query:               query,
		Results:             chunks.Results,
		Conclusions:         []ConclusionResult{},
		TotalChunksSearched: chunks.TotalChunksSearched,
	}
	if e.conclusions == nil {
		return resp, nil
	}

	found, err := e.conclusions.Search(ctx, query, conclusions.SearchOptions{
		TopK:          req.TopK,
		Types:         req.Types,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return nil, err
	}
	for _, sc := range found {
		c := sc.Conclusion
		resp.Conclusions = append(resp.Conclusions, ConclusionResult{
			ID:          c.ID,
			Type:        c.Type,
			Statement:   c.Statement,
			Confidence:  round4(c.Confidence),
			Evidence:    c.Evidence,
			SourcePath:  c.Context.SourcePath,
			Heading:     c.Context.Heading,
			SourceChunk: e.chunkContent(ctx, c.SourceChunkID),
			Related:     e.related(ctx, c.ID),
		})
	}
	resp.TotalConclusionsSearched = e.conclusions.Count(ctx)
	span.SetAttributes(attribute.Int("conclusions", len(resp.Conclusions)))
	return resp, nil
}

// chunkContent returns the stored text of a chunk, or "" if it cannot be read.
func (e *Engine) chunkContent(ctx context.Context, chunkID string) string {
	ev := e.evidence(ctx, chunkID)
	if ev == nil {
		return ""
	}
	return ev.Content
}

func (e *Engine) evidence(ctx context.Context, chunkID string) *reasoning.EvidenceChunk {
	col, err := e.indexer.Collection(ctx)
	if err != nil {
		e.logger.Warn("source chunk lookup failed", zap.String("chunk", chunkID), zap.Error(err))
		return nil
	}
	docs, err := col.Get(ctx, chunkID)
	if err != nil {
		e.logger.Warn("source chunk lookup failed", zap.String("chunk", chunkID), zap.Error(err))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	c := indexer.ChunkFromDocument(docs[0])
	return &reasoning.EvidenceChunk{
		ChunkID:        chunkID,
		Content:        c.Content,
		RelevanceScore: 1.0,
		Context:        c.Context(),
	}
}

func (e *Engine) related(ctx context.Context, id string) []RelatedConclusion {
	out := []RelatedConclusion{}
	for _, sc := range e.conclusions.FindSimilar(ctx, id, relatedConclusions, false) {
		out = append(out, RelatedConclusion{
			ID:         sc.Conclusion.ID,
			Statement:  sc.Conclusion.Statement,
			Similarity: round4(sc.Similarity),
		})
	}
	return out
}

// lookup resolves a conclusion, mapping a miss to ErrNotFound.
func (e *Engine) lookup(ctx context.Context, id string) (*reasoning.Conclusion, error) {
	if e.conclusions == nil {
		return nil, ErrReasoningDisabled
	}
	if id == "" {
		return nil, validationf("conclusion_id is required")
	}
	c, err := e.conclusions.Lookup(ctx, id)
	if errors.Is(err, conclusions.ErrNotFound) {
		return nil, fmt.Errorf("%w: conclusion %s", ErrNotFound, id)
	}
	return c, err
}

// GetConclusion returns one conclusion by ID.
func (e *Engine) GetConclusion(ctx context.Context, id string) (*reasoning.Conclusion, error) {
	return e.lookup(ctx, id)
}

// GetConclusionTrace explains a conclusion: its source chunk as evidence,
// and one similarity hop of neighbours split into parents (same note) and
// children (other notes), each capped at maxDepth.
//
// ConfidencePath is the target's confidence multiplied by each parent's.
// It is a display heuristic, not a probability.
func (e *Engine) GetConclusionTrace(ctx context.Context, id string, maxDepth int) (*reasoning.ReasoningTrace, error) {
	if maxDepth < 1 || maxDepth > MaxTraceDepth {
		return nil, validationf("max_depth must be between 1 and %d", MaxTraceDepth)
	}
	target, err := e.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.GetConclusionTrace")
	defer span.End()
	span.SetAttributes(attribute.String("id", id), attribute.Int("max_depth", maxDepth))

	trace := &reasoning.ReasoningTrace{
		Conclusion:         *target,
		SupportingEvidence: []reasoning.EvidenceChunk{},
		ParentConclusions:  []reasoning.ScoredConclusion{},
		ChildConclusions:   []reasoning.ScoredConclusion{},
	}
	if ev := e.evidence(ctx, target.SourceChunkID); ev != nil {
		trace.SupportingEvidence = append(trace.SupportingEvidence, *ev)
	}

	for _, sc := range e.conclusions.FindSimilar(ctx, id, maxDepth*2, false) {
		sc.Similarity = round4(sc.Similarity)
		if sc.Conclusion.Context.SourcePath == target.Context.SourcePath {
			if len(trace.ParentConclusions) < maxDepth {
				trace.ParentConclusions = append(trace.ParentConclusions, sc)
			}
		} else if len(trace.ChildConclusions) < maxDepth {
			trace.ChildConclusions = append(trace.ChildConclusions, sc)
		}
	}

	path := target.Confidence
	for _, p := range trace.ParentConclusions {
		path *= p.Conclusion.Confidence
	}
	trace.ConfidencePath = round4(path)
	return trace, nil
}

// ExploreConnectedConclusions lists conclusions connected to another
// conclusion or matching a query.
//
// From a conclusion, neighbours in the same note are same_source and the
// rest similar; strength is the similarity, and shared evidence is the
// source chunk when both came from the same one. From a query every result
// is matches_query with its own confidence as strength.
func (e *Engine) ExploreConnectedConclusions(ctx context.Context, req Explore) ([]reasoning.ConnectedConclusion, error) {
	if req.Query == "" && req.ConclusionID == "" {
		return nil, validationf("either query or conclusion_id is required")
	}
	if err := validateTopK(req.TopK); err != nil {
		return nil, err
	}
	if err := validateConfidence(req.MinConfidence); err != nil {
		return nil, err
	}
	if e.conclusions == nil {
		return nil, ErrReasoningDisabled
	}

	ctx, span := tracer.Start(ctx, "engine.ExploreConnectedConclusions")
	defer span.End()

	out := []reasoning.ConnectedConclusion{}
	if req.ConclusionID != "" {
		target, err := e.lookup(ctx, req.ConclusionID)
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, sc := range e.conclusions.FindSimilar(ctx, target.ID, req.TopK, false) {
			if sc.Conclusion.Confidence < req.MinConfidence {
				continue
			}
			rel := reasoning.RelationshipSimilar
			if sc.Conclusion.Context.SourcePath == target.Context.SourcePath {
				rel = reasoning.RelationshipSameSource
			}
			shared := []string{}
			if sc.Conclusion.SourceChunkID == target.SourceChunkID {
				shared = append(shared, target.SourceChunkID)
			}
			out = append(out, reasoning.ConnectedConclusion{
				Conclusion:     sc.Conclusion,
				Relationship:   rel,
				Strength:       round4(sc.Similarity),
				SharedEvidence: shared,
			})
		}
		span.SetAttributes(attribute.String("mode", "conclusion"), attribute.Int("results", len(out)))
		return out, nil
	}

	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	found, err := e.conclusions.Search(ctx, query, conclusions.SearchOptions{
		TopK:          req.TopK,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return nil, err
	}
	for _, sc := range found {
		out = append(out, reasoning.ConnectedConclusion{
			Conclusion:     sc.Conclusion,
			Relationship:   reasoning.RelationshipMatchesQuery,
			Strength:       round4(sc.Conclusion.Confidence),
			SharedEvidence: []string{},
		})
	}
	span.SetAttributes(attribute.String("mode", "query"), attribute.Int("results", len(out)))
	return out, nil
}

// GetConclusionsForNote returns every conclusion extracted from a note.
func (e *Engine) GetConclusionsForNote(ctx context.Context, path string) ([]reasoning.Conclusion, error) {
	if e.conclusions == nil {
		return nil, ErrReasoningDisabled
	}
	if path == "" {
		return nil, validationf("path cannot be empty")
	}
	return e.conclusions.GetBySource(ctx, path), nil
}

// GetConclusionsForChunk returns every conclusion extracted from one chunk.
func (e *Engine) GetConclusionsForChunk(ctx context.Context, chunkID string) ([]reasoning.Conclusion, error) {
	if e.conclusions == nil {
		return nil, ErrReasoningDisabled
	}
	if chunkID == "" {
		return nil, validationf("chunk_id cannot be empty")
	}
	return e.conclusions.GetBySourceChunk(ctx, chunkID), nil
}

// ConclusionCounts reports how many conclusions of each type are stored.
func (e *Engine) ConclusionCounts(ctx context.Context) (map[reasoning.ConclusionType]int, error) {
	if e.conclusions == nil {
		return nil, ErrReasoningDisabled
	}
	return e.conclusions.CountByType(ctx), nil
}
