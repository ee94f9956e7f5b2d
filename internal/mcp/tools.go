package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/logging"
)

// toolError carries the exact text a client should see. It unwraps to the
// engine error so metrics still label its outcome.
type toolError struct {
	msg string
	err error
}

func (e *toolError) Error() string { return e.msg }
func (e *toolError) Unwrap() error { return e.err }

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorText renders err the way clients expect to read it.
func errorText(err error) string {
	var te *toolError
	switch {
	case errors.As(err, &te):
		return te.msg
	case errors.Is(err, engine.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), engine.ErrValidation.Error()+": ")
		return "Validation error: " + msg
	case errors.Is(err, engine.ErrReasoningDisabled):
		return "Error: reasoning is not enabled; re-index with reasoning turned on"
	default:
		return "Error: " + err.Error()
	}
}

// addTool registers a tool whose handler returns a result or an error. It
// records metrics and turns errors into IsError results.
func addTool[In any](s *Server, tool *mcp.Tool, run func(context.Context, In) (*mcp.CallToolResult, error)) {
	mcp.AddTool(s.mcp, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		ctx = logging.WithTool(ctx, tool.Name)
		done := s.metrics.start(ctx, tool.Name)
		res, err := run(ctx, args)
		done(err)

		if err != nil {
			if errors.Is(err, engine.ErrValidation) || errors.Is(err, engine.ErrNotFound) {
				s.logger.Warn("tool rejected", append(logging.ContextFields(ctx), zap.Error(err))...)
			} else {
				s.logger.Error("tool failed", append(logging.ContextFields(ctx), zap.Error(err))...)
			}
			res = textResult(errorText(err))
			res.IsError = true
		}
		return res, nil, nil
	})
}

type searchVaultInput struct {
	Query string   `json:"query" jsonschema:"Natural language search query"`
	TopK  any      `json:"top_k,omitempty" jsonschema:"Number of results to return (1-50, default: 5)"`
	Tags  []string `json:"tags,omitempty" jsonschema:"Optional: filter by tags (e.g. ['rca', 'billing'])"`
}

type searchByTagInput struct {
	Tags  []string `json:"tags" jsonschema:"Tags to search for (OR logic)"`
	Query string   `json:"query,omitempty" jsonschema:"Optional: semantic query to rank results. If omitted, tags are used as the query."`
	TopK  any      `json:"top_k,omitempty" jsonschema:"Number of results to return (1-50, default: 5)"`
}

type getNoteInput struct {
	Path string `json:"path" jsonschema:"Relative path to the note (e.g. 'RCAs/incident.md')"`
}

type getRelatedInput struct {
	Path string `json:"path" jsonschema:"Path to the source note"`
	TopK any    `json:"top_k,omitempty" jsonschema:"Number of related notes to return (1-50, default: 5)"`
}

type listRecentInput struct {
	Limit any `json:"limit,omitempty" jsonschema:"Number of notes to return (1-100, default: 10)"`
}

type indexStatusInput struct{}

type searchWithReasoningInput struct {
	Query           string   `json:"query" jsonschema:"Natural language search query"`
	TopK            any      `json:"top_k,omitempty" jsonschema:"Number of results to return (1-50, default: 5)"`
	ConclusionTypes any      `json:"conclusion_types,omitempty" jsonschema:"Filter conclusions by type: deductive, inductive or abductive (default: all types)"`
	MinConfidence   any      `json:"min_confidence,omitempty" jsonschema:"Minimum confidence for conclusions (0-1, default: 0)"`
	Tags            []string `json:"tags,omitempty" jsonschema:"Optional: filter by tags"`
}

type conclusionTraceInput struct {
	ConclusionID string `json:"conclusion_id,omitempty" jsonschema:"ID of the conclusion to trace"`
	MaxDepth     any    `json:"max_depth,omitempty" jsonschema:"Maximum number of related conclusions per side (1-10, default: 3)"`
}

type exploreInput struct {
	Query         string `json:"query,omitempty" jsonschema:"Text query to find related conclusions"`
	ConclusionID  string `json:"conclusion_id,omitempty" jsonschema:"ID of a conclusion to find related ones (alternative to query)"`
	TopK          any    `json:"top_k,omitempty" jsonschema:"Maximum conclusions to return (1-50, default: 10)"`
	MinConfidence any    `json:"min_confidence,omitempty" jsonschema:"Minimum confidence threshold (0-1, default: 0)"`
}

func (s *Server) registerTools() {
	addTool(s, &mcp.Tool{
		Name: "search_vault",
		Description: "Search the Obsidian vault semantically. Returns relevant document chunks " +
			"based on meaning, not just keyword matching. Use this to find information " +
			"about specific topics, past incidents, or documentation.",
	}, s.searchVault)

	addTool(s, &mcp.Tool{
		Name: "search_by_tag",
		Description: "Search for documents with specific tags. Useful when you know the " +
			"category but want to explore related content. " +
			"If no query is provided, tags are used as the semantic search query.",
	}, s.searchByTag)

	addTool(s, &mcp.Tool{
		Name: "get_note",
		Description: "Get the full content of a specific note by its path. " +
			"Use this when you need the complete document, not just a snippet.",
	}, s.getNote)

	addTool(s, &mcp.Tool{
		Name: "get_related",
		Description: "Find notes related to a given note. Useful for discovering " +
			"connected information or similar past incidents.",
	}, s.getRelated)

	addTool(s, &mcp.Tool{
		Name: "list_recent",
		Description: "List recently modified notes in the vault. " +
			"Useful for finding recent RCAs or documentation updates.",
	}, s.listRecent)

	addTool(s, &mcp.Tool{
		Name: "index_status",
		Description: "Check the status of the search index. Shows number of files " +
			"indexed and other statistics.",
	}, s.indexStatus)

	addTool(s, &mcp.Tool{
		Name: "search_with_reasoning",
		Description: "Search the vault with the reasoning layer. Returns relevant document chunks " +
			"plus logical conclusions extracted from the content. Use this when you need " +
			"synthesized insights and patterns, not just raw text. Conclusions are only " +
			"available when reasoning was enabled during indexing.",
	}, s.searchWithReasoning)

	addTool(s, &mcp.Tool{
		Name: "get_conclusion_trace",
		Description: "Get the reasoning trace for a specific conclusion. Shows the evidence chain " +
			"from source chunk to conclusion to related conclusions. Use this to understand " +
			"why a conclusion was drawn and what evidence supports it.",
	}, s.conclusionTrace)

	addTool(s, &mcp.Tool{
		Name: "explore_connected_conclusions",
		Description: "Explore conclusions related to a query or another conclusion. Use this to " +
			"discover what else is known about a topic or find connections " +
			"between different pieces of knowledge.",
	}, s.explore)
}

func (s *Server) searchVault(ctx context.Context, args searchVaultInput) (*mcp.CallToolResult, error) {
	k := topK(args.TopK, defaultTopK)
	tags := cleanTags(args.Tags)
	s.logger.Info("search_vault", zap.Int("top_k", k), zap.Strings("tags", tags))

	resp, err := s.engine.Search(ctx, args.Query, k, tags, 0)
	if err != nil {
		return nil, err
	}
	return jsonResult(resp)
}

func (s *Server) searchByTag(ctx context.Context, args searchByTagInput) (*mcp.CallToolResult, error) {
	tags := cleanTags(args.Tags)
	if len(tags) == 0 {
		return nil, &toolError{msg: "Error: At least one tag is required", err: engine.ErrValidation}
	}
	k := topK(args.TopK, defaultTopK)
	query := args.Query
	if strings.TrimSpace(query) == "" {
		query = strings.Join(tags, " ")
	}
	s.logger.Info("search_by_tag", zap.Int("top_k", k), zap.Strings("tags", tags))

	resp, err := s.engine.Search(ctx, query, k, tags, 0)
	if err != nil {
		return nil, err
	}
	return jsonResult(resp)
}

func (s *Server) getNote(ctx context.Context, args getNoteInput) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(args.Path)
	s.logger.Info("get_note", zap.String("path", path))

	content, err := s.engine.GetNote(ctx, path)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, &toolError{msg: "Note not found: " + path, err: err}
	}
	if err != nil {
		return nil, err
	}
	return textResult(content), nil
}

func (s *Server) getRelated(ctx context.Context, args getRelatedInput) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(args.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", engine.ErrValidation)
	}
	k := topK(args.TopK, defaultTopK)
	s.logger.Info("get_related", zap.String("path", path), zap.Int("top_k", k))

	resp, err := s.engine.GetRelated(ctx, path, k)
	if err != nil {
		return nil, err
	}
	return jsonResult(resp)
}

func (s *Server) listRecent(ctx context.Context, args listRecentInput) (*mcp.CallToolResult, error) {
	limit := clampInt(args.Limit, defaultLimit, 1, engine.MaxRecent)
	s.logger.Info("list_recent", zap.Int("limit", limit))

	notes, err := s.engine.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return jsonResult(notes)
}

func (s *Server) indexStatus(ctx context.Context, _ indexStatusInput) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(stats)
}

func (s *Server) searchWithReasoning(ctx context.Context, args searchWithReasoningInput) (*mcp.CallToolResult, error) {
	types, err := conclusionTypes(args.ConclusionTypes)
	if err != nil {
		return nil, err
	}
	req := engine.ReasoningSearch{
		Query:         args.Query,
		TopK:          topK(args.TopK, defaultTopK),
		Types:         types,
		MinConfidence: confidence(args.MinConfidence),
		Tags:          cleanTags(args.Tags),
	}
	s.logger.Info("search_with_reasoning",
		zap.Int("top_k", req.TopK),
		zap.Int("types", len(req.Types)),
		zap.Float64("min_confidence", req.MinConfidence))

	resp, err := s.engine.SearchWithReasoning(ctx, req)
	if err != nil {
		return nil, err
	}
	return jsonResult(resp)
}

func (s *Server) conclusionTrace(ctx context.Context, args conclusionTraceInput) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(args.ConclusionID)
	if id == "" {
		return nil, &toolError{msg: "Error: conclusion_id is required", err: engine.ErrValidation}
	}
	depth := clampInt(args.MaxDepth, defaultMaxDepth, 1, engine.MaxTraceDepth)
	s.logger.Info("get_conclusion_trace", zap.String("id", id), zap.Int("max_depth", depth))

	trace, err := s.engine.GetConclusionTrace(ctx, id, depth)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, &toolError{msg: "Conclusion not found: " + id, err: err}
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(trace)
}

func (s *Server) explore(ctx context.Context, args exploreInput) (*mcp.CallToolResult, error) {
	req := engine.Explore{
		Query:         strings.TrimSpace(args.Query),
		ConclusionID:  strings.TrimSpace(args.ConclusionID),
		TopK:          topK(args.TopK, defaultExploreTopK),
		MinConfidence: confidence(args.MinConfidence),
	}
	if req.Query == "" && req.ConclusionID == "" {
		return nil, &toolError{msg: "Error: Either query or conclusion_id is required", err: engine.ErrValidation}
	}
	s.logger.Info("explore_connected_conclusions",
		zap.Bool("by_id", req.ConclusionID != ""),
		zap.Int("top_k", req.TopK))

	connected, err := s.engine.ExploreConnectedConclusions(ctx, req)
	if err != nil {
		return nil, err
	}
	return jsonResult(connected)
}
