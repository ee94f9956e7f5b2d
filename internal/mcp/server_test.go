package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/events"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
	"github.com/danielscholl/obsidian-rag-mcp/internal/testutil"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

const runbook = `---
tags: [ops]
---
# Runbook

## Restart

Restart the worker pool before the queue backs up.

## Alerts

Page the on-call engineer when latency exceeds the budget.
`

const postmortem = `## Timeline

The queue backed up at noon and the worker pool stalled. #rca
`

func newTestEngine(t *testing.T, withReasoning bool) *engine.Engine {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "runbook.md"), []byte(runbook), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "RCAs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "RCAs", "queue.md"), []byte(postmortem), 0o644))

	cfg := config.Default()
	cfg.Vault.Path = root
	cfg.Vault.PersistDir = t.TempDir()
	cfg.Reasoning.Enabled = withReasoning
	cfg.Reasoning.AllowlistPath = filepath.Join(t.TempDir(), "allowlist.toml")

	emb := &testutil.HashEmbedder{}
	logger := zaptest.NewLogger(t)
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, VectorSize: testutil.Dim}, emb, logger)
	require.NoError(t, err)

	e, err := engine.New(context.Background(), cfg, engine.Deps{
		Embedder:  emb,
		Store:     store,
		LLM:       &testutil.FakeLLM{Inductive: map[string]string{"Restart": "Queues back up when workers stall"}},
		Publisher: events.NopPublisher{},
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	_, err = e.Index(context.Background(), false)
	require.NoError(t, err)
	return e
}

// connect serves eng over in-memory transports and returns a client session.
func connect(t *testing.T, eng *engine.Engine) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	s, err := NewServer(&Config{Name: "obsidian-rag-test", Version: "test", Logger: zaptest.NewLogger(t)}, eng)
	require.NoError(t, err)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.mcp.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text, res.IsError
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(text), &v), text)
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("requires engine", func(t *testing.T) {
		_, err := NewServer(nil, nil)
		assert.Error(t, err)
	})

	t.Run("default config", func(t *testing.T) {
		s, err := NewServer(nil, newTestEngine(t, false))
		require.NoError(t, err)
		assert.NotNil(t, s.mcp)
		assert.NotNil(t, s.metrics)
	})
}

func TestListTools(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"search_vault", "search_by_tag", "get_note", "get_related", "list_recent",
		"index_status", "search_with_reasoning", "get_conclusion_trace",
		"explore_connected_conclusions",
	}, names)
}

func TestSearchVault(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	t.Run("returns json results", func(t *testing.T) {
		text, isErr := call(t, cs, "search_vault", map[string]any{"query": "worker pool", "top_k": 2})
		require.False(t, isErr, text)
		resp := decode[engine.SearchResponse](t, text)
		assert.Equal(t, "worker pool", resp.Query)
		assert.Len(t, resp.Results, 2)
		assert.Equal(t, 4, resp.TotalChunksSearched)
	})

	t.Run("top_k is clamped", func(t *testing.T) {
		text, isErr := call(t, cs, "search_vault", map[string]any{"query": "queue", "top_k": 500})
		require.False(t, isErr, text)
		assert.Len(t, decode[engine.SearchResponse](t, text).Results, 4)

		text, isErr = call(t, cs, "search_vault", map[string]any{"query": "queue", "top_k": -3})
		require.False(t, isErr, text)
		assert.Len(t, decode[engine.SearchResponse](t, text).Results, 1)
	})

	t.Run("tag filter", func(t *testing.T) {
		text, isErr := call(t, cs, "search_vault", map[string]any{"query": "queue", "tags": []string{"rca"}})
		require.False(t, isErr, text)
		resp := decode[engine.SearchResponse](t, text)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "RCAs/queue.md", resp.Results[0].SourcePath)
	})

	t.Run("empty query is a validation error", func(t *testing.T) {
		text, isErr := call(t, cs, "search_vault", map[string]any{"query": "  "})
		assert.True(t, isErr)
		assert.Equal(t, "Validation error: query cannot be empty", text)
	})
}

func TestSearchByTag(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	text, isErr := call(t, cs, "search_by_tag", map[string]any{"tags": []string{}})
	assert.True(t, isErr)
	assert.Equal(t, "Error: At least one tag is required", text)

	text, isErr = call(t, cs, "search_by_tag", map[string]any{"tags": []string{" ops ", ""}})
	require.False(t, isErr, text)
	resp := decode[engine.SearchResponse](t, text)
	assert.Equal(t, "ops", resp.Query)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "runbook.md", r.SourcePath)
	}
}

func TestGetNote(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	text, isErr := call(t, cs, "get_note", map[string]any{"path": "RCAs/queue.md"})
	require.False(t, isErr)
	assert.Equal(t, postmortem, text)

	text, isErr = call(t, cs, "get_note", map[string]any{"path": "missing.md"})
	assert.True(t, isErr)
	assert.Equal(t, "Note not found: missing.md", text)

	text, isErr = call(t, cs, "get_note", map[string]any{"path": "../../etc/passwd"})
	assert.True(t, isErr)
	assert.Equal(t, "Note not found: ../../etc/passwd", text)
}

func TestGetRelated(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	text, isErr := call(t, cs, "get_related", map[string]any{"path": "RCAs/queue.md"})
	require.False(t, isErr, text)
	resp := decode[engine.SearchResponse](t, text)
	assert.Equal(t, "related to: RCAs/queue.md", resp.Query)
	for _, r := range resp.Results {
		assert.NotEqual(t, "RCAs/queue.md", r.SourcePath)
	}

	text, isErr = call(t, cs, "get_related", map[string]any{"path": ""})
	assert.True(t, isErr)
	assert.Contains(t, text, "Validation error:")
}

func TestListRecentAndStatus(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	text, isErr := call(t, cs, "list_recent", map[string]any{"limit": "1"})
	require.False(t, isErr, text)
	var notes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &notes))
	assert.Len(t, notes, 1)

	text, isErr = call(t, cs, "index_status", map[string]any{})
	require.False(t, isErr, text)
	stats := decode[map[string]any](t, text)
	assert.EqualValues(t, 2, stats["total_files"])
	assert.EqualValues(t, 4, stats["total_chunks"])
	assert.NotContains(t, stats, "total_conclusions")
}

func TestSearchWithReasoning(t *testing.T) {
	cs := connect(t, newTestEngine(t, true))

	text, isErr := call(t, cs, "search_with_reasoning", map[string]any{
		"query":            "worker pool",
		"conclusion_types": "inductive",
		"min_confidence":   "0.5",
	})
	require.False(t, isErr, text)
	resp := decode[engine.ReasoningResponse](t, text)
	require.Len(t, resp.Conclusions, 1)
	assert.Equal(t, reasoning.Inductive, resp.Conclusions[0].Type)
	assert.Equal(t, "Queues back up when workers stall", resp.Conclusions[0].Statement)

	text, isErr = call(t, cs, "search_with_reasoning", map[string]any{
		"query":            "worker pool",
		"conclusion_types": "inductive",
		"min_confidence":   7,
	})
	require.False(t, isErr, text)
	assert.Empty(t, decode[engine.ReasoningResponse](t, text).Conclusions, "min_confidence is clamped to 1")

	text, isErr = call(t, cs, "search_with_reasoning", map[string]any{
		"query":            "worker pool",
		"conclusion_types": []string{"bogus"},
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "Validation error: conclusion_types")

	text, isErr = call(t, cs, "search_with_reasoning", map[string]any{
		"query":          "worker pool",
		"min_confidence": "NaN",
	})
	require.False(t, isErr, text)
	resp = decode[engine.ReasoningResponse](t, text)
	assert.NotEmpty(t, resp.Conclusions, "NaN min_confidence falls back to no floor")
}

func TestSearchWithReasoning_Disabled(t *testing.T) {
	cs := connect(t, newTestEngine(t, false))

	text, isErr := call(t, cs, "search_with_reasoning", map[string]any{"query": "queue"})
	require.False(t, isErr, text)
	resp := decode[engine.ReasoningResponse](t, text)
	assert.NotEmpty(t, resp.Results)
	assert.Empty(t, resp.Conclusions)

	text, isErr = call(t, cs, "get_conclusion_trace", map[string]any{"conclusion_id": "abc"})
	assert.True(t, isErr)
	assert.Contains(t, text, "reasoning is not enabled")
}

func TestConclusionTrace(t *testing.T) {
	eng := newTestEngine(t, true)
	cs := connect(t, eng)

	found, err := eng.GetConclusionsForNote(context.Background(), "runbook.md")
	require.NoError(t, err)
	require.NotEmpty(t, found)
	id := found[0].ID

	text, isErr := call(t, cs, "get_conclusion_trace", map[string]any{"conclusion_id": id, "max_depth": "nope"})
	require.False(t, isErr, text)
	trace := decode[reasoning.ReasoningTrace](t, text)
	assert.Equal(t, id, trace.Conclusion.ID)
	require.Len(t, trace.SupportingEvidence, 1)
	assert.LessOrEqual(t, len(trace.ParentConclusions), defaultMaxDepth)

	text, isErr = call(t, cs, "get_conclusion_trace", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "Error: conclusion_id is required", text)

	text, isErr = call(t, cs, "get_conclusion_trace", map[string]any{"conclusion_id": "does-not-exist"})
	assert.True(t, isErr)
	assert.Equal(t, "Conclusion not found: does-not-exist", text)
}

func TestExploreConnectedConclusions(t *testing.T) {
	eng := newTestEngine(t, true)
	cs := connect(t, eng)

	text, isErr := call(t, cs, "explore_connected_conclusions", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "Error: Either query or conclusion_id is required", text)

	text, isErr = call(t, cs, "explore_connected_conclusions", map[string]any{"query": "queue", "top_k": 2})
	require.False(t, isErr, text)
	connected := decode[[]reasoning.ConnectedConclusion](t, text)
	assert.Len(t, connected, 2)
	for _, c := range connected {
		assert.Equal(t, reasoning.RelationshipMatchesQuery, c.Relationship)
	}

	text, isErr = call(t, cs, "explore_connected_conclusions", map[string]any{"conclusion_id": "unknown"})
	require.False(t, isErr, text)
	assert.Empty(t, decode[[]reasoning.ConnectedConclusion](t, text))
}
