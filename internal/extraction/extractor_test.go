package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

type fakeClient struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []CompletionRequest
}

func (f *fakeClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return `{"conclusions": []}`, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type upperRedactor struct{ err error }

func (r upperRedactor) Redact(content string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return strings.ReplaceAll(content, "hunter2", "[REDACTED]"), nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 30, 0, 0, time.FixedZone("EST", -5*3600))

func newTestExtractor(t *testing.T, client LLMClient, mutate func(*Config), opts ...Option) *Extractor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return fixedNow })}, opts...)
	ex, err := NewExtractor(client, cfg, opts...)
	require.NoError(t, err)
	return ex
}

func noteContext() reasoning.ChunkContext {
	return reasoning.ChunkContext{
		SourcePath: "projects/alpha.md",
		Title:      "Alpha",
		Heading:    "Status",
		Tags:       []string{"project", "q3"},
		ChunkIndex: 2,
	}
}

func TestNewExtractor_Validation(t *testing.T) {
	_, err := NewExtractor(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.MinConfidence = 1.5
	_, err = NewExtractor(&fakeClient{}, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExtractConclusions_BlankContentMakesNoCall(t *testing.T) {
	client := &fakeClient{}
	ex := newTestExtractor(t, client, nil)

	for _, content := range []string{"", "   ", "\n\t\n"} {
		assert.Empty(t, ex.ExtractConclusions(context.Background(), content, noteContext()))
	}
	assert.Equal(t, 0, client.calls())
}

func TestExtractConclusions_BuildsConclusions(t *testing.T) {
	client := &fakeClient{replies: []string{`{
		"conclusions": [
			{"type": "deductive", "statement": "  Alpha ships in Q3  ", "confidence": 0.9, "evidence": ["ships in Q3", " "]},
			{"type": "inductive", "statement": "The team prefers small releases", "confidence": "0.7"}
		]
	}`}}
	ex := newTestExtractor(t, client, nil)
	ctx := noteContext()

	got := ex.ExtractConclusions(context.Background(), "Alpha ships in Q3.", ctx)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, reasoning.Deductive, first.Type)
	assert.Equal(t, "Alpha ships in Q3", first.Statement)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)
	assert.Equal(t, []string{"ships in Q3"}, first.Evidence)
	assert.Equal(t, "projects/alpha.md:2", first.SourceChunkID)
	assert.Equal(t, reasoning.GenerateID("Alpha ships in Q3", "projects/alpha.md:2"), first.ID)
	assert.Equal(t, ctx, first.Context)
	assert.Equal(t, "2025-03-01T17:30:00Z", first.CreatedAt)
	assert.Equal(t, first.CreatedAt, got[1].CreatedAt)

	assert.Equal(t, reasoning.Inductive, got[1].Type)
	assert.InDelta(t, 0.7, got[1].Confidence, 1e-9)
	assert.Empty(t, got[1].Evidence)

	require.Equal(t, 1, client.calls())
	req := client.requests[0]
	assert.Equal(t, singleSystemPrompt, req.System)
	assert.True(t, req.JSON)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 1e-9)
	assert.Contains(t, req.Prompt, "Source file: projects/alpha.md")
	assert.Contains(t, req.Prompt, "Section: Status")
	assert.Contains(t, req.Prompt, "Tags: project, q3")
	assert.Contains(t, req.Prompt, "Extract up to 5 conclusions")
	assert.NotContains(t, req.Prompt, "(abductive)")
}

func TestExtractConclusions_Placeholders(t *testing.T) {
	client := &fakeClient{}
	ex := newTestExtractor(t, client, nil)

	ex.ExtractConclusions(context.Background(), "text", reasoning.ChunkContext{SourcePath: "a.md"})
	require.Equal(t, 1, client.calls())
	assert.Contains(t, client.requests[0].Prompt, "Section: (no heading)")
	assert.Contains(t, client.requests[0].Prompt, "Tags: (no tags)")
}

func TestExtractConclusions_TruncatesContent(t *testing.T) {
	client := &fakeClient{}
	ex := newTestExtractor(t, client, nil)

	long := strings.Repeat("a", maxSingleContentChars) + "TAIL"
	ex.ExtractConclusions(context.Background(), long, noteContext())
	assert.NotContains(t, client.requests[0].Prompt, "TAIL")
}

func TestExtractConclusions_FilterOrder(t *testing.T) {
	reply := `{"conclusions": [
		{"type": "deductive", "statement": "below floor", "confidence": 0.49},
		{"type": "deductive", "statement": "   ", "confidence": 0.9},
		{"type": "speculative", "statement": "unknown type kept as deductive", "confidence": 0.8},
		{"type": "abductive", "statement": "disabled type", "confidence": 0.95},
		{"type": "INDUCTIVE", "statement": "case-insensitive type", "confidence": 0.5}
	]}`
	ex := newTestExtractor(t, &fakeClient{replies: []string{reply}}, nil)

	got := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, got, 2)
	assert.Equal(t, "unknown type kept as deductive", got[0].Statement)
	assert.Equal(t, reasoning.Deductive, got[0].Type)
	assert.Equal(t, "case-insensitive type", got[1].Statement)
	assert.Equal(t, reasoning.Inductive, got[1].Type)
}

func TestExtractConclusions_AbductiveDisabledScenario(t *testing.T) {
	reply := `{"conclusions": [
		{"type": "abductive", "statement": "The outage was caused by the deploy", "confidence": 0.8},
		{"type": "deductive", "statement": "The outage lasted two hours", "confidence": 0.8}
	]}`
	ex := newTestExtractor(t, &fakeClient{replies: []string{reply}}, nil)

	got := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, got, 1)
	assert.Equal(t, reasoning.Deductive, got[0].Type)
}

func TestExtractConclusions_AbductiveEnabled(t *testing.T) {
	reply := `[{"type": "abductive", "statement": "Best explanation", "confidence": 0.8}]`
	client := &fakeClient{replies: []string{reply}}
	ex := newTestExtractor(t, client, func(c *Config) { c.ExtractAbductive = true })

	got := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, got, 1)
	assert.Equal(t, reasoning.Abductive, got[0].Type)
	assert.Contains(t, client.requests[0].Prompt, "(abductive)")
}

func TestExtractConclusions_ClampsConfidence(t *testing.T) {
	reply := `{"conclusions": [{"type": "deductive", "statement": "sure", "confidence": 1.4}]}`
	ex := newTestExtractor(t, &fakeClient{replies: []string{reply}}, nil)

	got := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
	assert.NoError(t, got[0].Validate())
}

func TestExtractConclusions_DropsNonFiniteConfidence(t *testing.T) {
	reply := `{"conclusions": [
		{"type": "deductive", "statement": "not a number", "confidence": "NaN"},
		{"type": "deductive", "statement": "unbounded", "confidence": "+Inf"},
		{"type": "inductive", "statement": "kept", "confidence": "0.7"}
	]}`
	ex := newTestExtractor(t, &fakeClient{replies: []string{reply}}, nil)

	got := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Statement)
	assert.InDelta(t, 0.7, got[0].Confidence, 1e-9)

	_, err := json.Marshal(got)
	assert.NoError(t, err)
}

func TestExtractConclusions_FailuresYieldEmpty(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		ex := newTestExtractor(t, &fakeClient{err: errors.New("connection refused")}, nil)
		assert.Empty(t, ex.ExtractConclusions(context.Background(), "text", noteContext()))
	})
	t.Run("malformed reply", func(t *testing.T) {
		ex := newTestExtractor(t, &fakeClient{replies: []string{"I could not find any"}}, nil)
		assert.Empty(t, ex.ExtractConclusions(context.Background(), "text", noteContext()))
	})
}

func TestExtractConclusions_Deterministic(t *testing.T) {
	reply := `{"conclusions": [{"type": "deductive", "statement": "Alpha ships in Q3", "confidence": 0.9}]}`
	ex := newTestExtractor(t, &fakeClient{replies: []string{reply, strings.ReplaceAll(reply, "Alpha ships", "alpha  SHIPS")}}, nil)

	a := ex.ExtractConclusions(context.Background(), "text", noteContext())
	b := ex.ExtractConclusions(context.Background(), "text", noteContext())
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestExtractConclusions_Redacts(t *testing.T) {
	client := &fakeClient{}
	ex := newTestExtractor(t, client, nil, WithRedactor(upperRedactor{}))

	ex.ExtractConclusions(context.Background(), "password is hunter2", noteContext())
	assert.NotContains(t, client.requests[0].Prompt, "hunter2")
	assert.Contains(t, client.requests[0].Prompt, "[REDACTED]")

	failing := &fakeClient{}
	ex = newTestExtractor(t, failing, nil, WithRedactor(upperRedactor{err: errors.New("boom")}))
	ex.ExtractConclusions(context.Background(), "password is hunter2", noteContext())
	assert.Contains(t, failing.requests[0].Prompt, "hunter2")
}

func batchChunks() []Chunk {
	return []Chunk{
		{ID: "a.md:0", Content: "Alpha ships in Q3.", Context: reasoning.ChunkContext{SourcePath: "a.md", Title: "A"}},
		{ID: "a.md:1", Content: "   ", Context: reasoning.ChunkContext{SourcePath: "a.md", Title: "A", ChunkIndex: 1}},
		{ID: "b.md:0", Content: "Beta slipped twice.", Context: reasoning.ChunkContext{SourcePath: "b.md", Title: "B", Tags: []string{"beta"}}},
		{ID: "c.md:0", Content: "Gamma is on hold.", Context: reasoning.ChunkContext{SourcePath: "c.md", Title: "C"}},
	}
}

func TestExtractConclusionsBatch_KeysMatchNonEmptyInputs(t *testing.T) {
	reply := "```json\n" + `{"results": {
		"a.md:0": {"conclusions": [{"type": "deductive", "statement": "Alpha ships in Q3", "confidence": 0.9}]},
		"b.md:0": {"conclusions": [
			{"type": "inductive", "statement": "Beta tends to slip", "confidence": 0.7},
			{"type": "deductive", "statement": "weak", "confidence": 0.2}
		]},
		"z.md:9": {"conclusions": [{"type": "deductive", "statement": "invented", "confidence": 0.9}]}
	}}` + "\n```"
	client := &fakeClient{replies: []string{reply}}
	ex := newTestExtractor(t, client, nil)

	got, err := ex.ExtractConclusionsBatch(context.Background(), batchChunks())
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())

	assert.Len(t, got, 3)
	require.Contains(t, got, "a.md:0")
	require.Contains(t, got, "b.md:0")
	require.Contains(t, got, "c.md:0")
	assert.NotContains(t, got, "a.md:1")
	assert.NotContains(t, got, "z.md:9")

	require.Len(t, got["a.md:0"], 1)
	assert.Equal(t, "a.md:0", got["a.md:0"][0].SourceChunkID)
	assert.Equal(t, reasoning.GenerateID("Alpha ships in Q3", "a.md:0"), got["a.md:0"][0].ID)
	assert.Equal(t, "a.md", got["a.md:0"][0].Context.SourcePath)

	require.Len(t, got["b.md:0"], 1)
	assert.Equal(t, []string{"beta"}, got["b.md:0"][0].Context.Tags)

	// Omitted by the model: present with an empty list.
	assert.NotNil(t, got["c.md:0"])
	assert.Empty(t, got["c.md:0"])

	assert.Equal(t, got["a.md:0"][0].CreatedAt, got["b.md:0"][0].CreatedAt)

	req := client.requests[0]
	assert.Equal(t, batchSystemPrompt, req.System)
	assert.Contains(t, req.Prompt, `"chunk_id": "a.md:0"`)
	assert.NotContains(t, req.Prompt, `"chunk_id": "a.md:1"`)
	assert.Contains(t, req.Prompt, "Focus on deductive and inductive conclusions only.")
}

func TestExtractConclusionsBatch_AllBlank(t *testing.T) {
	client := &fakeClient{}
	ex := newTestExtractor(t, client, nil)

	got, err := ex.ExtractConclusionsBatch(context.Background(), []Chunk{{ID: "x", Content: " "}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, client.calls())
}

func TestExtractConclusionsBatch_TruncatesPerChunk(t *testing.T) {
	client := &fakeClient{replies: []string{`{"results": {}}`}}
	ex := newTestExtractor(t, client, nil)

	long := strings.Repeat("b", maxBatchContentChars) + "TAIL"
	_, err := ex.ExtractConclusionsBatch(context.Background(), []Chunk{{ID: "x", Content: long}})
	require.NoError(t, err)
	assert.NotContains(t, client.requests[0].Prompt, "TAIL")
}

func TestExtractConclusionsBatch_Errors(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		ex := newTestExtractor(t, &fakeClient{err: errors.New("timeout")}, nil)
		got, err := ex.ExtractConclusionsBatch(context.Background(), batchChunks())
		assert.Error(t, err)
		assert.Nil(t, got)
	})
	t.Run("malformed", func(t *testing.T) {
		ex := newTestExtractor(t, &fakeClient{replies: []string{"not json"}}, nil)
		_, err := ex.ExtractConclusionsBatch(context.Background(), batchChunks())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
	t.Run("missing results", func(t *testing.T) {
		ex := newTestExtractor(t, &fakeClient{replies: []string{`{"conclusions": []}`}}, nil)
		_, err := ex.ExtractConclusionsBatch(context.Background(), batchChunks())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}
