package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/danielscholl/obsidian-rag-mcp/internal/extraction"
)

// ErrLLMDown is returned by a failing FakeLLM.
var ErrLLMDown = errors.New("llm down")

// FakeLLM answers batch extraction prompts with one deductive conclusion
// per chunk whose statement is the chunk content. Chunks under a heading
// listed in Inductive get a second, inductive conclusion with confidence
// 0.6. Single-chunk prompts get no conclusions.
type FakeLLM struct {
	Inductive map[string]string // heading -> statement

	calls atomic.Int32
	fail  atomic.Bool
}

// SetFail makes every later call fail.
func (l *FakeLLM) SetFail(fail bool) { l.fail.Store(fail) }

// Calls returns the number of completions requested.
func (l *FakeLLM) Calls() int { return int(l.calls.Load()) }

type fakeItem struct {
	Type       string   `json:"type"`
	Statement  string   `json:"statement"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

type fakeEntry struct {
	Conclusions []fakeItem `json:"conclusions"`
}

func (l *FakeLLM) Complete(_ context.Context, req extraction.CompletionRequest) (string, error) {
	l.calls.Add(1)
	if l.fail.Load() {
		return "", ErrLLMDown
	}

	const marker = "Chunks to analyze:\n"
	start := strings.Index(req.Prompt, marker)
	if start < 0 {
		return `{"conclusions": []}`, nil
	}
	rest := req.Prompt[start+len(marker):]
	if end := strings.Index(rest, "\n\nRespond with"); end >= 0 {
		rest = rest[:end]
	}
	var chunks []struct {
		ChunkID string `json:"chunk_id"`
		Heading string `json:"heading"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(rest), &chunks); err != nil {
		return "", err
	}

	results := make(map[string]fakeEntry, len(chunks))
	for _, c := range chunks {
		entry := fakeEntry{Conclusions: []fakeItem{{
			Type:       "deductive",
			Statement:  c.Content,
			Confidence: 0.9,
			Evidence:   []string{c.Content},
		}}}
		if s, ok := l.Inductive[c.Heading]; ok {
			entry.Conclusions = append(entry.Conclusions, fakeItem{
				Type:       "inductive",
				Statement:  s,
				Confidence: 0.6,
				Evidence:   []string{c.Content},
			})
		}
		results[c.ChunkID] = entry
	}
	data, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return "", err
	}
	return "```json\n" + string(data) + "\n```", nil
}
