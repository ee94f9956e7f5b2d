package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

const (
	// Content budgets, in characters.
	maxSingleContentChars = 8000
	maxBatchContentChars  = 2000

	noHeading = "(no heading)"
	noTags    = "(no tags)"

	singleSystemPrompt = "Extract conclusions from text. Respond with JSON."
	batchSystemPrompt  = "Extract conclusions from text chunks. Respond with JSON."
)

const singlePromptTemplate = `Analyze this text and extract logical conclusions.

For each conclusion, identify:
1. The type:
   - "deductive" (logically certain)
   - "inductive" (pattern-based generalization)
   - "abductive" (best explanation)
2. A clear, concise statement of the conclusion
3. Confidence level (0.0 to 1.0)
4. Key evidence phrases from the text that support this conclusion

Context:
- Source file: %s
- Section: %s
- Tags: %s

Text to analyze:
"""
%s
"""

Extract up to %d conclusions. Focus on:
- Facts and relationships explicitly stated (deductive)
- Patterns that suggest general principles (inductive)
%s

Respond with a JSON object containing a "conclusions" array:
{
  "conclusions": [
    {
      "type": "deductive|inductive|abductive",
      "statement": "The conclusion statement",
      "confidence": 0.85,
      "evidence": ["supporting phrase 1", "supporting phrase 2"]
    }
  ]
}

If no meaningful conclusions can be extracted, return: {"conclusions": []}
`

const batchPromptTemplate = `Analyze multiple text chunks and extract logical conclusions from each.

For each conclusion, identify:
1. The type: "deductive", "inductive", or "abductive"
2. A clear, concise statement of the conclusion
3. Confidence level (0.0 to 1.0)
4. Key evidence phrases from the text
5. The chunk_id it came from

%s

Chunks to analyze:
%s

Respond with a JSON object mapping chunk_id to conclusions:
{
  "results": {
    "chunk_id_1": {
      "conclusions": [
        {
          "type": "deductive|inductive|abductive",
          "statement": "The conclusion",
          "confidence": 0.85,
          "evidence": ["phrase 1", "phrase 2"]
        }
      ]
    },
    "chunk_id_2": {
      "conclusions": []
    }
  }
}

Extract up to %d conclusions per chunk. Focus on meaningful insights.
`

// truncateChars cuts s to at most n runes.
func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func headingOrPlaceholder(h string) string {
	if h == "" {
		return noHeading
	}
	return h
}

func tagsOrPlaceholder(tags []string) string {
	if len(tags) == 0 {
		return noTags
	}
	return strings.Join(tags, ", ")
}

func buildSinglePrompt(content string, ctx reasoning.ChunkContext, cfg Config) string {
	abductive := ""
	if cfg.ExtractAbductive {
		abductive = "- Hypotheses that best explain observations (abductive)"
	}
	return fmt.Sprintf(singlePromptTemplate,
		ctx.SourcePath,
		headingOrPlaceholder(ctx.Heading),
		tagsOrPlaceholder(ctx.Tags),
		truncateChars(content, maxSingleContentChars),
		cfg.MaxConclusionsPerChunk,
		abductive,
	)
}

type promptChunk struct {
	ChunkID    string   `json:"chunk_id"`
	SourcePath string   `json:"source_path"`
	Heading    string   `json:"heading"`
	Tags       []string `json:"tags"`
	Content    string   `json:"content"`
}

func buildBatchPrompt(chunks []Chunk, cfg Config) (string, error) {
	items := make([]promptChunk, len(chunks))
	for i, c := range chunks {
		tags := c.Context.Tags
		if tags == nil {
			tags = []string{}
		}
		items[i] = promptChunk{
			ChunkID:    c.ID,
			SourcePath: c.Context.SourcePath,
			Heading:    headingOrPlaceholder(c.Context.Heading),
			Tags:       tags,
			Content:    truncateChars(c.Content, maxBatchContentChars),
		}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding chunks: %w", err)
	}

	abductive := "Focus on deductive and inductive conclusions only."
	if cfg.ExtractAbductive {
		abductive = "Include abductive conclusions (best explanations) when appropriate."
	}
	return fmt.Sprintf(batchPromptTemplate, abductive, string(data), cfg.MaxConclusionsPerChunk), nil
}
