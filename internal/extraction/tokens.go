package extraction

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding. If the encoding
// cannot be loaded it estimates four characters per token.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a lazily initialized counter.
func NewTokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count as one per four characters.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// PackBatches groups chunks into batches of at most batchSize chunks whose
// combined (truncated) content stays within maxTokens. A chunk larger than
// the budget on its own still forms a batch of one.
func PackBatches(chunks []Chunk, batchSize, maxTokens int, counter TokenCounter) [][]Chunk {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if counter == nil {
		counter = tokenFunc(EstimateTokens)
	}

	var (
		out     [][]Chunk
		current []Chunk
		used    int
	)
	for _, c := range chunks {
		cost := counter.Count(truncateChars(c.Content, maxBatchContentChars))
		if len(current) > 0 && (len(current) >= batchSize || (maxTokens > 0 && used+cost > maxTokens)) {
			out = append(out, current)
			current, used = nil, 0
		}
		current = append(current, c)
		used += cost
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

type tokenFunc func(string) int

func (f tokenFunc) Count(s string) int { return f(s) }
