package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestTiktokenCounter(t *testing.T) {
	c := NewTokenCounter()
	assert.Equal(t, 0, c.Count(""))
	n := c.Count("The quick brown fox jumps over the lazy dog.")
	assert.Positive(t, n)
	assert.Less(t, n, 44)
}

func chunksOfSize(sizes ...int) []Chunk {
	out := make([]Chunk, len(sizes))
	for i, n := range sizes {
		out[i] = Chunk{ID: string(rune('a' + i)), Content: strings.Repeat("x", n)}
	}
	return out
}

func TestPackBatches_BySize(t *testing.T) {
	batches := PackBatches(chunksOfSize(10, 10, 10, 10, 10), 2, 0, nil)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestPackBatches_ByTokens(t *testing.T) {
	// 400 chars is 100 estimated tokens.
	batches := PackBatches(chunksOfSize(400, 400, 400), 10, 250, tokenFunc(EstimateTokens))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
}

func TestPackBatches_OversizedChunkAlone(t *testing.T) {
	// Counted after truncation to the batch budget: 2000 chars, 500 tokens.
	batches := PackBatches(chunksOfSize(40, 9000, 40), 10, 100, tokenFunc(EstimateTokens))
	require.Len(t, batches, 3)
	assert.Equal(t, "b", batches[1][0].ID)
}

func TestPackBatches_Empty(t *testing.T) {
	assert.Empty(t, PackBatches(nil, 5, 100, nil))
}
