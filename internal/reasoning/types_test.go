package reasoning

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, GenerateID("Cache is warm", "a.md:0"), GenerateID("Cache is warm", "a.md:0"))
	})

	t.Run("provenance is part of identity", func(t *testing.T) {
		assert.NotEqual(t, GenerateID("Cache is warm", "a.md:0"), GenerateID("Cache is warm", "a.md:1"))
		assert.NotEqual(t, GenerateID("Cache is warm", "a.md:0"), GenerateID("Cache is warm", "b.md:0"))
	})

	t.Run("different statements differ", func(t *testing.T) {
		assert.NotEqual(t, GenerateID("Cache is warm", "a.md:0"), GenerateID("Cache is cold", "a.md:0"))
	})

	t.Run("case and whitespace are normalized", func(t *testing.T) {
		want := GenerateID("cache is warm", "a.md:0")
		for _, s := range []string{"Cache is warm", "  CACHE   is\twarm \n", "cache is WARM"} {
			assert.Equal(t, want, GenerateID(s, "a.md:0"), s)
		}
	})

	t.Run("128-bit hex", func(t *testing.T) {
		id := GenerateID("x", "y:0")
		assert.Len(t, id, 32)
		assert.Regexp(t, "^[0-9a-f]{32}$", id)
	})
}

func TestNormalizeStatement(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeStatement("  A\n\tB   c "))
	assert.Equal(t, "", NormalizeStatement(" \n "))
}

func TestParseConclusionType(t *testing.T) {
	got, err := ParseConclusionType(" Inductive ")
	require.NoError(t, err)
	assert.Equal(t, Inductive, got)

	_, err = ParseConclusionType("speculative")
	assert.Error(t, err)
}

func TestConclusionValidate(t *testing.T) {
	valid := Conclusion{ID: "x", Type: Deductive, Statement: "s", Confidence: 0.5}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Conclusion)
	}{
		{"missing id", func(c *Conclusion) { c.ID = "" }},
		{"blank statement", func(c *Conclusion) { c.Statement = "  " }},
		{"confidence above one", func(c *Conclusion) { c.Confidence = 1.01 }},
		{"negative confidence", func(c *Conclusion) { c.Confidence = -0.1 }},
		{"NaN confidence", func(c *Conclusion) { c.Confidence = math.NaN() }},
		{"infinite confidence", func(c *Conclusion) { c.Confidence = math.Inf(1) }},
		{"unknown type", func(c *Conclusion) { c.Type = "guess" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestChunkID(t *testing.T) {
	ctx := ChunkContext{SourcePath: "notes/a.md", ChunkIndex: 3}
	assert.Equal(t, "notes/a.md:3", ctx.ChunkID())
}

func TestConclusionJSONShape(t *testing.T) {
	c := Conclusion{
		ID: "id", Type: Abductive, Statement: "s", Confidence: 0.7,
		Evidence: []string{"e"}, SourceChunkID: "a.md:0",
		Context: ChunkContext{SourcePath: "a.md", Tags: []string{"t"}},
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "abductive", m["type"])
	assert.Equal(t, "a.md:0", m["source_chunk_id"])
	assert.NotContains(t, m["context"], "heading")
}
