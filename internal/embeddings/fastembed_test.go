//go:build cgo

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewFastEmbedProvider_UnknownModel(t *testing.T) {
	_, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{Model: "not-a-model"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	if testing.Short() {
		t.Skip("downloads models")
	}
	if ONNXLibraryPath() == "" {
		t.Skip("ONNX runtime not installed")
	}

	p, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{
		Model:    "BAAI/bge-small-en-v1.5",
		CacheDir: t.TempDir(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	vectors, err := p.EmbedDocuments(context.Background(), []string{"daily note", "meeting minutes"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], DetectDimension("BAAI/bge-small-en-v1.5", 0))

	vec, err := p.EmbedQuery(context.Background(), "notes")
	require.NoError(t, err)
	assert.Len(t, vec, 384)
}
