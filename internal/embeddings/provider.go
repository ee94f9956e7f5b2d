package embeddings

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

// Provider is an embedder with a known output size.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// knownDimensions maps model names to their output size.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,

	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// DetectDimension returns the embedding size for model. A known model wins
// over configured; configured wins over the name heuristics.
func DetectDimension(model string, configured int) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	if configured > 0 {
		return configured
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case "openai", "":
		backend, err = NewOpenAIBackend(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey.Value(),
			APIVersion: cfg.APIVersion,
			BatchSize:  cfg.BatchSize,
		})
	case "tei":
		backend, err = NewTEIBackend(TEIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey.Value(),
		})
	case "fastembed":
		backend, err = NewFastEmbedProvider(ctx, FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))

	return NewService(backend, ServiceConfig{
		Model:     cfg.Model,
		Dimension: DetectDimension(cfg.Model, cfg.Dimensions),
		BatchSize: cfg.BatchSize,
	}, logger)
}
