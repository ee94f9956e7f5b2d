package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible embedding backend. Setting
// APIVersion selects Azure OpenAI, where Model is the deployment name.
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	APIVersion string
	BatchSize  int
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if c.APIVersion != "" && c.BaseURL == "" {
		return fmt.Errorf("%w: azure requires an endpoint", ErrInvalidConfig)
	}
	return nil
}

// IsAzure reports whether the config targets Azure OpenAI.
func (c OpenAIConfig) IsAzure() bool { return c.APIVersion != "" }

// OpenAIBackend embeds through langchaingo's OpenAI client.
type OpenAIBackend struct {
	embedder *embeddings.EmbedderImpl
}

// NewOpenAIBackend creates an OpenAI or Azure OpenAI backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.IsAzure() {
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIBackend{embedder: embedder}, nil
}

// EmbedDocuments embeds texts.
func (b *OpenAIBackend) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds one text.
func (b *OpenAIBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// Close is a no-op.
func (b *OpenAIBackend) Close() error { return nil }
