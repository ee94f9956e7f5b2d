package extraction

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

// Defaults for extraction and the LLM clients.
const (
	DefaultModel                  = "gpt-4o-mini"
	DefaultAnthropicModel         = "claude-3-5-haiku-20241022"
	DefaultMaxConclusionsPerChunk = 5
	DefaultMinConfidence          = 0.5
	DefaultTemperature            = 0.3
	DefaultBatchSize              = 5
	DefaultMaxBatchTokens         = 12000

	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultMaxTokens        = 4096
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second

	// 50 requests per minute with bursts of 5.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// ErrInvalidConfig indicates invalid extraction configuration.
var ErrInvalidConfig = errors.New("invalid extraction configuration")

// Config configures the extractor and its LLM client.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration

	MaxConclusionsPerChunk int
	MinConfidence          float64
	Temperature            float64
	ExtractDeductive       bool
	ExtractInductive       bool
	ExtractAbductive       bool
	BatchSize              int
	MaxBatchTokens         int
}

// DefaultConfig returns the default configuration. Abductive extraction is
// off because it is the most speculative.
func DefaultConfig() Config {
	return Config{
		Provider:               "openai",
		Model:                  DefaultModel,
		Timeout:                defaultTimeout,
		MaxConclusionsPerChunk: DefaultMaxConclusionsPerChunk,
		MinConfidence:          DefaultMinConfidence,
		Temperature:            DefaultTemperature,
		ExtractDeductive:       true,
		ExtractInductive:       true,
		BatchSize:              DefaultBatchSize,
		MaxBatchTokens:         DefaultMaxBatchTokens,
	}
}

// ConfigFrom maps the reasoning section of the application config.
func ConfigFrom(rc config.ReasoningConfig) Config {
	return Config{
		Provider:               rc.Provider,
		Model:                  rc.Model,
		APIKey:                 rc.APIKey.Value(),
		BaseURL:                rc.BaseURL,
		APIVersion:             rc.APIVersion,
		Timeout:                rc.Timeout.Duration(),
		MaxConclusionsPerChunk: rc.MaxConclusionsPerChunk,
		MinConfidence:          rc.MinConfidence,
		Temperature:            rc.Temperature,
		ExtractDeductive:       rc.ExtractDeductive,
		ExtractInductive:       rc.ExtractInductive,
		ExtractAbductive:       rc.ExtractAbductive,
		BatchSize:              rc.BatchSize,
		MaxBatchTokens:         rc.MaxBatchTokens,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		if c.Provider == "anthropic" {
			c.Model = DefaultAnthropicModel
		} else {
			c.Model = d.Model
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConclusionsPerChunk <= 0 {
		c.MaxConclusionsPerChunk = d.MaxConclusionsPerChunk
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBatchTokens <= 0 {
		c.MaxBatchTokens = d.MaxBatchTokens
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence %.2f out of range [0,1]", ErrInvalidConfig, c.MinConfidence)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f out of range [0,2]", ErrInvalidConfig, c.Temperature)
	}
	if !c.ExtractDeductive && !c.ExtractInductive && !c.ExtractAbductive {
		return fmt.Errorf("%w: every conclusion type is disabled", ErrInvalidConfig)
	}
	return nil
}

// TypeEnabled reports whether conclusions of type t are kept.
func (c Config) TypeEnabled(t reasoning.ConclusionType) bool {
	switch t {
	case reasoning.Deductive:
		return c.ExtractDeductive
	case reasoning.Inductive:
		return c.ExtractInductive
	case reasoning.Abductive:
		return c.ExtractAbductive
	}
	return false
}
