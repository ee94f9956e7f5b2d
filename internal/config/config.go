// Package config loads obsidian-rag configuration.
//
// Values come from, lowest precedence first: built-in defaults, an optional
// YAML file, legacy environment variables (OBSIDIAN_VAULT_PATH and friends),
// and OBSIDIAN_RAG_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete obsidian-rag configuration.
type Config struct {
	Vault       VaultConfig       `koanf:"vault"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Reasoning   ReasoningConfig   `koanf:"reasoning"`
	Server      ServerConfig      `koanf:"server"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// VaultConfig locates the vault and the index persisted next to it.
type VaultConfig struct {
	Path string `koanf:"path"`

	// PersistDir holds the vector collections and the hash caches.
	// Relative paths resolve against the working directory.
	PersistDir string `koanf:"persist_dir"`

	// IgnorePatterns extend the built-in ignore list.
	IgnorePatterns []string `koanf:"ignore_patterns"`

	// MaxFileSize skips larger notes, in bytes.
	MaxFileSize int64 `koanf:"max_file_size"`
}

// ChunkerConfig controls markdown chunking. Sizes are in estimated tokens.
type ChunkerConfig struct {
	MaxChunkTokens int  `koanf:"max_chunk_tokens"`
	MinChunkTokens int  `koanf:"min_chunk_tokens"`
	OverlapTokens  int  `koanf:"overlap_tokens"`
	SplitOnH2      bool `koanf:"split_on_h2"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of openai, tei, fastembed.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`

	// APIVersion switches the openai provider to Azure OpenAI when set.
	APIVersion string `koanf:"api_version"`

	BatchSize  int `koanf:"batch_size"`
	Dimensions int `koanf:"dimensions"`

	// CacheDir holds downloaded fastembed models.
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Provider is chromem (embedded, default) or qdrant.
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path overrides the default of <vault.persist_dir>.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the remote store.
type QdrantConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	APIKey   Secret `koanf:"api_key"`
	UseTLS   bool   `koanf:"use_tls"`
	Distance string `koanf:"distance"`
}

// ReasoningConfig configures conclusion extraction.
type ReasoningConfig struct {
	Enabled bool `koanf:"enabled"`

	// Provider is openai (including Azure OpenAI) or anthropic.
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	APIKey   Secret   `koanf:"api_key"`
	BaseURL  string   `koanf:"base_url"`
	Timeout  Duration `koanf:"timeout"`

	// APIVersion switches the openai provider to Azure OpenAI when set.
	APIVersion string `koanf:"api_version"`

	MaxConclusionsPerChunk int     `koanf:"max_conclusions_per_chunk"`
	MinConfidence          float64 `koanf:"min_confidence"`
	Temperature            float64 `koanf:"temperature"`
	ExtractDeductive       bool    `koanf:"extract_deductive"`
	ExtractInductive       bool    `koanf:"extract_inductive"`
	ExtractAbductive       bool    `koanf:"extract_abductive"`
	BatchSize              int     `koanf:"batch_size"`
	MaxBatchTokens         int     `koanf:"max_batch_tokens"`

	// ScrubSecrets redacts credentials from chunks before they leave the machine.
	ScrubSecrets bool `koanf:"scrub_secrets"`

	// AllowlistPath is a gitleaks-style TOML allowlist merged with the
	// vault's .gitleaks.toml. Empty means ~/.config/obsidian-rag/allowlist.toml.
	AllowlistPath string `koanf:"allowlist_path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPHost        string   `koanf:"http_host"`
	HTTPPort        int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EventsConfig enables index event publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig controls the process logger. Logs always go to stderr.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// OTEL tees records into the OpenTelemetry log bridge.
	OTEL bool `koanf:"otel"`

	Sampling bool              `koanf:"sampling"`
	Caller   bool              `koanf:"caller"`
	Fields   map[string]string `koanf:"fields"`

	// Redact lists extra field names whose values are masked.
	Redact []string `koanf:"redact"`
}

// TelemetryConfig is the user-facing subset of OpenTelemetry options.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	Sampling    float64 `koanf:"sampling"`
	Metrics     bool    `koanf:"metrics"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			PersistDir:  ".chroma",
			MaxFileSize: 10 * 1024 * 1024,
		},
		Chunker: ChunkerConfig{
			MaxChunkTokens: 1000,
			MinChunkTokens: 100,
			OverlapTokens:  50,
			SplitOnH2:      true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			BatchSize:  100,
			Dimensions: 1536,
		},
		VectorStore: VectorStoreConfig{
			Provider: "chromem",
			Qdrant: QdrantConfig{
				Host:     "localhost",
				Port:     6334,
				Distance: "cosine",
			},
		},
		Reasoning: ReasoningConfig{
			Provider:               "openai",
			Model:                  "gpt-4o-mini",
			Timeout:                Duration(60 * time.Second),
			MaxConclusionsPerChunk: 5,
			MinConfidence:          0.5,
			Temperature:            0.3,
			ExtractDeductive:       true,
			ExtractInductive:       true,
			BatchSize:              5,
			MaxBatchTokens:         12000,
			ScrubSecrets:           true,
		},
		Server: ServerConfig{
			HTTPHost:        "127.0.0.1",
			HTTPPort:        8765,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Events: EventsConfig{
			SubjectPrefix: "obsidian_rag",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "obsidian-rag",
			Insecure:    true,
			Sampling:    1.0,
			Metrics:     true,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if c.Vault.PersistDir == "" {
		errs = append(errs, errors.New("vault.persist_dir is required"))
	}
	if c.Vault.MaxFileSize < 0 {
		errs = append(errs, errors.New("vault.max_file_size cannot be negative"))
	}

	if c.Chunker.MaxChunkTokens <= 0 {
		errs = append(errs, errors.New("chunker.max_chunk_tokens must be positive"))
	}
	if c.Chunker.MinChunkTokens < 0 || c.Chunker.MinChunkTokens > c.Chunker.MaxChunkTokens {
		errs = append(errs, fmt.Errorf("chunker.min_chunk_tokens must be in [0,%d]", c.Chunker.MaxChunkTokens))
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxChunkTokens {
		errs = append(errs, errors.New("chunker.overlap_tokens must be smaller than max_chunk_tokens"))
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("unsupported embeddings provider: %q (supported: openai, tei, fastembed)", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, errors.New("embeddings.batch_size must be positive"))
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid qdrant port: %d", c.VectorStore.Qdrant.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported vectorstore provider: %q (supported: chromem, qdrant)", c.VectorStore.Provider))
	}

	if err := c.Reasoning.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.HTTPPort))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}

// Validate checks the reasoning section.
func (r ReasoningConfig) Validate() error {
	switch r.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported reasoning provider: %q (supported: openai, anthropic)", r.Provider)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("reasoning.min_confidence must be in [0,1], got %g", r.MinConfidence)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("reasoning.temperature must be in [0,2], got %g", r.Temperature)
	}
	if r.MaxConclusionsPerChunk <= 0 {
		return errors.New("reasoning.max_conclusions_per_chunk must be positive")
	}
	if r.BatchSize <= 0 {
		return errors.New("reasoning.batch_size must be positive")
	}
	if r.MaxBatchTokens <= 0 {
		return errors.New("reasoning.max_batch_tokens must be positive")
	}
	return nil
}

// ChromemPath returns the chromem persistence directory.
func (c *Config) ChromemPath() string {
	if c.VectorStore.Chromem.Path != "" {
		return c.VectorStore.Chromem.Path
	}
	return c.Vault.PersistDir
}
