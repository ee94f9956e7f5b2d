package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "OBSIDIAN_RAG_"

	defaultAzureAPIVersion = "2024-10-21"
)

// nestedSections lists sections whose env keys carry a sub-section after
// the section name, e.g. OBSIDIAN_RAG_VECTORSTORE_QDRANT_HOST.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
}

// legacyEnv maps environment variables used by earlier releases.
var legacyEnv = map[string]string{
	"OBSIDIAN_VAULT_PATH": "vault.path",
	"CHROMA_PERSIST_DIR":  "vault.persist_dir",
	"REASONING_ENABLED":   "reasoning.enabled",
}

// Load reads configuration from the YAML file at configPath (optional; empty
// means ~/.config/obsidian-rag/config.yaml) and the environment.
//
// Environment mapping splits on the first underscore after the prefix:
//
//	OBSIDIAN_RAG_REASONING_MIN_CONFIDENCE -> reasoning.min_confidence
//	OBSIDIAN_RAG_VECTORSTORE_QDRANT_HOST  -> vectorstore.qdrant.host
//
// The file must be 0600 or 0400 and no larger than 1MB.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "obsidian-rag", "config.yaml")
	}

	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyProviderEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate the open descriptor to avoid a stat/open race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps OBSIDIAN_RAG_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return ""
	}
	for _, sub := range nestedSections[section] {
		if rest, found := strings.CutPrefix(field, sub+"_"); found {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// applyProviderEnv fills credentials from the provider-standard variables
// when the config leaves them empty.
func applyProviderEnv(cfg *Config) {
	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		version := os.Getenv("AZURE_OPENAI_VERSION")
		if version == "" {
			version = defaultAzureAPIVersion
		}
		key := Secret(os.Getenv("AZURE_API_KEY"))

		if cfg.Embeddings.Provider == "openai" && cfg.Embeddings.BaseURL == "" {
			cfg.Embeddings.BaseURL = endpoint
			cfg.Embeddings.APIVersion = version
			if !cfg.Embeddings.APIKey.IsSet() {
				cfg.Embeddings.APIKey = key
			}
			if d := os.Getenv("AZURE_EMBEDDING_DEPLOYMENT"); d != "" {
				cfg.Embeddings.Model = d
			}
		}
		if cfg.Reasoning.Provider == "openai" && cfg.Reasoning.BaseURL == "" {
			cfg.Reasoning.BaseURL = endpoint
			cfg.Reasoning.APIVersion = version
			if !cfg.Reasoning.APIKey.IsSet() {
				cfg.Reasoning.APIKey = key
			}
		}
	}

	openaiKey := Secret(os.Getenv("OPENAI_API_KEY"))
	if cfg.Embeddings.Provider == "openai" && !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = openaiKey
	}
	if !cfg.Reasoning.APIKey.IsSet() {
		switch cfg.Reasoning.Provider {
		case "openai":
			cfg.Reasoning.APIKey = openaiKey
		case "anthropic":
			cfg.Reasoning.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
}

// EnsureConfigDir creates ~/.config/obsidian-rag with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "obsidian-rag")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
