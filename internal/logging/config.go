// Package logging builds the process logger used by the obsidian-rag CLI.
//
// Records are written to stderr. When serving MCP over stdio, stdout carries
// JSON-RPC and must never receive log output. Packages below the CLI take a
// plain *zap.Logger obtained from Logger.Underlying.
package logging

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
)

// defaultRedactKeys are masked regardless of configuration.
var defaultRedactKeys = []string{
	"api_key", "apikey", "authorization", "password", "secret", "token",
}

// Config is the resolved logger configuration.
type Config struct {
	Level  zapcore.Level
	Format string
	OTEL   bool

	Sampling SamplingConfig
	Caller   bool

	// StacktraceLevel attaches stacktraces at or above this level.
	StacktraceLevel zapcore.Level

	Fields     map[string]string
	RedactKeys []string
}

// SamplingConfig bounds repeated entries per tick. Errors are never sampled.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// DefaultConfig returns info-level console logging with sampling.
func DefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "obsidian-rag"},
		RedactKeys:      defaultRedactKeys,
	}
}

// FromConfig resolves the user-facing logging section.
func FromConfig(c config.LoggingConfig) (*Config, error) {
	cfg := DefaultConfig()
	if c.Level != "" {
		lvl, err := LevelFromString(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		cfg.Level = lvl
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	cfg.OTEL = c.OTEL
	cfg.Sampling.Enabled = c.Sampling
	cfg.Caller = c.Caller
	for k, v := range c.Fields {
		cfg.Fields[k] = v
	}
	cfg.RedactKeys = append(cfg.RedactKeys, c.Redact...)
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			errs = append(errs, errors.New("sampling tick must be positive"))
		}
		if c.Sampling.Initial < 0 || c.Sampling.Thereafter < 0 {
			errs = append(errs, errors.New("sampling counts cannot be negative"))
		}
	}
	for k, v := range c.Fields {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("field key cannot be empty"))
		} else if v == "" {
			errs = append(errs, fmt.Errorf("field %q has empty value", k))
		}
	}
	return errors.Join(errs...)
}
