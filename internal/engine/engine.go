// Package engine answers queries over an indexed vault.
//
// An Engine is built once per process from the loaded configuration and
// handed to the MCP server, the HTTP API and the CLI. It owns the vault,
// the indexer, the chunk collection and, when reasoning is enabled, the
// conclusion store and extractor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/chunker"
	"github.com/danielscholl/obsidian-rag-mcp/internal/conclusions"
	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/embeddings"
	"github.com/danielscholl/obsidian-rag-mcp/internal/events"
	"github.com/danielscholl/obsidian-rag-mcp/internal/extraction"
	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
	"github.com/danielscholl/obsidian-rag-mcp/pkg/secrets"
)

var tracer = otel.Tracer("obsidian-rag.engine")

const (
	// MaxTopK bounds chunk and conclusion result counts.
	MaxTopK = 50

	// MaxRecent bounds ListRecent.
	MaxRecent = 100

	// MaxQueryLength is the longest query passed to the embedder, in characters.
	MaxQueryLength = 10000

	// MaxTraceDepth bounds GetConclusionTrace.
	MaxTraceDepth = 10

	// relatedQueryLength is how much of a note GetRelated searches with.
	relatedQueryLength = 8000

	// relatedConclusions is how many neighbours each reasoning result lists.
	relatedConclusions = 3
)

// Deps overrides the components New would otherwise build from config.
// Every field is optional.
type Deps struct {
	Embedder  embeddings.Provider
	Store     vectorstore.Store
	LLM       extraction.LLMClient
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Engine is the query surface over one vault.
type Engine struct {
	cfg         *config.Config
	vault       *vault.Vault
	indexer     *indexer.Indexer
	embedder    embeddings.Provider
	store       vectorstore.Store
	conclusions *conclusions.Store
	publisher   events.Publisher
	logger      *zap.Logger

	closers []func() error
}

// New builds an Engine from cfg. Components in deps are used as given and
// are not closed by Close.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, logger: logger}

	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	v, err := vault.Open(cfg.Vault.Path, vault.Options{
		IgnorePatterns: cfg.Vault.IgnorePatterns,
		MaxFileSize:    cfg.Vault.MaxFileSize,
		Logger:         logger.Named("vault"),
	})
	if err != nil {
		return nil, err
	}
	e.vault = v

	e.embedder = deps.Embedder
	if e.embedder == nil {
		p, err := embeddings.NewProvider(ctx, cfg.Embeddings, logger.Named("embeddings"))
		if err != nil {
			return nil, fmt.Errorf("creating embeddings provider: %w", err)
		}
		e.embedder = p
		e.closers = append(e.closers, p.Close)
	}

	e.store = deps.Store
	if e.store == nil {
		s, err := vectorstore.NewStore(cfg, e.embedder, e.embedder.Dimension(), logger.Named("vectorstore"))
		if err != nil {
			return nil, fmt.Errorf("creating vector store: %w", err)
		}
		e.store = s
		e.closers = append(e.closers, s.Close)
	}

	e.publisher = deps.Publisher
	if e.publisher == nil {
		p, err := events.FromConfig(cfg.Events, logger.Named("events"))
		if err != nil {
			return nil, err
		}
		e.publisher = p
		e.closers = append(e.closers, p.Close)
	}

	opts := []indexer.Option{
		indexer.WithLogger(logger.Named("indexer")),
		indexer.WithPublisher(e.publisher),
	}
	if cfg.Reasoning.Enabled {
		ex, store, err := e.buildReasoning(deps.LLM)
		if err != nil {
			return nil, err
		}
		e.conclusions = store
		opts = append(opts, indexer.WithReasoning(ex, store))
	}

	ix, err := indexer.New(v,
		chunker.New(chunker.ConfigFrom(cfg.Chunker)),
		e.embedder, e.store, cfg.Vault.PersistDir, opts...)
	if err != nil {
		return nil, err
	}
	e.indexer = ix

	logger.Info("engine ready",
		zap.String("vault", v.Root()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("reasoning", e.ReasoningEnabled()))
	ok = true
	return e, nil
}

func (e *Engine) buildReasoning(llm extraction.LLMClient) (*extraction.Extractor, *conclusions.Store, error) {
	cfg := extraction.ConfigFrom(e.cfg.Reasoning)
	if llm == nil {
		c, err := extraction.NewClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating LLM client: %w", err)
		}
		llm = c
	}

	opts := []extraction.Option{extraction.WithLogger(e.logger.Named("extraction"))}
	if e.cfg.Reasoning.ScrubSecrets {
		r, err := secrets.NewRedactor(secrets.Options{
			VaultPath:     e.vault.Root(),
			AllowlistPath: allowlistPath(e.cfg.Reasoning.AllowlistPath),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating secret redactor: %w", err)
		}
		opts = append(opts, extraction.WithRedactor(r))
	}
	ex, err := extraction.NewExtractor(llm, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	store, err := conclusions.NewStore(e.store, e.embedder, conclusions.WithLogger(e.logger.Named("conclusions")))
	if err != nil {
		return nil, nil, err
	}
	return ex, store, nil
}

// allowlistPath falls back to ~/.config/obsidian-rag/allowlist.toml.
func allowlistPath(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "obsidian-rag", "allowlist.toml")
}

// ReasoningEnabled reports whether conclusion operations are available.
func (e *Engine) ReasoningEnabled() bool { return e.conclusions != nil }

// Vault returns the engine's vault.
func (e *Engine) Vault() *vault.Vault { return e.vault }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Close releases the components New created, in reverse order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
