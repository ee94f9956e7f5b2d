package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

// Server serves engine operations as MCP tools.
type Server struct {
	mcp     *mcp.Server
	engine  *engine.Engine
	metrics *toolMetrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "obsidian-rag")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "obsidian-rag",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server backed by eng.
func NewServer(cfg *Config, eng *engine.Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Name == "" {
		cfg.Name = "obsidian-rag"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	metrics, err := newToolMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("creating tool metrics: %w", err)
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		engine:  eng,
		metrics: metrics,
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("vault", s.engine.Vault().Root()),
		zap.Bool("reasoning", s.engine.ReasoningEnabled()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
