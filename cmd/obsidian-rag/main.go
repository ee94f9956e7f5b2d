// Obsidian-rag indexes an Obsidian vault for semantic search and serves it
// to agents over MCP and HTTP.
//
// Usage:
//
//	# Index a vault, then search it
//	obsidian-rag index ~/notes
//	obsidian-rag search "why did billing fail" --vault ~/notes
//
//	# Serve MCP over stdio, re-indexing on change
//	OBSIDIAN_VAULT_PATH=~/notes obsidian-rag serve --watch
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/logging"
	"github.com/danielscholl/obsidian-rag-mcp/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

// engineDeps supplies engine components that would otherwise be built from
// config. Tests replace it with in-memory fakes.
var engineDeps = func(*config.Config) engine.Deps { return engine.Deps{} }

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	reasoning  bool
	vault      string
	persistDir string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "obsidian-rag",
		Short: "Semantic search and reasoning over an Obsidian vault",
		Long: `obsidian-rag indexes the markdown notes of an Obsidian vault into a vector
store, optionally extracts typed conclusions from them with an LLM, and serves
search to agents over MCP (stdio) or a JSON HTTP API.

Configuration is read from ~/.config/obsidian-rag/config.yaml, a .env file in
the working directory and OBSIDIAN_RAG_* environment variables.`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadDotEnv()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.config/obsidian-rag/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVar(&flags.reasoning, "reasoning", false, "enable conclusion extraction and reasoning tools")
	pf.StringVarP(&flags.vault, "vault", "v", "", "path to the Obsidian vault (env OBSIDIAN_VAULT_PATH)")
	pf.StringVarP(&flags.persistDir, "persist-dir", "p", "", "index storage directory (default .chroma)")

	root.AddCommand(
		newIndexCmd(flags),
		newSearchCmd(flags),
		newStatsCmd(flags),
		newDeleteIndexCmd(flags),
		newServeCmd(flags),
		newHTTPCmd(flags),
		newWatchCmd(flags),
		newDashboardCmd(flags),
		newTraceCmd(flags),
		newExploreCmd(flags),
	)
	return root
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// app is the per-command runtime built from flags and config.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

func setup(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.vault != "" {
		cfg.Vault.Path = flags.vault
	}
	if flags.persistDir != "" {
		cfg.Vault.PersistDir = flags.persistDir
	}
	if cmd.Flags().Changed("reasoning") {
		cfg.Reasoning.Enabled = flags.reasoning
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lcfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.New(cmd.Context(), telemetry.FromConfig(cfg.Telemetry, version), nil)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(lcfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(cmd.Context())
		return nil, err
	}
	logger.Debug(cmd.Context(), "configuration loaded",
		zap.String("vault", cfg.Vault.Path),
		zap.String("persist_dir", cfg.Vault.PersistDir),
		zap.String("embeddings", cfg.Embeddings.Provider),
		logging.Secret("embeddings_api_key", cfg.Embeddings.APIKey),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Bool("reasoning", cfg.Reasoning.Enabled),
		logging.Secret("reasoning_api_key", cfg.Reasoning.APIKey))
	if tel.Degraded() {
		logger.Warn(cmd.Context(), "telemetry exporter unavailable; continuing without it",
			zap.String("endpoint", cfg.Telemetry.Endpoint))
	}
	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// openEngine builds the engine. The vault path is required.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, error) {
	if a.cfg.Vault.Path == "" {
		return nil, errors.New("vault path required: pass --vault or set OBSIDIAN_VAULT_PATH")
	}
	deps := engineDeps(a.cfg)
	deps.Logger = a.logger.Underlying()
	return engine.New(ctx, a.cfg, deps)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withEngine runs fn with a ready engine and tears everything down after.
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *app, *engine.Engine) error) error {
	a, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := logging.WithLogger(cmd.Context(), a.logger)
	eng, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			a.logger.Warn(ctx, "closing engine", zap.Error(err))
		}
	}()
	return fn(ctx, a, eng)
}
