package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	httpapi "github.com/danielscholl/obsidian-rag-mcp/internal/http"
	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
	mcpserver "github.com/danielscholl/obsidian-rag-mcp/internal/mcp"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vault"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// startWatch re-indexes in the background until ctx is done.
func startWatch(ctx context.Context, a *app, eng *engine.Engine, debounce time.Duration, onPass engine.PassFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := eng.Watch(ctx, debounce, onPass)
		if err != nil {
			a.logger.Error(ctx, "vault watcher stopped", zap.Error(err))
		}
		done <- err
	}()
	return done
}

// backgroundWatch starts a watcher and returns a func that stops it
// and waits for the in-flight pass, so the engine can close safely.
func backgroundWatch(ctx context.Context, a *app, eng *engine.Engine, debounce time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := startWatch(ctx, a, eng, debounce, nil)
	return func() {
		cancel()
		<-done
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Serve exposes the vault as MCP tools over stdin/stdout for agent clients.
Stdout carries JSON-RPC only; the banner and logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			cmd.SetContext(ctx)

			return withEngine(cmd, flags, func(ctx context.Context, a *app, eng *engine.Engine) error {
				stderr := cmd.ErrOrStderr()
				fmt.Fprintf(stderr, "Starting MCP server for vault: %s\n", eng.Vault().Root())
				fmt.Fprintf(stderr, "Index: %s\n", a.cfg.Vault.PersistDir)
				fmt.Fprintf(stderr, "Reasoning: %t\n", eng.ReasoningEnabled())
				fmt.Fprintln(stderr, "Using stdio transport")

				srv, err := mcpserver.NewServer(&mcpserver.Config{
					Name:    "obsidian-rag",
					Version: version,
					Logger:  a.logger.Underlying().Named("mcp"),
				}, eng)
				if err != nil {
					return err
				}

				if watch {
					defer backgroundWatch(ctx, a, eng, debounce)()
				}
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-index notes as they change")
	cmd.Flags().DurationVar(&debounce, "debounce", vault.DefaultDebounce, "wait for changes to settle before re-indexing")
	return cmd
}

func newHTTPCmd(flags *globalFlags) *cobra.Command {
	var (
		host     string
		port     int
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Start the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			cmd.SetContext(ctx)

			return withEngine(cmd, flags, func(ctx context.Context, a *app, eng *engine.Engine) error {
				cfg := &httpapi.Config{Host: a.cfg.Server.HTTPHost, Port: a.cfg.Server.HTTPPort}
				if cmd.Flags().Changed("host") {
					cfg.Host = host
				}
				if cmd.Flags().Changed("port") {
					cfg.Port = port
				}
				srv, err := httpapi.NewServer(eng, a.logger.Underlying().Named("http"), cfg)
				if err != nil {
					return err
				}

				if watch {
					defer backgroundWatch(ctx, a, eng, debounce)()
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on http://%s:%d\n", eng.Vault().Root(), cfg.Host, cfg.Port)

				select {
				case err := <-errCh:
					if errors.Is(err, nethttp.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 8765, "listen port")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-index notes as they change")
	cmd.Flags().DurationVar(&debounce, "debounce", vault.DefaultDebounce, "wait for changes to settle before re-indexing")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index the vault, then re-index notes as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			cmd.SetContext(ctx)

			return withEngine(cmd, flags, func(ctx context.Context, a *app, eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				stats, err := eng.Index(ctx, false)
				if err != nil {
					return fmt.Errorf("initial index failed: %w", err)
				}
				fmt.Fprintf(out, "Indexed %s: %d files, %d chunks\n", eng.Vault().Root(), stats.TotalFiles, stats.TotalChunks)
				fmt.Fprintln(out, dimStyle.Render("Watching for changes (Ctrl+C to stop)"))

				return <-startWatch(ctx, a, eng, debounce, func(changes vault.ChangeSet, stats *indexer.Stats, err error) {
					printPass(out, changes, stats, err)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", vault.DefaultDebounce, "wait for changes to settle before re-indexing")
	return cmd
}

func printPass(w io.Writer, changes vault.ChangeSet, stats *indexer.Stats, err error) {
	stamp := dimStyle.Render(time.Now().Format("15:04:05"))
	if err != nil {
		fmt.Fprintf(w, "%s %s %v\n", stamp, errorStyle.Render("re-index failed:"), err)
		return
	}
	fmt.Fprintf(w, "%s %d changed, %d removed -> %d files indexed, %d chunks total\n",
		stamp, len(changes.Changed), len(changes.Removed), stats.FilesIndexed, stats.TotalChunks)
}
