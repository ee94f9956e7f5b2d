package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/monitor"
)

func newDashboardCmd(flags *globalFlags) *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal dashboard of index and reasoning statistics",
		Long: `Dashboard refreshes index statistics on an interval. By default it opens the
vault's index directly; with --url it polls a running "obsidian-rag http" server.

Press r to refresh and q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url != "" {
				return runDashboard(cmd.Context(), monitor.NewStatsClient(url), interval)
			}
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				return runDashboard(ctx, monitor.EngineSource{Engine: eng}, interval)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of an obsidian-rag HTTP server")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func runDashboard(ctx context.Context, source monitor.Source, interval time.Duration) error {
	p := tea.NewProgram(monitor.NewModel(source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
