package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

func newTraceCmd(flags *globalFlags) *cobra.Command {
	var (
		depth  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "trace ID",
		Short: "Show the evidence and neighbours behind a conclusion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				trace, err := eng.GetConclusionTrace(ctx, args[0], depth)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), trace)
				}
				printTrace(cmd.OutOrStdout(), trace)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 3, fmt.Sprintf("trace depth (1-%d)", engine.MaxTraceDepth))
	cmd.Flags().BoolVarP(&asJSON, "json-output", "j", false, "output as JSON")
	return cmd
}

func newExploreCmd(flags *globalFlags) *cobra.Command {
	var (
		req    engine.Explore
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Find conclusions connected to a query or to another conclusion",
		Example: `  obsidian-rag explore --query "payment failures"
  obsidian-rag explore --id 3f9c2a7b1d4e5f60`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				connected, err := eng.ExploreConnectedConclusions(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), connected)
				}
				printConnected(cmd.OutOrStdout(), connected)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Query, "query", "", "start from conclusions matching this query")
	cmd.Flags().StringVar(&req.ConclusionID, "id", "", "start from this conclusion")
	cmd.Flags().IntVarP(&req.TopK, "top-k", "k", 10, "number of conclusions to return")
	cmd.Flags().Float64Var(&req.MinConfidence, "min-confidence", 0, "minimum conclusion confidence (0-1)")
	cmd.Flags().BoolVarP(&asJSON, "json-output", "j", false, "output as JSON")
	cmd.MarkFlagsMutuallyExclusive("query", "id")
	return cmd
}

func conclusionLine(c reasoning.Conclusion) string {
	return fmt.Sprintf("%s %s %s",
		tagStyle.Render("["+c.Type.String()+"]"),
		c.Statement,
		dimStyle.Render(fmt.Sprintf("(confidence %.2f, %s)", c.Confidence, c.ID)))
}

func printTrace(w io.Writer, t *reasoning.ReasoningTrace) {
	fmt.Fprintln(w, titleStyle.Render("Conclusion"))
	fmt.Fprintf(w, "  %s\n", conclusionLine(t.Conclusion))
	source := t.Conclusion.Context.SourcePath
	if h := t.Conclusion.Context.Heading; h != "" {
		source += " > " + h
	}
	field(w, "  Source", source)
	for _, e := range t.Conclusion.Evidence {
		fmt.Fprintf(w, "    - %s\n", e)
	}

	if len(t.SupportingEvidence) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Supporting evidence"))
		for _, e := range t.SupportingEvidence {
			fmt.Fprintf(w, "  %s %s\n", scoreStyle.Render(fmt.Sprintf("[%.3f]", e.RelevanceScore)), e.ChunkID)
			fmt.Fprintf(w, "%s\n", dimStyle.Render(preview(e.Content)))
		}
	}
	printScored(w, "Parent conclusions", t.ParentConclusions)
	printScored(w, "Child conclusions", t.ChildConclusions)

	fmt.Fprintln(w)
	field(w, "Confidence path", fmt.Sprintf("%.3f", t.ConfidencePath))
}

func printScored(w io.Writer, title string, scored []reasoning.ScoredConclusion) {
	if len(scored) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render(title))
	for _, s := range scored {
		fmt.Fprintf(w, "  %s %s\n", scoreStyle.Render(fmt.Sprintf("[%.3f]", s.Similarity)), conclusionLine(s.Conclusion))
	}
}

func printConnected(w io.Writer, connected []reasoning.ConnectedConclusion) {
	if len(connected) == 0 {
		fmt.Fprintln(w, "No connected conclusions found.")
		return
	}
	for i, c := range connected {
		fmt.Fprintf(w, "%d. %s %s\n", i+1,
			scoreStyle.Render(fmt.Sprintf("[%s %.3f]", c.Relationship, c.Strength)),
			conclusionLine(c.Conclusion))
		if c.Conclusion.Context.SourcePath != "" {
			field(w, "   Source", c.Conclusion.Context.SourcePath)
		}
	}
}
