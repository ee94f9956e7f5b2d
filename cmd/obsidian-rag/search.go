package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		topK   int
		tags   []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the vault semantically",
		Example: `  obsidian-rag search "invoice retries" --vault ~/notes
  obsidian-rag search "outage" -t rca -t billing -k 10 -j`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(args[0])
			if query == "" {
				return errors.New("query cannot be empty")
			}
			if topK < 1 || topK > engine.MaxTopK {
				return fmt.Errorf("invalid value for --top-k: must be between 1 and %d", engine.MaxTopK)
			}

			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				resp, err := eng.Search(ctx, query, topK, tags, 0)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				printSearch(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, fmt.Sprintf("number of results to return (1-%d)", engine.MaxTopK))
	cmd.Flags().StringArrayVarP(&tags, "tags", "t", nil, "filter by tag (repeatable)")
	cmd.Flags().BoolVarP(&asJSON, "json-output", "j", false, "output as JSON")
	return cmd
}

func printSearch(w io.Writer, resp *engine.SearchResponse) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Query:"), resp.Query)
	fmt.Fprintf(w, "Found %d results (searched %d chunks)\n\n", len(resp.Results), resp.TotalChunksSearched)

	for i, r := range resp.Results {
		fmt.Fprintf(w, "%s %s\n",
			titleStyle.Render(fmt.Sprintf("--- Result %d", i+1)),
			scoreStyle.Render(fmt.Sprintf("(score: %.3f) ---", r.Score)))
		field(w, "Source", r.SourcePath)
		if r.Heading != "" {
			field(w, "Section", r.Heading)
		}
		if len(r.Tags) > 0 {
			field(w, "Tags", tagStyle.Render(strings.Join(r.Tags, ", ")))
		}
		fmt.Fprintf(w, "\n%s\n\n", preview(r.Content))
	}
}
