package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
)

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index VAULT",
		Short: "Index an Obsidian vault for semantic search",
		Long: `Index walks the vault, chunks every changed note and stores the embeddings.
Unchanged notes are skipped unless --force is given. With --reasoning the
chunks are also sent to the configured LLM to extract conclusions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.vault = args[0]
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Indexing vault: %s\n", eng.Vault().Root())

				stats, err := eng.Index(ctx, force)
				if err != nil {
					return fmt.Errorf("indexing failed: %w", err)
				}

				fmt.Fprintln(out)
				fmt.Fprintln(out, titleStyle.Render("Index complete"))
				printStats(out, stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-index every note")
	return cmd
}

func printStats(out io.Writer, stats *indexer.Stats) {
	field(out, "  Files", stats.TotalFiles)
	field(out, "  Chunks", stats.TotalChunks)
	if stats.FilesIndexed > 0 {
		field(out, "  Updated", fmt.Sprintf("%d files", stats.FilesIndexed))
	}
	if stats.ReasoningEnabled {
		field(out, "  Conclusions", stats.TotalConclusions)
		if stats.ConclusionsExtracted > 0 {
			field(out, "  Extracted", stats.ConclusionsExtracted)
		}
	}
	if stats.IndexedAt.IsZero() {
		field(out, "  Indexed at", "never")
	} else {
		field(out, "  Indexed at", stats.IndexedAt.Format(time.RFC3339))
	}
	if rev := stats.Revision; rev != nil {
		commit := rev.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		if rev.Dirty {
			commit += " (dirty)"
		}
		field(out, "  Revision", commit)
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				stats, err := eng.Stats(ctx)
				if err != nil {
					return err
				}
				var counts map[string]int
				if eng.ReasoningEnabled() {
					byType, err := eng.ConclusionCounts(ctx)
					if err != nil {
						return err
					}
					counts = make(map[string]int, len(byType))
					for t, n := range byType {
						counts[t.String()] = n
					}
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, struct {
						Index             *indexer.Stats `json:"index"`
						ConclusionsByType map[string]int `json:"conclusions_by_type,omitempty"`
					}{stats, counts})
				}

				field(out, "Vault", stats.VaultPath)
				printStats(out, stats)
				if len(counts) > 0 {
					types := make([]string, 0, len(counts))
					for t := range counts {
						types = append(types, t)
					}
					sort.Strings(types)
					for _, t := range types {
						field(out, "    "+t, counts[t])
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json-output", "j", false, "output as JSON")
	return cmd
}

func newDeleteIndexCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-index",
		Short: "Delete the vault's chunks, conclusions and hash caches",
		Long: `Delete-index drops the chunk and conclusion collections and the file hash
caches, so the next index run starts from scratch. The notes are not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the index without --yes")
			}
			return withEngine(cmd, flags, func(ctx context.Context, _ *app, eng *engine.Engine) error {
				if err := eng.DeleteIndex(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted index for %s\n", eng.Vault().Root())
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
