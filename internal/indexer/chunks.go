package indexer

import (
	"strings"

	"github.com/danielscholl/obsidian-rag-mcp/internal/chunker"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

// ChunkCollection is the collection note chunks live in.
const ChunkCollection = "obsidian_vault"

// Chunk metadata keys.
const (
	KeySourcePath    = "source_path"
	KeyChunkIndex    = "chunk_index"
	KeyTitle         = "title"
	KeyHeading       = "heading"
	KeyTags          = "tags"
	KeyTokenEstimate = "token_estimate"
)

const tagSeparator = ","

// upsertBatchSize caps the documents sent to the store in one call.
const upsertBatchSize = 500

func chunkDocument(c chunker.Chunk, embedding []float32) vectorstore.Document {
	return vectorstore.Document{
		ID:      c.ID,
		Content: c.Content,
		Metadata: vectorstore.Metadata{
			KeySourcePath:    c.SourcePath,
			KeyChunkIndex:    c.ChunkIndex,
			KeyTitle:         c.Title,
			KeyHeading:       c.Heading,
			KeyTags:          strings.Join(c.Tags, tagSeparator),
			KeyTokenEstimate: c.TokenEstimate(),
		},
		Embedding: embedding,
	}
}

// ChunkFromDocument rebuilds a chunk from a stored document. Frontmatter is
// not stored and comes back empty.
func ChunkFromDocument(d vectorstore.Document) chunker.Chunk {
	idx, _ := d.Metadata.Int(KeyChunkIndex)
	return chunker.Chunk{
		ID:         d.ID,
		Content:    d.Content,
		SourcePath: d.Metadata.String(KeySourcePath),
		ChunkIndex: idx,
		Title:      d.Metadata.String(KeyTitle),
		Heading:    d.Metadata.String(KeyHeading),
		Tags:       SplitTags(d.Metadata.String(KeyTags)),
	}
}

// SplitTags parses the stored tag list.
func SplitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, tagSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
