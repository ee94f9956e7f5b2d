package conclusions

import (
	"encoding/json"
	"fmt"

	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
	"github.com/danielscholl/obsidian-rag-mcp/internal/vectorstore"
)

// Metadata keys. Lists are JSON-encoded because vector store metadata is
// scalar-only; nothing outside this file sees the encoded form.
const (
	keyType          = "type"
	keyConfidence    = "confidence"
	keySourceChunkID = "source_chunk_id"
	keySourcePath    = "source_path"
	keyTitle         = "title"
	keyHeading       = "heading"
	keyTags          = "tags"
	keyChunkIndex    = "chunk_index"
	keyEvidence      = "evidence"
	keyRelated       = "related_conclusions"
	keyCreatedAt     = "created_at"
)

// encode flattens a conclusion into a vector store document. The statement
// is the searchable content.
func encode(c reasoning.Conclusion, embedding []float32) (vectorstore.Document, error) {
	tags, err := json.Marshal(c.Context.Tags)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("encoding tags: %w", err)
	}
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("encoding evidence: %w", err)
	}
	related, err := json.Marshal(c.RelatedConclusions)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("encoding related conclusions: %w", err)
	}

	return vectorstore.Document{
		ID:      c.ID,
		Content: c.Statement,
		Metadata: vectorstore.Metadata{
			keyType:          string(c.Type),
			keyConfidence:    c.Confidence,
			keySourceChunkID: c.SourceChunkID,
			keySourcePath:    c.Context.SourcePath,
			keyTitle:         c.Context.Title,
			keyHeading:       c.Context.Heading,
			keyTags:          string(tags),
			keyChunkIndex:    c.Context.ChunkIndex,
			keyEvidence:      string(evidence),
			keyRelated:       string(related),
			keyCreatedAt:     c.CreatedAt,
		},
		Embedding: embedding,
	}, nil
}

// decode rebuilds a conclusion from a stored document.
func decode(d vectorstore.Document) (reasoning.Conclusion, error) {
	md := d.Metadata

	confidence, ok := md.Float(keyConfidence)
	if !ok {
		return reasoning.Conclusion{}, fmt.Errorf("conclusion %s: missing confidence", d.ID)
	}
	chunkIndex, _ := md.Int(keyChunkIndex)

	c := reasoning.Conclusion{
		ID:            d.ID,
		Type:          reasoning.ConclusionType(md.String(keyType)),
		Statement:     d.Content,
		Confidence:    confidence,
		SourceChunkID: md.String(keySourceChunkID),
		Context: reasoning.ChunkContext{
			SourcePath: md.String(keySourcePath),
			Title:      md.String(keyTitle),
			Heading:    md.String(keyHeading),
			ChunkIndex: chunkIndex,
		},
		CreatedAt: md.String(keyCreatedAt),
	}

	if err := decodeList(md, keyTags, &c.Context.Tags); err != nil {
		return reasoning.Conclusion{}, fmt.Errorf("conclusion %s: %w", d.ID, err)
	}
	if err := decodeList(md, keyEvidence, &c.Evidence); err != nil {
		return reasoning.Conclusion{}, fmt.Errorf("conclusion %s: %w", d.ID, err)
	}
	if err := decodeList(md, keyRelated, &c.RelatedConclusions); err != nil {
		return reasoning.Conclusion{}, fmt.Errorf("conclusion %s: %w", d.ID, err)
	}
	return c, nil
}

func decodeList(md vectorstore.Metadata, key string, dst *[]string) error {
	raw := md.String(key)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}
