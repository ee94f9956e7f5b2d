// Package vectorstore provides named vector collections over embedded
// (chromem-go) and remote (Qdrant) backends.
//
// A Store hands out Collections by name. Each Collection upserts documents
// with scalar metadata and answers nearest-neighbour queries restricted by a
// Filter. Callers that need richer metadata (lists, nested records) flatten it
// themselves before it reaches this package.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrCollectionNotFound is returned when a collection doesn't exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig is returned when store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName is returned when a collection name fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyDocuments is returned when attempting to upsert an empty document list.
	ErrEmptyDocuments = errors.New("empty document list")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch is returned when an embedder returns a different
	// number of vectors than inputs, or vectors of the wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoEmbedder is returned when a text query is issued against a store
	// that has no embedder.
	ErrNoEmbedder = errors.New("no embedder configured")

	// ErrConnectionFailed is returned when the backend can't be reached.
	ErrConnectionFailed = errors.New("connection failed")
)

// Embedder generates embeddings for text queries issued directly against a
// collection.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Metadata holds scalar document attributes.
//
// Values are string, int, float64 or bool. Backends without typed metadata
// (chromem) return every value as a string; use the helpers in metadata.go to
// read values back.
type Metadata map[string]any

// Document is a stored item: searchable content, metadata and an optional
// precomputed embedding. When Embedding is nil the store embeds Content.
type Document struct {
	ID        string
	Content   string
	Metadata  Metadata
	Embedding []float32
}

// Result is a Document returned from a similarity query.
type Result struct {
	Document

	// Distance is the cosine distance to the query, in [0,2].
	Distance float64
}

// Similarity converts the cosine distance into a similarity score.
func (r Result) Similarity() float64 {
	return 1 - r.Distance
}

// Query describes a nearest-neighbour lookup. Exactly one of Text or
// Embedding is used; Embedding wins when both are set.
type Query struct {
	Text      string
	Embedding []float32
	TopK      int
	Filter    *Filter
}

// Collection is a named set of documents.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Upsert inserts documents, replacing any with the same ID.
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to TopK documents matching the filter, most similar first.
	Query(ctx context.Context, q Query) ([]Result, error)

	// Get returns the documents with the given IDs. Unknown IDs are skipped.
	Get(ctx context.Context, ids ...string) ([]Document, error)

	// Find returns every document matching the filter, in no particular order.
	Find(ctx context.Context, filter *Filter) ([]Document, error)

	// Delete removes every document matching the filter and reports how many
	// were removed. An empty filter is rejected.
	Delete(ctx context.Context, filter *Filter) (int, error)

	// DeleteIDs removes documents by ID.
	DeleteIDs(ctx context.Context, ids ...string) error

	// Count returns the number of documents.
	Count(ctx context.Context) (int, error)
}

// Store manages collections.
type Store interface {
	// Collection returns the named collection, creating it if needed.
	Collection(ctx context.Context, name string) (Collection, error)

	// DeleteCollection drops a collection and all of its documents.
	// Deleting a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}
