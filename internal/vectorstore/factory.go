package vectorstore

import (
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
)

// NewStore creates the Store selected by cfg.VectorStore.Provider:
//   - "chromem" (default): embedded, persisted under the vault persist dir
//   - "qdrant": remote Qdrant over gRPC
//
// dimension is the embedder's output size; it sizes new Qdrant collections
// and chromem's listing probe.
func NewStore(cfg *config.Config, embedder Embedder, dimension int, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.ChromemPath(),
			Compress:   cfg.VectorStore.Chromem.Compress,
			VectorSize: dimension,
		}, embedder, logger)

	case "qdrant":
		q := cfg.VectorStore.Qdrant
		return NewQdrantStore(QdrantConfig{
			Host:       q.Host,
			Port:       q.Port,
			APIKey:     q.APIKey.Value(),
			UseTLS:     q.UseTLS,
			VectorSize: uint64(dimension),
			Distance:   parseDistance(q.Distance),
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.VectorStore.Provider)
	}
}

func parseDistance(s string) qdrant.Distance {
	switch strings.ToLower(s) {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid", "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}
