package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("obsidian-rag.vectorstore.qdrant")

// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// pointNamespace scopes the UUIDv5 point ids derived from document ids.
var pointNamespace = uuid.MustParse("3b1f8c1e-6f0a-4c55-9a51-0c2b7e3f4d10")

// Payload keys reserved for the document id and content.
const (
	payloadID      = "_id"
	payloadContent = "_content"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	// Default: "localhost"
	Host string

	// Port is the gRPC port, not the REST port.
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	UseTLS bool

	// VectorSize is used when creating collections. Must match the embedder.
	VectorSize uint64

	// Distance is the similarity metric. Only cosine keeps Result.Distance
	// meaningful. Default: Cosine
	Distance qdrant.Distance

	// MaxRetries bounds retries of transient gRPC failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial retry delay, doubled per attempt. Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size limit. Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures that opens the circuit for 30s. Default: 5
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ValidateCollectionName checks a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store on Qdrant's gRPC API.
//
// Document ids are mapped to UUIDv5 point ids; the original id and content
// travel in the payload next to the metadata. All filter operators are
// pushed down natively.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	// known caches collection existence checks.
	known sync.Map

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC connection is plaintext", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, embedder: embedder, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return s, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Collection returns the named collection, creating it if needed.
func (s *QdrantStore) Collection(ctx context.Context, name string) (Collection, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Collection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if _, ok := s.known.Load(name); ok {
		return &qdrantCollection{name: name, store: s}, nil
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err = s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: s.config.Distance,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("collection created", zap.String("collection", name))
	}
	s.known.Store(name, true)
	return &qdrantCollection{name: name, store: s}, nil
}

// DeleteCollection drops a collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	s.known.Delete(name)

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil || !exists {
		return err
	}
	err = s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) retryOperation(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if s.isCircuitOpen() {
			err := fmt.Errorf("%s: circuit breaker open", op)
			observeOperation("qdrant", op, start, err)
			return err
		}
		err := fn()
		if err == nil {
			s.resetCircuitBreaker()
			observeOperation("qdrant", op, start, nil)
			return nil
		}
		if !IsTransientError(err) {
			observeOperation("qdrant", op, start, err)
			return fmt.Errorf("%s failed (permanent): %w", op, err)
		}
		s.recordFailure()
		if attempt == s.config.MaxRetries {
			observeOperation("qdrant", op, start, err)
			return fmt.Errorf("%s failed after %d retries: %w", op, s.config.MaxRetries, err)
		}
		s.logger.Debug("retrying qdrant operation", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	if s.circuitBreaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
		s.circuitBreaker.failures = 0
		return false
	}
	return true
}

type qdrantCollection struct {
	name  string
	store *QdrantStore
}

func (c *qdrantCollection) Name() string { return c.name }

func (c *qdrantCollection) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.Int("count", len(docs)))

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	if err := c.fillEmbeddings(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document %d has no id", ErrInvalidConfig, i)
		}
		raw := make(map[string]any, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			raw[k] = v
		}
		raw[payloadID] = d.ID
		raw[payloadContent] = d.Content
		payload, err := qdrant.TryValueMap(raw)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", d.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(d.ID)),
			Vectors: qdrant.NewVectorsDense(d.Embedding),
			Payload: payload,
		}
	}

	err := c.store.retryOperation(ctx, "upsert", func() error {
		_, err := c.store.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting into %s: %w", c.name, err)
	}
	return nil
}

// fillEmbeddings embeds documents that arrive without a vector.
func (c *qdrantCollection) fillEmbeddings(ctx context.Context, docs []Document) error {
	var idx []int
	var texts []string
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			idx = append(idx, i)
			texts = append(texts, d.Content)
		}
	}
	if len(idx) == 0 {
		return nil
	}
	if c.store.embedder == nil {
		return ErrNoEmbedder
	}
	vecs, err := c.store.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: got %d embeddings for %d documents", ErrDimensionMismatch, len(vecs), len(texts))
	}
	for j, i := range idx {
		docs[i].Embedding = vecs[j]
	}
	return nil
}

func (c *qdrantCollection) Query(ctx context.Context, q Query) ([]Result, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("top_k", q.TopK),
		attribute.String("filter", q.Filter.String()),
	)

	if q.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", q.TopK)
	}
	filter, err := qdrantFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	vec := q.Embedding
	if len(vec) == 0 {
		if q.Text == "" {
			return nil, fmt.Errorf("query needs text or an embedding")
		}
		if c.store.embedder == nil {
			return nil, ErrNoEmbedder
		}
		vec, err = c.store.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
	}

	var points []*qdrant.ScoredPoint
	err = c.store.retryOperation(ctx, "query", func() error {
		res, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.name,
			Query:          qdrant.NewQuery(vec...),
			Limit:          qdrant.PtrOf(uint64(q.TopK)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", c.name, err)
	}

	results := make([]Result, len(points))
	for i, p := range points {
		results[i] = Result{
			Document: documentFromPayload(p.GetPayload()),
			Distance: 1 - float64(p.GetScore()),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

func (c *qdrantCollection) Get(ctx context.Context, ids ...string) ([]Document, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.Int("ids", len(ids)))

	if len(ids) == 0 {
		return nil, nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(pointID(id))
	}

	var points []*qdrant.RetrievedPoint
	err := c.store.retryOperation(ctx, "get", func() error {
		res, err := c.store.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: c.name,
			Ids:            pids,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		points = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting from %s: %w", c.name, err)
	}
	return retrievedDocuments(points), nil
}

func (c *qdrantCollection) Find(ctx context.Context, f *Filter) ([]Document, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Find")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.String("filter", f.String()))

	filter, err := qdrantFilter(f)
	if err != nil {
		return nil, err
	}

	var total uint64
	err = c.store.retryOperation(ctx, "count", func() error {
		n, err := c.store.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.name,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		total = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", c.name, err)
	}
	if total == 0 {
		return nil, nil
	}

	var points []*qdrant.RetrievedPoint
	err = c.store.retryOperation(ctx, "scroll", func() error {
		res, err := c.store.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.name,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(total)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing %s: %w", c.name, err)
	}
	return retrievedDocuments(points), nil
}

func (c *qdrantCollection) Delete(ctx context.Context, f *Filter) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.String("filter", f.String()))

	if f.IsEmpty() {
		return 0, fmt.Errorf("%w: delete requires a filter", ErrInvalidConfig)
	}
	filter, err := qdrantFilter(f)
	if err != nil {
		return 0, err
	}

	var n uint64
	err = c.store.retryOperation(ctx, "count", func() error {
		var err error
		n, err = c.store.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.name,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	if n == 0 {
		return 0, nil
	}

	err = c.store.retryOperation(ctx, "delete", func() error {
		_, err := c.store.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting from %s: %w", c.name, err)
	}
	return int(n), nil
}

func (c *qdrantCollection) DeleteIDs(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(pointID(id))
	}
	return c.store.retryOperation(ctx, "delete", func() error {
		_, err := c.store.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pids...),
		})
		return err
	})
}

func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	var n uint64
	err := c.store.retryOperation(ctx, "count", func() error {
		var err error
		n, err = c.store.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.name,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	documentsGauge.WithLabelValues(c.name).Set(float64(n))
	return int(n), nil
}

func pointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// qdrantFilter translates a Filter into Qdrant's must-conditions.
func qdrantFilter(f *Filter) (*qdrant.Filter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.IsEmpty() {
		return nil, nil
	}
	must := make([]*qdrant.Condition, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		switch c.Op {
		case OpEq:
			switch v := c.Value.(type) {
			case string:
				must = append(must, qdrant.NewMatch(c.Field, v))
			case int:
				must = append(must, qdrant.NewMatchInt(c.Field, int64(v)))
			case int64:
				must = append(must, qdrant.NewMatchInt(c.Field, v))
			case bool:
				must = append(must, qdrant.NewMatchBool(c.Field, v))
			}
		case OpIn:
			must = append(must, qdrant.NewMatchKeywords(c.Field, c.Values...))
		case OpGte:
			must = append(must, qdrant.NewRange(c.Field, &qdrant.Range{Gte: qdrant.PtrOf(c.Min)}))
		}
	}
	return &qdrant.Filter{Must: must}, nil
}

func retrievedDocuments(points []*qdrant.RetrievedPoint) []Document {
	docs := make([]Document, 0, len(points))
	for _, p := range points {
		d := documentFromPayload(p.GetPayload())
		if vo := p.GetVectors().GetVector(); vo != nil {
			if dense := vo.GetDense(); dense != nil {
				d.Embedding = dense.GetData()
			} else {
				d.Embedding = vo.GetData()
			}
		}
		docs = append(docs, d)
	}
	return docs
}

func documentFromPayload(payload map[string]*qdrant.Value) Document {
	d := Document{Metadata: make(Metadata, len(payload))}
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadID:
				d.ID = val.StringValue
			case payloadContent:
				d.Content = val.StringValue
			default:
				d.Metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			d.Metadata[k] = int(val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			d.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			d.Metadata[k] = val.BoolValue
		}
	}
	return d
}

var _ Store = (*QdrantStore)(nil)
var _ Collection = (*qdrantCollection)(nil)
