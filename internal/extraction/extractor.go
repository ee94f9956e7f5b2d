package extraction

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

var tracer = otel.Tracer("obsidian-rag.extraction")

// Chunk is one unit of text submitted for batch extraction.
type Chunk struct {
	ID      string
	Content string
	Context reasoning.ChunkContext
}

// Redactor scrubs secrets from text before it leaves the process.
type Redactor interface {
	Redact(content string) (string, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRedactor scrubs chunk content before it is put into a prompt.
func WithRedactor(r Redactor) Option {
	return func(e *Extractor) { e.redactor = r }
}

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// Extractor turns chunk text into conclusions.
type Extractor struct {
	client   LLMClient
	cfg      Config
	redactor Redactor
	logger   *zap.Logger
	now      func() time.Time
}

// NewExtractor creates an extractor that calls client.
func NewExtractor(client LLMClient, cfg Config, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: LLM client cannot be nil", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		client: client,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// ExtractConclusions extracts conclusions from one chunk. Blank content
// makes no LLM call. Any failure is logged and yields an empty result.
func (e *Extractor) ExtractConclusions(ctx context.Context, content string, chunkCtx reasoning.ChunkContext) []reasoning.Conclusion {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	ctx, span := tracer.Start(ctx, "extraction.ExtractConclusions")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", chunkCtx.SourcePath))

	content = e.redact(content)
	reply, err := e.call(ctx, "single", CompletionRequest{
		System:      singleSystemPrompt,
		Prompt:      buildSinglePrompt(content, chunkCtx, e.cfg),
		Temperature: e.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("conclusion extraction failed",
			zap.String("source_path", chunkCtx.SourcePath),
			zap.Int("chunk_index", chunkCtx.ChunkIndex),
			zap.Error(err))
		return nil
	}

	items, err := parseSingle(reply)
	if err != nil {
		parseFailures.WithLabelValues("single").Inc()
		e.logger.Warn("unparseable extraction response",
			zap.String("source_path", chunkCtx.SourcePath),
			zap.Error(err))
		return nil
	}

	out := e.validate(items, chunkCtx.ChunkID(), chunkCtx, e.timestamp())
	span.SetAttributes(attribute.Int("conclusions", len(out)))
	return out
}

// ExtractConclusionsBatch extracts conclusions from several chunks with one
// LLM call. The result has an entry for every chunk with non-blank content;
// ids the model invents are ignored and ids it omits map to an empty slice.
// A failed call or an unparseable reply returns an error and no results.
func (e *Extractor) ExtractConclusionsBatch(ctx context.Context, chunks []Chunk) (map[string][]reasoning.Conclusion, error) {
	results := make(map[string][]reasoning.Conclusion, len(chunks))
	pending := make([]Chunk, 0, len(chunks))
	byID := make(map[string]reasoning.ChunkContext, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		c.Content = e.redact(c.Content)
		pending = append(pending, c)
		byID[c.ID] = c.Context
		results[c.ID] = []reasoning.Conclusion{}
	}
	if len(pending) == 0 {
		return results, nil
	}

	ctx, span := tracer.Start(ctx, "extraction.ExtractConclusionsBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(pending)))

	prompt, err := buildBatchPrompt(pending, e.cfg)
	if err != nil {
		return nil, err
	}
	reply, err := e.call(ctx, "batch", CompletionRequest{
		System:      batchSystemPrompt,
		Prompt:      prompt,
		Temperature: e.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("batch extraction: %w", err)
	}

	parsed, err := parseBatch(reply)
	if err != nil {
		parseFailures.WithLabelValues("batch").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("batch extraction: %w", err)
	}

	ts := e.timestamp()
	total := 0
	for id, items := range parsed {
		chunkCtx, ok := byID[id]
		if !ok {
			e.logger.Debug("ignoring conclusions for unknown chunk", zap.String("chunk_id", id))
			continue
		}
		found := e.validate(items, id, chunkCtx, ts)
		if found == nil {
			found = []reasoning.Conclusion{}
		}
		results[id] = found
		total += len(found)
	}
	span.SetAttributes(attribute.Int("conclusions", total))
	return results, nil
}

func (e *Extractor) call(ctx context.Context, mode string, req CompletionRequest) (string, error) {
	start := time.Now()
	reply, err := e.client.Complete(ctx, req)
	callDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		callsTotal.WithLabelValues(mode, "error").Inc()
		return "", err
	}
	callsTotal.WithLabelValues(mode, "ok").Inc()
	return reply, nil
}

func (e *Extractor) redact(content string) string {
	if e.redactor == nil {
		return content
	}
	scrubbed, err := e.redactor.Redact(content)
	if err != nil {
		e.logger.Warn("redaction failed, sending original content", zap.Error(err))
		return content
	}
	return scrubbed
}

func (e *Extractor) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// validate applies the item filters in order: non-finite confidence,
// confidence floor, blank statement, unknown type (read as deductive),
// disabled type.
func (e *Extractor) validate(items []rawConclusion, chunkID string, chunkCtx reasoning.ChunkContext, createdAt string) []reasoning.Conclusion {
	var out []reasoning.Conclusion
	for _, item := range items {
		confidence := float64(item.Confidence)
		if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
			filteredTotal.WithLabelValues("invalid_confidence").Inc()
			continue
		}
		if confidence < e.cfg.MinConfidence {
			filteredTotal.WithLabelValues("low_confidence").Inc()
			continue
		}
		statement := strings.TrimSpace(item.Statement)
		if statement == "" {
			filteredTotal.WithLabelValues("empty_statement").Inc()
			continue
		}
		t, err := reasoning.ParseConclusionType(item.Type)
		if err != nil {
			t = reasoning.Deductive
		}
		if !e.cfg.TypeEnabled(t) {
			filteredTotal.WithLabelValues("disabled_type").Inc()
			continue
		}
		if confidence > 1 {
			confidence = 1
		}

		evidence := make([]string, 0, len(item.Evidence))
		for _, ev := range item.Evidence {
			if ev = strings.TrimSpace(ev); ev != "" {
				evidence = append(evidence, ev)
			}
		}

		out = append(out, reasoning.Conclusion{
			ID:                 reasoning.GenerateID(statement, chunkID),
			Type:               t,
			Statement:          statement,
			Confidence:         confidence,
			Evidence:           evidence,
			SourceChunkID:      chunkID,
			Context:            chunkCtx,
			RelatedConclusions: []string{},
			CreatedAt:          createdAt,
		})
		extractedTotal.WithLabelValues(string(t)).Inc()
	}
	return out
}
