// Package extraction asks an LLM for conclusions drawn from note chunks.
//
// An Extractor turns one chunk, or a batch of chunks in a single call, into
// validated reasoning.Conclusion values. Items below the confidence floor,
// with empty statements, or of a disabled type are dropped. Unknown types
// are read as deductive.
//
// # Clients
//
// Two LLMClient implementations are provided:
//   - OpenAIClient: OpenAI or Azure OpenAI chat completions in JSON mode
//   - AnthropicClient: the Anthropic Messages API
//
// Both rate-limit requests and retry transient failures (429, 5xx, network)
// with exponential backoff.
//
// # Usage
//
//	client, err := extraction.NewClient(cfg)
//	ex, err := extraction.NewExtractor(client, cfg, extraction.WithLogger(logger))
//	found := ex.ExtractConclusions(ctx, text, chunkCtx)
//
// Single-chunk extraction never fails: errors are logged and yield nothing.
// Batch extraction returns an error so callers can fall back to extracting
// each chunk on its own.
package extraction
