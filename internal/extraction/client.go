package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// CompletionRequest is one prompt sent to an LLM.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64

	// JSON asks the provider to constrain output to a JSON object where it
	// supports that.
	JSON bool
}

// LLMClient completes prompts.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// NewClient creates the client selected by cfg.Provider.
func NewClient(cfg Config) (LLMClient, error) {
	cfg.ApplyDefaults()
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// retrier waits on a shared rate limiter and retries retryable errors with
// exponential backoff.
type retrier struct {
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

func newRetrier() retrier {
	return retrier{
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
		backoff:    defaultBaseBackoff,
	}
}

func (r retrier) do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
