package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func fastRetrier() retrier {
	return retrier{
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: defaultMaxRetries,
		backoff:    time.Millisecond,
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = NewClient(Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)
	assert.Equal(t, DefaultAnthropicModel, c.(*AnthropicClient).model)

	_, err = NewClient(Config{Provider: "ollama", APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{Provider: "openai", APIKey: "k", APIVersion: "2024-06-01"})
	assert.ErrorIs(t, err, ErrInvalidConfig, "azure requires an endpoint")
}

func TestRetrier(t *testing.T) {
	t.Run("retries retryable errors", func(t *testing.T) {
		var calls int
		out, err := fastRetrier().do(context.Background(), func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &retryableError{err: errors.New("503")}
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		var calls int
		_, err := fastRetrier().do(context.Background(), func(context.Context) (string, error) {
			calls++
			return "", errors.New("401")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls int
		_, err := fastRetrier().do(context.Background(), func(context.Context) (string, error) {
			calls++
			return "", &retryableError{err: errors.New("429")}
		})
		assert.ErrorContains(t, err, "max retries exceeded")
		assert.Equal(t, defaultMaxRetries+1, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fastRetrier().do(ctx, func(context.Context) (string, error) {
			return "", nil
		})
		assert.Error(t, err)
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
			return
		}

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		format, _ := body["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])
		msgs, _ := body["messages"].([]any)
		require.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"conclusions\": []}"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	c.retrier = fastRetrier()

	out, err := c.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"conclusions": []}`, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_PermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	c.retrier = fastRetrier()

	_, err = c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.ErrorContains(t, err, "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicClient_Complete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultAnthropicModel, req.Model)
		assert.Contains(t, req.System, "sys")
		assert.Contains(t, req.System, "JSON object")
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"content": [
			{"type": "text", "text": "{\"conclusions\":"},
			{"type": "text", "text": " []}"}
		], "stop_reason": "end_turn"}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{Provider: "anthropic", APIKey: "ak-test", BaseURL: srv.URL})
	require.NoError(t, err)
	c.retrier = fastRetrier()

	out, err := c.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"conclusions": []}`, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{APIKey: "ak-test", BaseURL: srv.URL})
	require.NoError(t, err)
	c.retrier = fastRetrier()

	_, err = c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.ErrorContains(t, err, "max_tokens too large")

	_, err = NewAnthropicClient(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
