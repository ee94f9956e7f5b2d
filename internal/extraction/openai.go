package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the chat completions API of OpenAI, Azure OpenAI or any
// compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	retrier retrier
}

var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI client. A non-empty APIVersion selects
// Azure OpenAI, with BaseURL as the resource endpoint and Model as the
// deployment name.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()

	var oc openai.ClientConfig
	if cfg.APIVersion != "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: azure endpoint required", ErrInvalidConfig)
		}
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		oc.APIVersion = cfg.APIVersion
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		retrier: newRetrier(),
	}, nil
}

// Complete sends one chat completion.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return o.retrier.do(ctx, func(ctx context.Context) (string, error) {
		resp, err := o.client.CreateChatCompletion(ctx, chat)
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty response from API")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return &retryableError{err: fmt.Errorf("API error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)}
		}
		return fmt.Errorf("API error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return &retryableError{err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
