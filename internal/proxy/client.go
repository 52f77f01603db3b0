// Package proxy streams chat completions from an OpenAI-compatible
// provider (OpenAI itself or OpenRouter).
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	openRouterHost   = "openrouter.ai"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// NewOpenAIClient builds the go-openai client shared by chat, embeddings
// and transcription. OpenRouter base URLs get the attribution headers it
// asks for.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	transport := http.DefaultTransport
	if strings.Contains(cfg.BaseURL, openRouterHost) {
		transport = &headerTransport{
			base: transport,
			headers: map[string]string{
				"HTTP-Referer": "https://github.com/kalambet/vidrag",
				"X-Title":      "vidrag",
			},
		}
	}
	cfg.HTTPClient = &http.Client{Transport: transport}
	return openai.NewClientWithConfig(cfg)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

// Client streams chat completions for one model.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
}

// NewClient returns a Client using api for model, capping answers at
// maxTokens (0 leaves it to the provider).
func NewClient(api *openai.Client, model string, maxTokens int) *Client {
	return &Client{api: api, model: model, maxTokens: maxTokens}
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// TokenStream yields answer deltas. Recv returns io.EOF once the answer is
// complete. Close must always be called.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Stream opens a streaming completion for messages. Rate-limited attempts
// are retried with exponential backoff.
func (c *Client) Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (TokenStream, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Stream:    true,
	}

	var lastErr error
	for attempt := range maxRetries {
		streamCtx, cancel := context.WithTimeout(ctx, streamingTimeout)
		s, err := c.api.CreateChatCompletionStream(streamCtx, req)
		if err == nil {
			return &stream{s: s, cancel: cancel}, nil
		}
		cancel()

		if !isRateLimit(err) {
			return nil, fmt.Errorf("opening chat stream: %w", err)
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// stream cancels its timeout context on Close.
type stream struct {
	s      *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *stream) Recv() (string, error) {
	resp, err := s.s.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *stream) Close() error {
	err := s.s.Close()
	s.cancel()
	return err
}
