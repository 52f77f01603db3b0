package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sse "github.com/tmaxmax/go-sse"

	"github.com/kalambet/vidrag/internal/config"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; imports run for minutes.
	streamClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:      fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}, nil
}

func (c *apiClient) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is `vidrag serve` running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, c.httpClient, http.MethodGet, path, nil)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, c.httpClient, http.MethodDelete, path, nil)
}

// stream posts body and calls fn for every server-sent event until the
// response ends. A non-2xx status is returned as an error before any
// event is read.
func (c *apiClient) stream(ctx context.Context, path string, body any, fn func(event string, data []byte) error) error {
	hc := c.streamClient
	if hc == nil {
		hc = c.httpClient
	}
	resp, err := c.do(ctx, hc, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses a text/event-stream body. An event not terminated by
// a blank line before EOF is never delivered; a read error mid-event is
// returned so callers treat the stream as truncated.
func readEvents(r io.Reader, fn func(event string, data []byte) error) error {
	for ev, err := range sse.Read(r, nil) {
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if ev.Data == "" {
			continue
		}
		if err := fn(ev.Type, []byte(ev.Data)); err != nil {
			return err
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
