package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func userMessage(text string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: text}}
}

func collect(t *testing.T, s TokenStream) string {
	t.Helper()
	defer s.Close()
	var b strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String()
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		b.WriteString(tok)
	}
}

func TestStream(t *testing.T) {
	sseData := "data: {\"id\":\"gen-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"id\":\"gen-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: [DONE]\n\n"

	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewClient(NewOpenAIClient("test-key", srv.URL), "gpt-4o", 500)
	s, err := c.Stream(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := collect(t, s); got != "Hello world" {
		t.Errorf("answer = %q, want %q", got, "Hello world")
	}
	if gotReq["model"] != "gpt-4o" || gotReq["stream"] != true || gotReq["max_tokens"].(float64) != 500 {
		t.Errorf("request = %v", gotReq)
	}
}

func TestStreamRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(NewOpenAIClient("k", srv.URL), "m", 0)
	start := time.Now()
	s, err := c.Stream(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := collect(t, s); got != "ok" {
		t.Errorf("answer = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if time.Since(start) < initialBackoff {
		t.Error("retry did not back off")
	}
}

func TestStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewClient(NewOpenAIClient("k", srv.URL), "m", 0)
	if _, err := c.Stream(context.Background(), userMessage("hi")); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenRouterHeaders(t *testing.T) {
	var gotTitle string
	rt := &headerTransport{
		base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			gotTitle = r.Header.Get("X-Title")
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
		}),
		headers: map[string]string{"X-Title": "vidrag"},
	}
	req, _ := http.NewRequest(http.MethodGet, "https://openrouter.ai/api/v1/models", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	if gotTitle != "vidrag" {
		t.Errorf("X-Title = %q", gotTitle)
	}
	if req.Header.Get("X-Title") != "" {
		t.Error("original request was mutated")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
