package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsHandler serves /api/tags with the given model names.
func tagsHandler(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Models []map[string]string `json:"models"`
		}
		for _, n := range names {
			resp.Models = append(resp.Models, map[string]string{"name": n})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func closedServerURL() string {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	return srv.URL
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("nomic-embed-text:latest"))
	defer srv.Close()

	if !New(srv.URL + "/").IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if New(closedServerURL()).IsRunning(context.Background()) {
		t.Error("IsRunning() on closed server = true, want false")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("nomic-embed-text:latest", "all-minilm:latest"))
	defer srv.Close()

	models, err := New(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(models, ",") != "nomic-embed-text:latest,all-minilm:latest" {
		t.Errorf("models = %v", models)
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("nomic-embed-text:latest", "mxbai-embed-large:v1"))
	defer srv.Close()
	c := New(srv.URL)

	tests := []struct {
		name string
		want bool
	}{
		{"nomic-embed-text", true},
		{"nomic-embed-text:latest", true},
		{"mxbai-embed-large", true},
		{"nomic-embed", false},
		{"all-minilm", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || len(req.Input) != 2 || !req.Truncate {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		})
	}))
	defer srv.Close()

	vecs, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", []string{"hello world", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[1]) != 3 || vecs[1][2] != 0.6 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for mismatched embedding count")
	}
}

func TestEmbed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"nomic-embed-text\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", []string{"a"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || !strings.Contains(apiErr.Message, "try pulling it first") {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListModels(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 502: bad gateway") {
		t.Errorf("err = %v", err)
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "nomic-embed-text" {
			t.Errorf("pull body = %v", body)
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var statuses []string
	err := New(srv.URL).PullModel(context.Background(), "nomic-embed-text", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 3 || statuses[2] != "success" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestPullModel_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Error: "pull model manifest: file does not exist"})
	}))
	defer srv.Close()

	err := New(srv.URL).PullModel(context.Background(), "no-such-model", nil)
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	err := EnsureReady(context.Background(), New(closedServerURL()), "nomic-embed-text", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "Ollama is not running") {
		t.Errorf("err = %v, want not-running error", err)
	}
}

func TestEnsureReady_PullsMissingModel(t *testing.T) {
	var pulled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			if pulled {
				tagsHandler("nomic-embed-text:latest")(w, r)
				return
			}
			tagsHandler("all-minilm:latest")(w, r)
		case "/api/pull":
			pulled = true
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out strings.Builder
	if err := EnsureReady(context.Background(), New(srv.URL), "nomic-embed-text", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !pulled {
		t.Error("expected missing model to be pulled")
	}
	if !strings.Contains(out.String(), "pulling") || !strings.Contains(out.String(), "ready") {
		t.Errorf("progress output = %q", out.String())
	}
}
