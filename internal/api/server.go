// Package api exposes import and question answering over HTTP (with
// server-sent events) and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/vidrag/internal/catalog"
	"github.com/kalambet/vidrag/internal/composer"
	"github.com/kalambet/vidrag/internal/download"
	"github.com/kalambet/vidrag/internal/ingest"
	"github.com/kalambet/vidrag/internal/retrieval"
	"github.com/kalambet/vidrag/internal/segment"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Importer runs and undoes video imports.
type Importer interface {
	Run(ctx context.Context, req ingest.Request) iter.Seq[ingest.Event]
	Clear(ctx context.Context, videoID segment.VideoID) (ingest.Cleared, error)
}

// Retriever finds the aligned context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, videoID segment.VideoID, question string) (retrieval.AlignedContext, error)
}

// Answerer streams an answer over an aligned context.
type Answerer interface {
	Answer(ctx context.Context, ac retrieval.AlignedContext, question, linkTemplate string) iter.Seq2[composer.Token, error]
}

// Deps holds the services behind the HTTP and MCP surfaces.
type Deps struct {
	Importer   Importer
	Retriever  Retriever
	Answerer   Answerer
	Catalog    catalog.Catalog
	CORSOrigin string
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// ImportRequest is the body of POST /import.
type ImportRequest struct {
	VideoURL string `json:"video_url"`
	VideoID  string `json:"video_id,omitempty"`
	Replace  bool   `json:"replace,omitempty"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	VideoID  string `json:"video_id"`
	Question string `json:"question"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(deps.CORSOrigin))

	r.Get("/health", handleHealth)
	r.Post("/import", handleImport(deps))
	r.Post("/query", handleQuery(deps))
	r.Get("/videos", handleListVideos(deps))
	r.Get("/videos/{id}", handleGetVideo(deps))
	r.Delete("/videos/{id}", handleDeleteVideo(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateVideoURL(req.VideoURL); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.VideoID != "" {
			if err := segment.VideoID(req.VideoID).Validate(); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			httpError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
			return
		}

		events := deps.Importer.Run(r.Context(), ingest.Request{URL: req.VideoURL, VideoID: req.VideoID, Replace: req.Replace})
		for ev := range events {
			f := importFrame(ev)
			if err := sse.send(f.event, f.data); err != nil {
				deps.logger().Warn("import stream closed", "video_id", ev.VideoID, "error", err)
				return
			}
		}
	}
}

type importPayload struct {
	Message string `json:"message"`
	VideoID string `json:"video_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

func importFrame(ev ingest.Event) sseFrame {
	p := importPayload{Message: ev.Message}
	switch ev.Kind {
	case ingest.EventSuccess:
		p.VideoID = string(ev.VideoID)
	case ingest.EventError:
		p.VideoID = string(ev.VideoID)
		p.Stage = string(ev.Stage)
		if ev.Err != nil {
			p.Error = ev.Err.Error()
		}
		return sseFrame{event: "error", data: p}
	}
	return sseFrame{data: p}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.VideoID == "" || req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video_id and question are required")
			return
		}
		if err := segment.VideoID(req.VideoID).Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		tokens, err := ask(r.Context(), deps, segment.VideoID(req.VideoID), req.Question)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "retrieval failed: %v", err)
			return
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			httpError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
			return
		}
		for tok, err := range tokens {
			frame := sseFrame{data: tok}
			if err != nil {
				deps.logger().Error("answer failed", "video_id", req.VideoID, "error", err)
				frame = sseFrame{event: "error", data: errorEnvelope("upstream_error", err.Error())}
			}
			if werr := sse.send(frame.event, frame.data); werr != nil {
				deps.logger().Warn("query stream closed", "video_id", req.VideoID, "error", werr)
				return
			}
		}
	}
}

// ask retrieves context for question and starts the answer stream.
func ask(ctx context.Context, deps Deps, videoID segment.VideoID, question string) (iter.Seq2[composer.Token, error], error) {
	ac, err := deps.Retriever.Retrieve(ctx, videoID, question)
	if err != nil {
		return nil, err
	}
	return deps.Answerer.Answer(ctx, ac, question, linkTemplate(ctx, deps, videoID)), nil
}

// linkTemplate uses the catalogued source URL when known and assumes a
// YouTube id otherwise.
func linkTemplate(ctx context.Context, deps Deps, videoID segment.VideoID) string {
	var source string
	if deps.Catalog != nil {
		if v, err := deps.Catalog.GetVideo(ctx, string(videoID)); err == nil {
			source = v.SourceURL
		}
	}
	return download.LinkTemplate(source, string(videoID))
}

func handleListVideos(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := deps.Catalog.ListVideos(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "listing videos: %v", err)
			return
		}
		if videos == nil {
			videos = []catalog.Video{}
		}
		writeJSON(w, http.StatusOK, videos)
	}
}

func handleGetVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := deps.Catalog.GetVideo(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "loading video: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleDeleteVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Importer.Clear(r.Context(), segment.VideoID(id))
		if errors.Is(err, segment.ErrInvalidVideoID) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if errors.Is(err, catalog.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "clearing video: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func validateVideoURL(raw string) error {
	if raw == "" {
		return errors.New("video_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("video_url must be an absolute http(s) URL")
	}
	return nil
}

// corsHandler allows cross-origin calls from a comma-separated origin list
// ("*" by default).
func corsHandler(origins string) func(http.Handler) http.Handler {
	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func errorEnvelope(errType, msg string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, errorEnvelope(errType, fmt.Sprintf(format, args...)))
}
