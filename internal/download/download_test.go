package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vidrag/internal/segment"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=EDj-Xo8AlSU", "EDj-Xo8AlSU"},
		{"https://www.youtube.com/watch?v=EDj-Xo8AlSU&t=120s", "EDj-Xo8AlSU"},
		{"https://youtu.be/EDj-Xo8AlSU", "EDj-Xo8AlSU"},
	}
	for _, tt := range tests {
		if got := VideoID(tt.url); got != tt.want {
			t.Errorf("VideoID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestVideoIDFallsBackToUUID(t *testing.T) {
	a := VideoID("https://example.com/talk.mp4")
	b := VideoID("https://example.com/talk.mp4")
	if len(a) != 36 || a == b {
		t.Errorf("fallback ids = %q, %q; want two distinct uuids", a, b)
	}
}

func TestVideoIDRejectsUnsafeCandidates(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/watch?v=..",
		"https://example.com/watch?v=../../etc",
		"https://youtu.be/a/b",
		`https://example.com/watch?v=abc%5C`,
		"https://example.com/watch?v=" + strings.Repeat("a", 129),
	} {
		id := VideoID(raw)
		if len(id) != 36 {
			t.Errorf("VideoID(%q) = %q, want uuid fallback", raw, id)
		}
	}
}

func TestDownloadersRefuseUnsafeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unsafe id")
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHTTPDownloader().Download(context.Background(), srv.URL+"/a.mp4", "../escape", dir)
	if !errors.Is(err, segment.ErrInvalidVideoID) {
		t.Errorf("HTTP Download err = %v, want ErrInvalidVideoID", err)
	}
	_, err = (&YTDLP{Bin: "/nonexistent/yt-dlp"}).Download(context.Background(), "https://youtu.be/x", "a/b", dir)
	if !errors.Is(err, segment.ErrInvalidVideoID) {
		t.Errorf("yt-dlp Download err = %v, want ErrInvalidVideoID", err)
	}
}

func TestLinkTemplate(t *testing.T) {
	tests := []struct {
		source, id, want string
	}{
		{"https://www.youtube.com/watch?v=abc", "abc", "https://www.youtube.com/watch?v=abc&t={}s"},
		{"https://youtu.be/abc", "abc", "https://www.youtube.com/watch?v=abc&t={}s"},
		{"https://cdn.example.com/talk.mp4", "x", "https://cdn.example.com/talk.mp4#t={}"},
		{"https://cdn.example.com/talk.mp4#t=5", "x", "https://cdn.example.com/talk.mp4#t={}"},
	}
	for _, tt := range tests {
		if got := LinkTemplate(tt.source, tt.id); got != tt.want {
			t.Errorf("LinkTemplate(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestHTTPDownloaderDirectFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake-mp4"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	v, err := NewHTTPDownloader().Download(context.Background(), srv.URL+"/talk.mp4", "vid", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if v.Path != filepath.Join(dir, "vid.mp4") {
		t.Errorf("Path = %q", v.Path)
	}
	if v.Title != "talk" {
		t.Errorf("Title = %q, want talk", v.Title)
	}
	b, _ := os.ReadFile(v.Path)
	if string(b) != "fake-mp4" {
		t.Errorf("content = %q", b)
	}
}

func TestHTTPDownloaderFollowsOpenGraph(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head>
			<meta property="og:title" content="A Talk">
			<meta name="author" content="Jane">
			<meta property="og:video" content="/media/talk.mp4">
			</head><body><video src="/other.mp4"></video></body></html>`))
	})
	mux.HandleFunc("/media/talk.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("og-video"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v, err := NewHTTPDownloader().Download(context.Background(), srv.URL+"/watch", "vid", t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if v.Title != "A Talk" || v.Author != "Jane" {
		t.Errorf("metadata = %+v", v.Metadata)
	}
	b, _ := os.ReadFile(v.Path)
	if string(b) != "og-video" {
		t.Errorf("content = %q, want og-video", b)
	}
}

func TestHTTPDownloaderPageWithoutVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>nothing</title></head></html>`))
	}))
	defer srv.Close()

	_, err := NewHTTPDownloader().Download(context.Background(), srv.URL, "vid", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "does not reference a video") {
		t.Fatalf("error = %v", err)
	}
}

func TestHTTPDownloaderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewHTTPDownloader().Download(context.Background(), srv.URL+"/x.mp4", "vid", t.TempDir()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestYTDLPParsesMetadata(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "yt-dlp")
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
echo data > "$out"
echo '{"title":"Talk","uploader":"Jane","view_count":1200,"duration":612.5}'
`
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	y := &YTDLP{Bin: bin}
	v, err := y.Download(context.Background(), "https://www.youtube.com/watch?v=abc", "abc", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if v.Title != "Talk" || v.Author != "Jane" || v.Views != 1200 || v.Length != 612.5 {
		t.Errorf("metadata = %+v", v.Metadata)
	}
	if v.Path != filepath.Join(dir, "abc.mp4") {
		t.Errorf("Path = %q", v.Path)
	}
}

func TestIsYouTube(t *testing.T) {
	if !IsYouTube("https://m.youtube.com/watch?v=a") {
		t.Error("mobile youtube not recognized")
	}
	if IsYouTube("https://notyoutube.com/watch?v=a") {
		t.Error("lookalike host recognized as youtube")
	}
}
