// Package download fetches source videos into a local directory and
// derives stable ids and deep-link templates from their URLs.
package download

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/vidrag/internal/segment"
)

// Metadata is what the source reports about a video. Zero values mean
// unknown.
type Metadata struct {
	Title  string
	Author string
	Views  int64
	Length float64
}

// Video is a downloaded file and its metadata.
type Video struct {
	Path string
	Metadata
}

// Downloader fetches rawURL into dir. videoID names the local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, videoID, dir string) (Video, error)
}

// Auto picks yt-dlp for known video platforms and plain HTTP otherwise.
type Auto struct {
	YTDLP *YTDLP
	HTTP  *HTTPDownloader
}

// Download dispatches rawURL to yt-dlp or plain HTTP.
func (a Auto) Download(ctx context.Context, rawURL, videoID, dir string) (Video, error) {
	if IsYouTube(rawURL) && a.YTDLP != nil {
		return a.YTDLP.Download(ctx, rawURL, videoID, dir)
	}
	return a.HTTP.Download(ctx, rawURL, videoID, dir)
}

// IsYouTube reports whether rawURL points at youtube.com or youtu.be.
func IsYouTube(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

// VideoID derives an id from the URL's "v" query parameter, or the path of a
// youtu.be short link. Anything else, including a candidate that fails
// segment.VideoID.Validate, gets a fresh uuid.
func VideoID(rawURL string) string {
	if id := idFromURL(rawURL); segment.VideoID(id).Validate() == nil {
		return id
	}
	return uuid.New().String()
}

// outputPath is dir/videoID.mp4, refusing ids that could leave dir.
func outputPath(dir, videoID string) (string, error) {
	if err := segment.VideoID(videoID).Validate(); err != nil {
		return "", err
	}
	return filepath.Join(dir, videoID+".mp4"), nil
}

func idFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	return ""
}

// LinkTemplate returns a deep-link template for sourceURL in which "{}" is
// replaced by a second offset.
func LinkTemplate(sourceURL, videoID string) string {
	if IsYouTube(sourceURL) || (sourceURL == "" && videoID != "") {
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID) + "&t={}s"
	}
	base, _, _ := strings.Cut(sourceURL, "#")
	return base + "#t={}"
}
