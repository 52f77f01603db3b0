package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// YTDLP downloads through the yt-dlp binary.
type YTDLP struct {
	Bin string
}

type ytdlpInfo struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
	ViewCount int64   `json:"view_count"`
	Duration  float64 `json:"duration"`
}

// Download runs yt-dlp once, writing dir/videoID.mp4 and reading the
// metadata from --dump-json.
func (y *YTDLP) Download(ctx context.Context, rawURL, videoID, dir string) (Video, error) {
	out, err := outputPath(dir, videoID)
	if err != nil {
		return Video{}, err
	}
	bin := y.Bin
	if bin == "" {
		bin = "yt-dlp"
	}

	cmd := exec.CommandContext(ctx, bin,
		"--quiet", "--no-progress", "--no-playlist",
		"--dump-json", "--no-simulate",
		"-f", "b[ext=mp4]/bv*[ext=mp4]+ba[ext=m4a]/b",
		"--merge-output-format", "mp4",
		"-o", out,
		rawURL,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Video{}, fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var info ytdlpInfo
	if err := json.Unmarshal(firstLine(stdout.Bytes()), &info); err != nil {
		return Video{}, fmt.Errorf("parsing yt-dlp metadata: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return Video{}, fmt.Errorf("yt-dlp finished without writing %s: %w", out, err)
	}

	author := info.Uploader
	if author == "" {
		author = info.Channel
	}
	return Video{
		Path: out,
		Metadata: Metadata{
			Title:  info.Title,
			Author: author,
			Views:  info.ViewCount,
			Length: info.Duration,
		},
	}, nil
}

func firstLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}
