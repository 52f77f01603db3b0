// Package media drives the ffmpeg and ffprobe binaries: probing duration,
// grabbing single frames, extracting the audio track and cutting it into
// chunks.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoAudioTrack is returned by ExtractAudio when the input has no audio
// stream.
var ErrNoAudioTrack = errors.New("no audio track")

// FFmpeg runs the ffmpeg/ffprobe binaries found at the configured paths.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
}

// New returns an FFmpeg using the given binaries, falling back to the names
// on PATH when empty.
func New(ffmpegBin, ffprobeBin string) *FFmpeg {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpeg{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin}
}

// Duration returns the container duration of path in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.probe(ctx, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, fmt.Errorf("probing duration of %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", strings.TrimSpace(out), err)
	}
	return d, nil
}

// HasAudio reports whether path has at least one audio stream.
func (f *FFmpeg) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := f.probe(ctx, "-v", "error", "-select_streams", "a", "-show_entries", "stream=index", "-of", "csv=p=0", path)
	if err != nil {
		return false, fmt.Errorf("probing audio streams of %s: %w", path, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// ExtractFrame writes the frame at the given second of videoPath to out.
// The image format follows out's extension.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath string, at float64, out string) error {
	err := f.run(ctx, "-y", "-v", "error", "-ss", seconds(at), "-i", videoPath, "-frames:v", "1", out)
	if err != nil {
		return fmt.Errorf("extracting frame at %ss: %w", seconds(at), err)
	}
	return nonEmpty(out)
}

// ExtractAudio converts the audio track of videoPath to a 16 kHz mono PCM
// WAV file at out.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, out string) error {
	ok, err := f.HasAudio(ctx, videoPath)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoAudioTrack
	}
	if err := f.run(ctx, "-y", "-v", "error", "-i", videoPath, "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", out); err != nil {
		return fmt.Errorf("extracting audio: %w", err)
	}
	return nonEmpty(out)
}

// CutAudio writes length seconds of audioPath starting at start to out.
func (f *FFmpeg) CutAudio(ctx context.Context, audioPath string, start, length float64, out string) error {
	err := f.run(ctx, "-y", "-v", "error", "-ss", seconds(start), "-t", seconds(length), "-i", audioPath, "-c:a", "pcm_s16le", out)
	if err != nil {
		return fmt.Errorf("cutting audio at %ss: %w", seconds(start), err)
	}
	return nonEmpty(out)
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return err
	}
	return nil
}

func (f *FFmpeg) probe(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.FFprobeBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return "", err
	}
	return stdout.String(), nil
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func nonEmpty(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty file %s", path)
	}
	return nil
}
