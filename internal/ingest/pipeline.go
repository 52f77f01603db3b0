// Package ingest turns a video URL into stored, searchable segments:
// download, frame sampling, chunked transcription, then embedding into the
// text and image vector stores.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vidrag/internal/catalog"
	"github.com/kalambet/vidrag/internal/download"
	"github.com/kalambet/vidrag/internal/embedding"
	"github.com/kalambet/vidrag/internal/segment"
	"github.com/kalambet/vidrag/internal/vectorstore"
)

// Progress messages, in the order they are emitted.
const (
	MsgStart      = "Start processing"
	MsgDownload   = "Downloading.."
	MsgFrames     = "Extracting frames from video"
	MsgTranscribe = "Transcribing video"
	MsgImport     = "Importing embedding to vector database"
	MsgSuccess    = "Import Success!"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventSuccess  EventKind = "success"
	EventError    EventKind = "error"
)

// Stage names the pipeline step an Event belongs to.
type Stage string

const (
	StageStart      Stage = "start"
	StageDownload   Stage = "download"
	StageFrames     Stage = "frames"
	StageTranscribe Stage = "transcribe"
	StageImport     Stage = "import"
	StageDone       Stage = "done"
)

// Event is one progress notification. A run ends with exactly one event of
// kind EventSuccess or EventError, unless the consumer stops early.
type Event struct {
	Kind    EventKind
	Message string
	VideoID segment.VideoID
	Stage   Stage
	Err     error
}

// Request asks for one video to be imported.
type Request struct {
	URL string
	// VideoID overrides the id derived from URL.
	VideoID string
	// Replace clears previously stored entries of the video first.
	Replace bool
}

// Media is the subset of media.FFmpeg the pipeline drives.
type Media interface {
	Duration(ctx context.Context, path string) (float64, error)
	ExtractFrame(ctx context.Context, videoPath string, at float64, out string) error
	ExtractAudio(ctx context.Context, videoPath, out string) error
	CutAudio(ctx context.Context, audioPath string, start, length float64, out string) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Config tunes sampling, chunking and concurrency.
type Config struct {
	DataDir      string
	FrameRate    float64 // frames per second; 0.5 samples every 2s
	ChunkSeconds float64
	BatchSize    int
	Workers      int
}

func (c Config) withDefaults() Config {
	if c.FrameRate <= 0 {
		c.FrameRate = 0.5
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Deps are the services a Pipeline is built from.
type Deps struct {
	Downloader  download.Downloader
	Media       Media
	Transcriber Transcriber
	TextModel   embedding.TextEmbedder
	ImageModel  embedding.ImageEmbedder
	Texts       vectorstore.Store
	Images      vectorstore.Store
	Catalog     catalog.Catalog
	Logger      *slog.Logger
}

// Pipeline imports videos. It is safe for concurrent use; each Run works in
// its own scratch directory.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg.withDefaults(), deps: deps, log: logger}
}

// FramesDir is where frames of videoID are kept once imported. It fails for
// ids that are not a single safe path element.
func (p *Pipeline) FramesDir(videoID segment.VideoID) (string, error) {
	if err := videoID.Validate(); err != nil {
		return "", err
	}
	root := filepath.Join(p.cfg.DataDir, "frames")
	dir := filepath.Join(root, string(videoID))
	if rel, err := filepath.Rel(root, dir); err != nil || rel != string(videoID) {
		return "", fmt.Errorf("%w %q: escapes frames directory", segment.ErrInvalidVideoID, string(videoID))
	}
	return dir, nil
}

// Run imports req and reports progress as a sequence of events. Production
// stops when the consumer stops pulling or ctx is cancelled; scratch files
// are removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		videoID := segment.VideoID(req.VideoID)
		if videoID == "" {
			videoID = segment.VideoID(download.VideoID(req.URL))
		}
		if err := videoID.Validate(); err != nil {
			p.log.Warn("import rejected", "error", err)
			yield(Event{Kind: EventError, Message: "Import failed: " + err.Error(), Stage: StageStart, Err: err})
			return
		}
		r := &run{p: p, req: req, videoID: videoID, log: p.log.With("video_id", videoID)}
		defer r.cleanup()

		emit := func(stage Stage, msg string) bool {
			return yield(Event{Kind: EventProgress, Message: msg, VideoID: videoID, Stage: stage})
		}
		fail := func(stage Stage, err error) {
			r.log.Error("import failed", "stage", stage, "error", err)
			yield(Event{
				Kind:    EventError,
				Message: "Import failed: " + err.Error(),
				VideoID: videoID,
				Stage:   stage,
				Err:     err,
			})
		}

		if !emit(StageStart, MsgStart) {
			return
		}
		if err := r.prepare(); err != nil {
			fail(StageStart, err)
			return
		}

		if !emit(StageDownload, MsgDownload) {
			return
		}
		if err := r.download(ctx); err != nil {
			fail(StageDownload, err)
			return
		}

		if !emit(StageFrames, MsgFrames) {
			return
		}
		frames, err := r.extractFrames(ctx)
		if err != nil {
			fail(StageFrames, err)
			return
		}

		if !emit(StageTranscribe, MsgTranscribe) {
			return
		}
		segments, err := r.transcribe(ctx)
		if err != nil {
			fail(StageTranscribe, err)
			return
		}

		if !emit(StageImport, MsgImport) {
			return
		}
		if err := r.store(ctx, frames, segments); err != nil {
			fail(StageImport, err)
			return
		}
		r.record(ctx, len(frames), len(segments))

		r.log.Info("import complete", "frames", len(frames), "segments", len(segments))
		yield(Event{Kind: EventSuccess, Message: MsgSuccess, VideoID: videoID, Stage: StageDone})
	}
}

// run is the state of one Pipeline.Run.
type run struct {
	p       *Pipeline
	req     Request
	videoID segment.VideoID
	log     *slog.Logger

	scratch   string
	framesDir string // this run's frames, under FramesDir
	kept      bool   // frames were stored and must survive cleanup

	video    download.Video
	duration float64
}

func (r *run) prepare() error {
	scratch, err := os.MkdirTemp("", "vidrag-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	r.scratch = scratch

	root, err := r.p.FramesDir(r.videoID)
	if err != nil {
		return err
	}
	r.framesDir = filepath.Join(root, uuid.New().String()[:8])
	if err := os.MkdirAll(r.framesDir, 0o755); err != nil {
		return fmt.Errorf("creating frames dir: %w", err)
	}
	return nil
}

func (r *run) cleanup() {
	if r.scratch != "" {
		os.RemoveAll(r.scratch)
	}
	if r.framesDir != "" && !r.kept {
		os.RemoveAll(r.framesDir)
		// Drop the video dir too if this run was its only content.
		os.Remove(filepath.Dir(r.framesDir))
	}
}

func (r *run) download(ctx context.Context) error {
	v, err := r.p.deps.Downloader.Download(ctx, r.req.URL, string(r.videoID), r.scratch)
	if err != nil {
		return &DownloadError{URL: r.req.URL, Err: err}
	}
	r.video = v

	d, err := r.p.deps.Media.Duration(ctx, v.Path)
	switch {
	case err == nil && d > 0:
		r.duration = d
	case v.Length > 0:
		r.log.Warn("probing duration failed, using reported length", "error", err)
		r.duration = v.Length
	case err != nil:
		return &DownloadError{URL: r.req.URL, Err: err}
	default:
		return &DownloadError{URL: r.req.URL, Err: errors.New("video has zero duration")}
	}
	return nil
}

// extractFrames samples one frame every 1/FrameRate seconds. Failed frames
// are skipped; the result is in timestamp order.
func (r *run) extractFrames(ctx context.Context) ([]segment.ImageFrame, error) {
	period := 1 / r.p.cfg.FrameRate
	var stamps []float64
	for i := 0; float64(i)*period < r.duration; i++ {
		stamps = append(stamps, float64(i)*period)
	}

	results := make([]*segment.ImageFrame, len(stamps))
	var g errgroup.Group
	g.SetLimit(r.p.cfg.Workers)
	for i, at := range stamps {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out := filepath.Join(r.framesDir, fmt.Sprintf("frame_%05d.jpg", i))
			if err := r.p.deps.Media.ExtractFrame(ctx, r.video.Path, at, out); err != nil {
				r.log.Warn("frame skipped", "frame", i, "error", &FrameWriteError{Index: i, Timestamp: at, Err: err})
				return nil
			}
			results[i] = &segment.ImageFrame{
				VideoID:   r.videoID,
				Index:     i,
				Timestamp: at,
				Window:    segment.FrameWindow(i, period, r.duration),
				Path:      out,
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := make([]segment.ImageFrame, 0, len(results))
	for _, f := range results {
		if f != nil {
			frames = append(frames, *f)
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// transcribe cuts the audio into ChunkSeconds pieces and transcribes them
// concurrently. Failed or empty chunks are dropped; order is preserved.
func (r *run) transcribe(ctx context.Context) ([]segment.TextSegment, error) {
	audio := filepath.Join(r.scratch, "audio.wav")
	if err := r.p.deps.Media.ExtractAudio(ctx, r.video.Path, audio); err != nil {
		return nil, &AudioExtractionError{Err: err}
	}

	step := r.p.cfg.ChunkSeconds
	var windows []segment.Window
	for start := 0.0; start < r.duration; start += step {
		windows = append(windows, segment.Window{Start: start, End: min(start+step, r.duration)})
	}

	results := make([]*segment.TextSegment, len(windows))
	var g errgroup.Group
	g.SetLimit(r.p.cfg.Workers)
	for i, w := range windows {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			text, err := r.transcribeChunk(ctx, audio, i, w)
			if err != nil {
				r.log.Warn("chunk dropped", "chunk", i, "error", &TranscriptionChunkError{Index: i, Start: w.Start, End: w.End, Err: err})
				return nil
			}
			results[i] = &segment.TextSegment{VideoID: r.videoID, Start: w.Start, End: w.End, Text: text}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segments := make([]segment.TextSegment, 0, len(results))
	for _, s := range results {
		if s != nil {
			segments = append(segments, *s)
		}
	}
	if len(segments) == 0 {
		r.log.Warn("no transcript segments", "chunks", len(windows))
	}
	return segments, nil
}

func (r *run) transcribeChunk(ctx context.Context, audio string, i int, w segment.Window) (string, error) {
	out := filepath.Join(r.scratch, fmt.Sprintf("chunk_%04d.wav", i))
	if err := r.p.deps.Media.CutAudio(ctx, audio, w.Start, w.End-w.Start, out); err != nil {
		return "", err
	}
	defer os.Remove(out)

	text, err := r.p.deps.Transcriber.Transcribe(ctx, out)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyTranscript
	}
	return text, nil
}

// store embeds frames and segments batch by batch and inserts them.
func (r *run) store(ctx context.Context, frames []segment.ImageFrame, segments []segment.TextSegment) error {
	d := r.p.deps
	if r.req.Replace {
		if _, err := d.Texts.Clear(ctx, r.videoID); err != nil {
			return &ImportError{Op: "clearing texts", Err: err}
		}
		if _, err := d.Images.Clear(ctx, r.videoID); err != nil {
			return &ImportError{Op: "clearing images", Err: err}
		}
	}

	for batch := range slices.Chunk(frames, r.p.cfg.BatchSize) {
		paths := make([]string, len(batch))
		for i, f := range batch {
			paths[i] = f.Path
		}
		vecs, err := d.ImageModel.EmbedImages(ctx, paths)
		if err != nil {
			return &ImportError{Op: "embedding frames", Err: err}
		}
		if err := insert(ctx, d.Images, vecs, batch); err != nil {
			return &ImportError{Op: "storing frames", Err: err}
		}
	}
	// Frames are referenced by stored vectors from here on.
	r.kept = true

	for batch := range slices.Chunk(segments, r.p.cfg.BatchSize) {
		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.Text
		}
		vecs, err := d.TextModel.EmbedTexts(ctx, texts)
		if err != nil {
			return &ImportError{Op: "embedding segments", Err: err}
		}
		if err := insert(ctx, d.Texts, vecs, batch); err != nil {
			return &ImportError{Op: "storing segments", Err: err}
		}
	}

	if r.req.Replace {
		r.removeStaleFrames()
	}
	return nil
}

// removeStaleFrames deletes frame directories of earlier runs.
func (r *run) removeStaleFrames() {
	dir, err := r.p.FramesDir(r.videoID)
	if err != nil || filepath.Dir(r.framesDir) != dir {
		r.log.Warn("skipping old frame removal", "frames_dir", r.framesDir, "error", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warn("listing old frames", "error", err)
		return
	}
	for _, e := range entries {
		if e.Name() == filepath.Base(r.framesDir) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			r.log.Warn("removing old frames", "dir", e.Name(), "error", err)
		}
	}
}

// record saves catalog metadata. Failure does not undo the import.
func (r *run) record(ctx context.Context, frames, segments int) {
	if r.p.deps.Catalog == nil {
		return
	}
	v := catalog.Video{
		ID:         string(r.videoID),
		SourceURL:  r.req.URL,
		Title:      r.video.Title,
		Author:     r.video.Author,
		Views:      r.video.Views,
		Length:     r.duration,
		Frames:     frames,
		Segments:   segments,
		ImportedAt: time.Now().UTC(),
	}
	if !r.req.Replace {
		// Counts accumulate across non-replacing re-imports.
		if prev, err := r.p.deps.Catalog.GetVideo(ctx, v.ID); err == nil {
			v.Frames += prev.Frames
			v.Segments += prev.Segments
		}
	}
	if err := r.p.deps.Catalog.SaveVideo(ctx, v); err != nil {
		r.log.Warn("saving catalog entry", "error", err)
	}
}

func insert[S segment.Segment](ctx context.Context, store vectorstore.Store, vecs [][]float32, segs []S) error {
	if len(vecs) != len(segs) {
		return fmt.Errorf("got %d vectors for %d items", len(vecs), len(segs))
	}
	entries := make([]vectorstore.Entry, len(segs))
	for i, s := range segs {
		entries[i] = vectorstore.Entry{Vector: vecs[i], Segment: s}
	}
	_, err := store.Insert(ctx, entries)
	return err
}
