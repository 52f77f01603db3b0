package ingest

import (
	"errors"
	"fmt"
)

// ErrNoFrames is returned when not a single frame could be extracted.
var ErrNoFrames = errors.New("no frames extracted")

// errEmptyTranscript marks a chunk whose transcription came back blank.
var errEmptyTranscript = errors.New("empty transcript")

// DownloadError means the source video could not be fetched or probed.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download %s: %v", e.URL, e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// AudioExtractionError means the audio track could not be extracted.
type AudioExtractionError struct {
	Err error
}

func (e *AudioExtractionError) Error() string { return fmt.Sprintf("extracting audio: %v", e.Err) }
func (e *AudioExtractionError) Unwrap() error { return e.Err }

// TranscriptionChunkError is a failed or empty chunk. It is logged and the
// chunk is dropped; the import continues.
type TranscriptionChunkError struct {
	Index      int
	Start, End float64
	Err        error
}

func (e *TranscriptionChunkError) Error() string {
	return fmt.Sprintf("transcribing chunk %d [%g, %g): %v", e.Index, e.Start, e.End, e.Err)
}
func (e *TranscriptionChunkError) Unwrap() error { return e.Err }

// FrameWriteError is a frame that could not be extracted. It is logged and
// skipped.
type FrameWriteError struct {
	Index     int
	Timestamp float64
	Err       error
}

func (e *FrameWriteError) Error() string {
	return fmt.Sprintf("writing frame %d at %gs: %v", e.Index, e.Timestamp, e.Err)
}
func (e *FrameWriteError) Unwrap() error { return e.Err }

// ImportError is an embedding or vector store failure during import.
// Entries already inserted are not rolled back.
type ImportError struct {
	Op  string
	Err error
}

func (e *ImportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ImportError) Unwrap() error { return e.Err }
