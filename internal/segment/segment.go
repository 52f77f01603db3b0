// Package segment defines the time-coded units a video is broken into:
// transcript segments and sampled image frames.
package segment

import (
	"errors"
	"fmt"
	"regexp"
)

// VideoID identifies every segment and frame stored for one video. It is
// used as a file name, so only ids passing Validate are ever stored.
type VideoID string

// ErrInvalidVideoID is returned for ids outside [A-Za-z0-9_-]{1,128}.
var ErrInvalidVideoID = errors.New("invalid video id")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Validate reports whether id is safe to use as a path element and in
// backend filter expressions.
func (id VideoID) Validate() error {
	if !videoIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w %q: want 1-128 of A-Z a-z 0-9 _ -", ErrInvalidVideoID, string(id))
	}
	return nil
}

// Kind tags which variant a Segment is.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Window is a half-open time interval [Start, End) in seconds.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Encloses reports whether inner lies fully inside w. Overlap alone is not
// enough.
func (w Window) Encloses(inner Window) bool {
	return inner.Start >= w.Start && inner.End <= w.End
}

// Valid reports whether the window is non-empty and starts at or after zero.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.Start < w.End
}

// Segment is implemented by TextSegment and ImageFrame.
type Segment interface {
	Kind() Kind
	Video() VideoID
	Span() Window
}

// TextSegment is the transcript of one audio chunk.
type TextSegment struct {
	VideoID VideoID
	Start   float64
	End     float64
	Text    string
}

func (s TextSegment) Kind() Kind     { return KindText }
func (s TextSegment) Video() VideoID { return s.VideoID }
func (s TextSegment) Span() Window   { return Window{Start: s.Start, End: s.End} }

// ImageFrame is one frame sampled from the video. Timestamp is the sampling
// instant; Window is the interval used to align the frame with transcript
// segments.
type ImageFrame struct {
	VideoID   VideoID
	Index     int
	Timestamp float64
	Window    Window
	Path      string
}

func (f ImageFrame) Kind() Kind     { return KindImage }
func (f ImageFrame) Video() VideoID { return f.VideoID }
func (f ImageFrame) Span() Window   { return f.Window }

// FrameWindow returns the alignment window for the sample at index taken
// every period seconds. The first sample covers half a period, later ones a
// full period. A positive duration clamps the end.
func FrameWindow(index int, period, duration float64) Window {
	start := float64(index) * period
	width := period
	if index == 0 {
		width = period / 2
	}
	end := start + width
	if duration > 0 && end > duration {
		end = duration
	}
	return Window{Start: start, End: end}
}

// Payload is the flat form of a Segment stored next to its vector.
type Payload struct {
	VideoID   string  `json:"video_id"`
	Kind      Kind    `json:"kind"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Timestamp float64 `json:"timestamp"`
	Data      string  `json:"data"`
}

// ToPayload flattens s.
func ToPayload(s Segment) Payload {
	w := s.Span()
	p := Payload{
		VideoID: string(s.Video()),
		Kind:    s.Kind(),
		Start:   w.Start,
		End:     w.End,
	}
	switch v := s.(type) {
	case TextSegment:
		p.Data = v.Text
		p.Timestamp = v.Start
	case ImageFrame:
		p.Data = v.Path
		p.Timestamp = v.Timestamp
	}
	return p
}

// Segment rebuilds the variant described by p.
func (p Payload) Segment() (Segment, error) {
	switch p.Kind {
	case KindText:
		return TextSegment{
			VideoID: VideoID(p.VideoID),
			Start:   p.Start,
			End:     p.End,
			Text:    p.Data,
		}, nil
	case KindImage:
		return ImageFrame{
			VideoID:   VideoID(p.VideoID),
			Timestamp: p.Timestamp,
			Window:    Window{Start: p.Start, End: p.End},
			Path:      p.Data,
		}, nil
	default:
		return nil, fmt.Errorf("unknown segment kind %q", p.Kind)
	}
}
