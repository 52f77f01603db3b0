package retrieval

import (
	"github.com/kalambet/vidrag/internal/segment"
	"github.com/kalambet/vidrag/internal/vectorstore"
)

// AlignedSegment is a transcript segment with the retrieved frames that fall
// inside its time range.
type AlignedSegment struct {
	Text   string
	Start  float64
	End    float64
	Frames []segment.ImageFrame
}

// AlignedContext is what an answer is built from. A frame appears either
// under one or more segments or among the orphans, never both.
type AlignedContext struct {
	Segments []AlignedSegment
	Orphans  []segment.ImageFrame
}

// Empty reports whether nothing relevant was retrieved.
func (c AlignedContext) Empty() bool {
	return len(c.Segments) == 0 && len(c.Orphans) == 0
}

// Align attaches each frame to every text match whose window fully encloses
// the frame's window. Text matches keep their rank order and identical
// transcripts are merged; frames claimed by no segment become orphans in
// their rank order.
func Align(texts, frames []vectorstore.Match) AlignedContext {
	imgs := uniqueFrames(frames)
	claimed := make([]bool, len(imgs))

	var out AlignedContext
	byText := make(map[string]int)
	for _, m := range texts {
		ts, ok := m.Segment.(segment.TextSegment)
		if !ok {
			continue
		}
		idx, seen := byText[ts.Text]
		if !seen {
			idx = len(out.Segments)
			byText[ts.Text] = idx
			out.Segments = append(out.Segments, AlignedSegment{Text: ts.Text, Start: ts.Start, End: ts.End})
		}
		seg := &out.Segments[idx]
		for i, f := range imgs {
			if !ts.Span().Encloses(f.Window) || hasFrame(seg.Frames, f.Path) {
				continue
			}
			seg.Frames = append(seg.Frames, f)
			claimed[i] = true
		}
	}

	for i, f := range imgs {
		if !claimed[i] {
			out.Orphans = append(out.Orphans, f)
		}
	}
	return out
}

func uniqueFrames(matches []vectorstore.Match) []segment.ImageFrame {
	seen := make(map[string]bool, len(matches))
	var out []segment.ImageFrame
	for _, m := range matches {
		f, ok := m.Segment.(segment.ImageFrame)
		if !ok || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}
	return out
}

func hasFrame(frames []segment.ImageFrame, path string) bool {
	for _, f := range frames {
		if f.Path == path {
			return true
		}
	}
	return false
}
