package composer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/vidrag/internal/proxy"
	"github.com/kalambet/vidrag/internal/retrieval"
	"github.com/kalambet/vidrag/internal/segment"
)

type fakeStream struct {
	deltas []string
	err    error
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeLLM struct {
	stream  *fakeStream
	openErr error
	got     []openai.ChatCompletionMessage
}

func (f *fakeLLM) Stream(_ context.Context, msgs []openai.ChatCompletionMessage) (proxy.TokenStream, error) {
	f.got = msgs
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func writeFrame(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for x := 0; x < 64; x++ {
		img.Set(x, 10, color.RGBA{R: 255, A: 255})
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRewriteTimestamps(t *testing.T) {
	got := RewriteTimestamps("see [10->20]", "https://x?t={}s")
	want := "see [10->20](https://x?t=10s)"
	if got != want {
		t.Errorf("RewriteTimestamps = %q, want %q", got, want)
	}
}

func TestRewriteTimestamps_Multiple(t *testing.T) {
	tmpl := "https://www.youtube.com/watch?v=EDj-Xo8AlSU&t={}s"
	got := RewriteTimestamps("intro [0->30] and setup [30->60].", tmpl)
	want := "intro [0->30](https://www.youtube.com/watch?v=EDj-Xo8AlSU&t=0s) and setup [30->60](https://www.youtube.com/watch?v=EDj-Xo8AlSU&t=30s)."
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestRewriteTimestamps_IgnoresOtherBrackets(t *testing.T) {
	in := "a [1.5->2] b [x->y] c [3 -> 4]"
	if got := RewriteTimestamps(in, "u#t={}"); got != in {
		t.Errorf("RewriteTimestamps changed %q to %q", in, got)
	}
}

func TestRewriteTimestamps_AppendsAgain(t *testing.T) {
	once := RewriteTimestamps("[1->2]", "u#t={}")
	twice := RewriteTimestamps(once, "u#t={}")
	if twice != "[1->2](u#t=1)(u#t=1)" {
		t.Errorf("second pass = %q", twice)
	}
}

func TestEncodeFrame(t *testing.T) {
	path := writeFrame(t, t.TempDir(), "f.jpg")
	url, err := EncodeFrame(path)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("url prefix = %q", url[:30])
	}
	if _, err := EncodeFrame(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for missing frame")
	}
}

func TestBuildMessages(t *testing.T) {
	dir := t.TempDir()
	ac := retrieval.AlignedContext{
		Segments: []retrieval.AlignedSegment{
			{Text: "welcome to the intro", Start: 0, End: 30, Frames: []segment.ImageFrame{{Path: writeFrame(t, dir, "a.jpg")}}},
			{Text: "no frames here", Start: 30, End: 60},
		},
		Orphans: []segment.ImageFrame{
			{Path: writeFrame(t, dir, "b.jpg")},
			{Path: filepath.Join(dir, "unreadable.jpg")},
		},
	}

	c := New(&fakeLLM{})
	msgs := c.BuildMessages(ac, "what is this video about?")

	if len(msgs) != 2 || msgs[0].Role != openai.ChatMessageRoleSystem || msgs[1].Role != openai.ChatMessageRoleUser {
		t.Fatalf("unexpected message roles: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "[FROM->TO]") {
		t.Error("system prompt does not ask for time ranges")
	}

	parts := msgs[1].MultiContent
	var kinds []string
	for _, p := range parts {
		if p.Type == openai.ChatMessagePartTypeImageURL {
			kinds = append(kinds, "img")
		} else {
			kinds = append(kinds, p.Text)
		}
	}
	want := []string{
		"Transcribe from second 0 to second 30, content: welcome to the intro",
		"Here are some image frames from this time range:",
		"img",
		"Transcribe from second 30 to second 60, content: no frames here",
		"Some other frames without transcribe:",
		"img",
		"what is this video about?",
	}
	if len(kinds) != len(want) {
		t.Fatalf("parts = %q, want %q", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestBuildMessages_NoOrphanHeaderWhenEmpty(t *testing.T) {
	c := New(&fakeLLM{})
	msgs := c.BuildMessages(retrieval.AlignedContext{}, "q")
	if n := len(msgs[1].MultiContent); n != 1 {
		t.Errorf("got %d parts, want only the question", n)
	}
}

func TestAnswer_Streams(t *testing.T) {
	stream := &fakeStream{deltas: []string{"The intro ", "", "is at [0->30]."}}
	c := New(&fakeLLM{stream: stream})

	var tokens []Token
	for tok, err := range c.Answer(context.Background(), retrieval.AlignedContext{}, "q", "https://x?t={}s") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tokens = append(tokens, tok)
	}

	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3 (empty delta skipped): %+v", len(tokens), tokens)
	}
	if tokens[0].End || tokens[1].End {
		t.Error("intermediate token marked End")
	}
	last := tokens[2]
	if !last.End || last.Text != "The intro is at [0->30](https://x?t=0s)." {
		t.Errorf("final token = %+v", last)
	}
	if !stream.closed {
		t.Error("stream not closed")
	}
}

func TestAnswer_UpstreamFailureMidStream(t *testing.T) {
	stream := &fakeStream{deltas: []string{"partial"}, err: errors.New("connection reset")}
	c := New(&fakeLLM{stream: stream})

	var sawEnd bool
	var gotErr error
	for tok, err := range c.Answer(context.Background(), retrieval.AlignedContext{}, "q", "u#t={}") {
		if err != nil {
			gotErr = err
			continue
		}
		sawEnd = sawEnd || tok.End
	}
	var up *UpstreamError
	if !errors.As(gotErr, &up) {
		t.Errorf("error = %v, want *UpstreamError", gotErr)
	}
	if sawEnd {
		t.Error("End token emitted after upstream failure")
	}
}

func TestAnswer_OpenFailure(t *testing.T) {
	c := New(&fakeLLM{openErr: errors.New("401 unauthorized")})
	var n int
	for _, err := range c.Answer(context.Background(), retrieval.AlignedContext{}, "q", "u#t={}") {
		n++
		var up *UpstreamError
		if !errors.As(err, &up) {
			t.Errorf("error = %v, want *UpstreamError", err)
		}
	}
	if n != 1 {
		t.Errorf("got %d items, want 1", n)
	}
}
