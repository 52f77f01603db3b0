// Package composer builds the multimodal prompt from aligned retrieval
// results and streams the model's answer.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/vidrag/internal/proxy"
	"github.com/kalambet/vidrag/internal/retrieval"
)

const systemPrompt = `You are a video analysis assistant. Answer the question using the provided video transcript and video frames.

Reference the moments you rely on with time ranges in this exact format:
[FROM->TO], where FROM and TO are whole seconds.

Answer in markdown, in a friendly, conversational tone. Do not include any images in the answer.`

// Token is one piece of a streamed answer. The last token has End set and
// carries the whole answer with time ranges turned into links.
type Token struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

// UpstreamError means the language model call failed.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("language model: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Streamer opens a streaming chat completion.
type Streamer interface {
	Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (proxy.TokenStream, error)
}

// Composer answers questions over an aligned context.
type Composer struct {
	llm    Streamer
	logger *slog.Logger
}

// New creates a Composer streaming from llm.
func New(llm Streamer) *Composer {
	return &Composer{llm: llm, logger: slog.Default()}
}

// BuildMessages returns the system and user messages for question. Frames
// that cannot be read are logged and left out.
func (c *Composer) BuildMessages(ac retrieval.AlignedContext, question string) []openai.ChatCompletionMessage {
	var parts []openai.ChatMessagePart
	for _, seg := range ac.Segments {
		parts = append(parts, textPart(fmt.Sprintf("Transcribe from second %s to second %s, content: %s",
			formatSeconds(seg.Start), formatSeconds(seg.End), seg.Text)))
		if images := c.imageParts(framePaths(seg.Frames)); len(images) > 0 {
			parts = append(parts, textPart("Here are some image frames from this time range:"))
			parts = append(parts, images...)
		}
	}
	if images := c.imageParts(framePaths(ac.Orphans)); len(images) > 0 {
		parts = append(parts, textPart("Some other frames without transcribe:"))
		parts = append(parts, images...)
	}
	parts = append(parts, textPart(question))

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}
}

// Answer streams the answer to question. Each non-empty delta is yielded as
// it arrives, followed by one End token with the full rewritten text. On
// failure a single *UpstreamError is yielded and no End token follows.
func (c *Composer) Answer(ctx context.Context, ac retrieval.AlignedContext, question, linkTemplate string) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		msgs := c.BuildMessages(ac, question)
		c.logger.Debug("composed prompt",
			"segments", len(ac.Segments),
			"orphans", len(ac.Orphans),
			"parts", len(msgs[1].MultiContent),
		)

		stream, err := c.llm.Stream(ctx, msgs)
		if err != nil {
			yield(Token{}, &UpstreamError{Err: err})
			return
		}
		defer stream.Close()

		var full strings.Builder
		for {
			delta, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Token{}, &UpstreamError{Err: err})
				return
			}
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if !yield(Token{Text: delta}, nil) {
				return
			}
		}

		yield(Token{Text: RewriteTimestamps(full.String(), linkTemplate), End: true}, nil)
	}
}

func (c *Composer) imageParts(paths []string) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	for _, p := range paths {
		url, err := EncodeFrame(p)
		if err != nil {
			c.logger.Warn("frame left out of prompt", "frame", p, "error", err)
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	return parts
}

func textPart(s string) openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: s}
}

// formatSeconds prints whole seconds without a fraction.
func formatSeconds(s float64) string {
	if s == float64(int64(s)) {
		return fmt.Sprintf("%d", int64(s))
	}
	return fmt.Sprintf("%.1f", s)
}
