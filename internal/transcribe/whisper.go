// Package transcribe turns short audio files into text.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Whisper transcribes audio through the OpenAI audio transcription API.
type Whisper struct {
	api      *openai.Client
	model    string
	language string
}

// NewWhisper returns a Whisper transcriber for model (whisper-1 when empty).
// language is an optional ISO-639-1 hint.
func NewWhisper(api *openai.Client, model, language string) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{api: api, model: model, language: language}
}

// Transcribe returns the text spoken in the audio file at path. Silence
// yields an empty string and no error.
func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", path, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
