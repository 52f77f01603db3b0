package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

var _ TextEmbedder = (*OpenAI)(nil)

// OpenAI embeds text with the OpenAI embeddings endpoint.
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI returns an embedder using the given model, e.g. text-embedding-ada-002.
func NewOpenAI(api *openai.Client, model string) *OpenAI {
	return &OpenAI{api: api, model: model}
}

// EmbedTexts sends all texts in a single embeddings request.
func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	// Data is usually in input order but carries an explicit index.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
	}
	return out, nil
}
