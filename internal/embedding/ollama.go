package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var _ TextEmbedder = (*Ollama)(nil)

// OllamaClient is the subset of the Ollama client used for embeddings.
type OllamaClient interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Ollama embeds text with a local Ollama model. Large inputs are split into
// sub-batches sent concurrently.
type Ollama struct {
	client    OllamaClient
	model     string
	batchSize int
}

// NewOllama creates an Ollama embedder for the given model.
func NewOllama(client OllamaClient, model string) *Ollama {
	return &Ollama{client: client, model: model, batchSize: 16}
}

// EmbedTexts embeds texts in batches, keeping the input order.
func (o *Ollama) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the local server.

	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := o.client.Embed(gCtx, o.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
