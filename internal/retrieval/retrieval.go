// Package retrieval finds the transcript segments and frames relevant to a
// question and aligns them on the video timeline.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vidrag/internal/embedding"
	"github.com/kalambet/vidrag/internal/segment"
	"github.com/kalambet/vidrag/internal/vectorstore"
)

// DefaultTopK is how many matches are taken from each store.
const DefaultTopK = 5

// Engine embeds a question into both vector spaces, searches each store and
// aligns the results.
type Engine struct {
	textModel  embedding.TextEmbedder // same space as stored transcripts
	crossModel embedding.TextEmbedder // same space as stored frames
	texts      vectorstore.Store
	images     vectorstore.Store
	topK       int
	logger     *slog.Logger
}

// NewEngine creates an Engine. A topK <= 0 uses DefaultTopK.
func NewEngine(textModel, crossModel embedding.TextEmbedder, texts, images vectorstore.Store, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		textModel:  textModel,
		crossModel: crossModel,
		texts:      texts,
		images:     images,
		topK:       topK,
		logger:     slog.Default(),
	}
}

// Retrieve returns the aligned context for question within videoID. Both
// stores are queried concurrently; either failing fails the call.
func (e *Engine) Retrieve(ctx context.Context, videoID segment.VideoID, question string) (AlignedContext, error) {
	var textMatches, frameMatches []vectorstore.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := search(gCtx, e.textModel, e.texts, videoID, question, e.topK)
		if err != nil {
			return fmt.Errorf("searching transcripts: %w", err)
		}
		textMatches = m
		return nil
	})
	g.Go(func() error {
		m, err := search(gCtx, e.crossModel, e.images, videoID, question, e.topK)
		if err != nil {
			return fmt.Errorf("searching frames: %w", err)
		}
		frameMatches = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return AlignedContext{}, err
	}

	ac := Align(textMatches, frameMatches)
	e.logger.Debug("retrieved context",
		"video_id", videoID,
		"texts", len(textMatches),
		"frames", len(frameMatches),
		"segments", len(ac.Segments),
		"orphans", len(ac.Orphans),
	)
	return ac, nil
}

func search(ctx context.Context, model embedding.TextEmbedder, store vectorstore.Store, videoID segment.VideoID, question string, topK int) ([]vectorstore.Match, error) {
	vecs, err := model.EmbedTexts(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding question: got %d vectors", len(vecs))
	}
	return store.Search(ctx, vecs[0], videoID, topK)
}
