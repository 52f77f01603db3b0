// Package embedding turns transcript text and frame images into vectors.
//
// Two vector spaces are in play: the text space (OpenAI or Ollama) holds
// transcript segments, and the CLIP space holds frames together with the
// question text used to search them.
package embedding

import (
	"context"
	"math"
)

// TextEmbedder embeds texts, one vector per input in input order.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageEmbedder embeds image files, one vector per path in input order.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
}

// normalize scales v to unit length in place. Zero vectors are left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
