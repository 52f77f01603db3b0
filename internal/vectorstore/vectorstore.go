// Package vectorstore holds embedded text segments and image frames and
// answers nearest-neighbour queries restricted to one video.
//
// Two instances are used side by side: one for transcript embeddings and
// one for frame embeddings. They live in different embedding spaces and
// are never searched with the same query vector.
//
// Backends:
//   - SQLiteStore: brute-force cosine scan over the local database (default).
//   - QdrantStore: Qdrant REST API.
//   - PGVectorStore: PostgreSQL with the pgvector extension.
//   - MilvusStore: Milvus with an HNSW cosine index.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/kalambet/vidrag/internal/segment"
)

// Collection names shared by every backend.
const (
	TextCollection  = "texts"
	ImageCollection = "images"
)

// Store is a vector index of segments with a per-video filter.
type Store interface {
	// Insert stores each entry under a freshly generated id and returns the
	// ids in input order.
	Insert(ctx context.Context, entries []Entry) ([]string, error)

	// Search returns at most topK entries of videoID ordered by decreasing
	// similarity. Ties keep the backend's native order.
	Search(ctx context.Context, vector []float32, videoID segment.VideoID, topK int) ([]Match, error)

	// Clear removes every entry of videoID and returns how many were
	// removed, or -1 when the backend does not report it.
	Clear(ctx context.Context, videoID segment.VideoID) (int, error)
}

// Entry is one vector with the segment it describes.
type Entry struct {
	Vector  []float32
	Segment segment.Segment
}

// Match is a search result.
type Match struct {
	ID      string
	Segment segment.Segment
	Score   float32
}

func validateEntries(entries []Entry) error {
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %d: empty vector", i)
		}
		if e.Segment == nil {
			return fmt.Errorf("entry %d: missing segment", i)
		}
		if e.Segment.Video() == "" {
			return fmt.Errorf("entry %d: missing video id", i)
		}
	}
	return nil
}

func matchFromPayload(id string, p segment.Payload, score float32) (Match, error) {
	seg, err := p.Segment()
	if err != nil {
		return Match{}, fmt.Errorf("decoding payload of %s: %w", id, err)
	}
	return Match{ID: id, Segment: seg, Score: score}, nil
}
