package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/vidrag/internal/segment"
)

var _ Store = (*PGVectorStore)(nil)

// PGVectorStore keeps one collection in a PostgreSQL table with a pgvector
// column and an HNSW cosine index.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

var pgTables = map[string]string{
	TextCollection:  "vidrag_text_vectors",
	ImageCollection: "vidrag_image_vectors",
}

// NewPGVectorStore prepares the table backing collection on pool, creating
// the extension, table and indexes if needed. The pool is shared and not
// owned by the store.
func NewPGVectorStore(ctx context.Context, pool *pgxpool.Pool, collection string, dim int) (*PGVectorStore, error) {
	table, ok := pgTables[collection]
	if !ok {
		return nil, fmt.Errorf("unsupported collection %q", collection)
	}
	s := &PGVectorStore{pool: pool, table: table}
	if err := s.ensureSchema(ctx, dim); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) ensureSchema(ctx context.Context, dim int) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enabling pgvector: %w", err)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			start_s DOUBLE PRECISION NOT NULL,
			end_s DOUBLE PRECISION NOT NULL,
			timestamp_s DOUBLE PRECISION NOT NULL,
			data TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_video_idx ON %s (video_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("preparing %s: %w", s.table, err)
		}
	}
	return nil
}

// Insert writes entries in one transaction and returns their new ids.
func (s *PGVectorStore) Insert(ctx context.Context, entries []Entry) ([]string, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := fmt.Sprintf(`INSERT INTO %s (id, video_id, kind, start_s, end_s, timestamp_s, data, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = uuid.New().String()
		p := segment.ToPayload(e.Segment)
		if _, err := tx.Exec(ctx, q, ids[i], p.VideoID, string(p.Kind), p.Start, p.End, p.Timestamp, p.Data, pgvector.NewVector(e.Vector)); err != nil {
			return nil, fmt.Errorf("inserting record %s: %w", ids[i], err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

// Search orders by cosine distance within videoID.
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, videoID segment.VideoID, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id::text, video_id, kind, start_s, end_s, timestamp_s, data, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE video_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), string(videoID), topK)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var id, kind string
		var p segment.Payload
		var score float64
		if err := rows.Scan(&id, &p.VideoID, &kind, &p.Start, &p.End, &p.Timestamp, &p.Data, &score); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		p.Kind = segment.Kind(kind)
		m, err := matchFromPayload(id, p, float32(score))
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Clear deletes the rows of videoID.
func (s *PGVectorStore) Clear(ctx context.Context, videoID segment.VideoID) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE video_id = $1", s.table), string(videoID))
	if err != nil {
		return 0, fmt.Errorf("clearing %s for %s: %w", s.table, videoID, err)
	}
	return int(tag.RowsAffected()), nil
}
