package vectorstore

import (
	"cmp"
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vidrag/internal/segment"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps vectors as little-endian float32 blobs next to their
// segment payload and searches them by brute-force cosine similarity.
// Its table is created by the storage migrations.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// Only these names are ever spliced into SQL.
var sqliteTables = []string{"text_vectors", "image_vectors"}

// NewSQLiteStore stores vectors in table, which must be text_vectors or
// image_vectors.
func NewSQLiteStore(db *sql.DB, table string) (*SQLiteStore, error) {
	if !slices.Contains(sqliteTables, table) {
		return nil, fmt.Errorf("unsupported vector table %q", table)
	}
	return &SQLiteStore{db: db, table: table}, nil
}

// Insert writes entries in one transaction and returns their new ids.
func (s *SQLiteStore) Insert(ctx context.Context, entries []Entry) (_ []string, err error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+s.table+`
		(id, video_id, kind, start_s, end_s, timestamp_s, data, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	createdAt := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		id := uuid.NewString()
		p := segment.ToPayload(e.Segment)
		_, err := stmt.ExecContext(ctx, id, p.VideoID, string(p.Kind),
			p.Start, p.End, p.Timestamp, p.Data, encodeFloat32s(e.Vector), createdAt)
		if err != nil {
			return nil, fmt.Errorf("inserting %s segment of %s: %w", p.Kind, p.VideoID, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

// Search scores every vector of one video against the query, then loads
// payloads for the winners only.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, videoID segment.VideoID, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	qNorm := norm(vector)
	if qNorm == 0 {
		return nil, nil
	}

	best, err := s.scan(ctx, vector, qNorm, videoID, topK)
	if err != nil || len(best) == 0 {
		return nil, err
	}
	return s.load(ctx, best)
}

func (s *SQLiteStore) scan(ctx context.Context, vector []float32, qNorm float32, videoID segment.VideoID, topK int) ([]scored, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM `+s.table+` WHERE video_id = ?`, string(videoID))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := newTopK(topK)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		best.offer(id, cosine(vector, buf, qNorm))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return best.ranked(), nil
}

func (s *SQLiteStore) load(ctx context.Context, best []scored) ([]Match, error) {
	args := make([]any, len(best))
	scores := make(map[string]float32, len(best))
	for i, b := range best {
		args[i] = b.id
		scores[b.id] = b.score
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, video_id, kind, start_s, end_s, timestamp_s, data
		FROM `+s.table+` WHERE id IN (?`+strings.Repeat(",?", len(best)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading top matches: %w", err)
	}
	defer rows.Close()

	results := make([]Match, 0, len(best))
	for rows.Next() {
		var id, kind string
		var p segment.Payload
		if err := rows.Scan(&id, &p.VideoID, &kind, &p.Start, &p.End, &p.Timestamp, &p.Data); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		p.Kind = segment.Kind(kind)
		m, err := matchFromPayload(id, p, scores[id])
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}

	// IN does not preserve the ranking.
	slices.SortStableFunc(results, func(a, b Match) int { return cmp.Compare(b.Score, a.Score) })
	return results, nil
}

// Clear deletes every vector of videoID and reports how many went.
func (s *SQLiteStore) Clear(ctx context.Context, videoID segment.VideoID) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE video_id = ?`, string(videoID))
	if err != nil {
		return 0, fmt.Errorf("clearing %s for %s: %w", s.table, videoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return int(n), nil
}

// Count returns the number of stored entries of one video.
func (s *SQLiteStore) Count(ctx context.Context, videoID segment.VideoID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table+` WHERE video_id = ?`, string(videoID)).Scan(&n)
	return n, err
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 0, len(v)*4)
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto reuses buf when it is large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not float32 aligned", len(b))
	}
	buf = slices.Grow(buf[:0], len(b)/4)[:len(b)/4]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine takes the precomputed norm of a. Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if bb == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bb)))
}

type scored struct {
	id    string
	score float32
}

// topK keeps the k highest scores seen in a min-heap.
type topK struct {
	k int
	h scoredHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(scoredHeap, 0, k)}
}

func (t *topK) offer(id string, score float32) {
	switch {
	case t.h.Len() < t.k:
		heap.Push(&t.h, scored{id, score})
	case score > t.h[0].score:
		t.h[0] = scored{id, score}
		heap.Fix(&t.h, 0)
	}
}

// ranked drains the collector, best first.
func (t *topK) ranked() []scored {
	out := make([]scored, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(scored)
	}
	return out
}

type scoredHeap []scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
