package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/kalambet/vidrag/internal/segment"
	"github.com/kalambet/vidrag/internal/storage"
)

func openTestStore(t *testing.T, table string) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewSQLiteStore(db.DB(), table)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

// axis returns a unit vector along dimension i.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func TestNewSQLiteStoreRejectsUnknownTable(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	defer db.Close()
	if _, err := NewSQLiteStore(db.DB(), "videos; DROP TABLE videos"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestInsertAndSearch(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	ctx := context.Background()

	vec := makeTestVector(64, 0.1)
	ids, err := s.Insert(ctx, []Entry{{
		Vector:  vec,
		Segment: segment.TextSegment{VideoID: "v1", Start: 0, End: 30, Text: "intro"},
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(ids) != 1 || ids[0] == "" {
		t.Fatalf("Insert ids = %v", ids)
	}

	results, err := s.Search(ctx, vec, "v1", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].ID != ids[0] {
		t.Errorf("ID = %q, want %q", results[0].ID, ids[0])
	}
	seg, ok := results[0].Segment.(segment.TextSegment)
	if !ok {
		t.Fatalf("segment type = %T, want TextSegment", results[0].Segment)
	}
	if seg.Text != "intro" || seg.End != 30 {
		t.Errorf("segment = %+v", seg)
	}
}

func TestInsertAssignsFreshIDs(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	ctx := context.Background()

	entry := Entry{Vector: axis(4, 0), Segment: segment.TextSegment{VideoID: "v1", Start: 0, End: 30, Text: "same"}}
	first, err := s.Insert(ctx, []Entry{entry})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second, err := s.Insert(ctx, []Entry{entry})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if first[0] == second[0] {
		t.Error("re-inserting the same segment reused its id")
	}
	n, err := s.Count(ctx, "v1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2 (duplicates are kept)", n)
	}
}

func TestSearchFiltersByVideo(t *testing.T) {
	s := openTestStore(t, storage.ImageVectorsTable)
	ctx := context.Background()

	entries := []Entry{
		{Vector: axis(4, 0), Segment: segment.ImageFrame{VideoID: "a", Timestamp: 0, Window: segment.Window{Start: 0, End: 1}, Path: "a0.png"}},
		{Vector: axis(4, 0), Segment: segment.ImageFrame{VideoID: "b", Timestamp: 0, Window: segment.Window{Start: 0, End: 1}, Path: "b0.png"}},
	}
	if _, err := s.Insert(ctx, entries); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, axis(4, 0), "a", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	frame, ok := results[0].Segment.(segment.ImageFrame)
	if !ok || frame.Path != "a0.png" {
		t.Errorf("result = %+v, want frame a0.png", results[0].Segment)
	}
}

func TestSearchTopKOrdered(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{
			Vector:  makeTestVector(64, float32(i)*0.1),
			Segment: segment.TextSegment{VideoID: "v", Start: float64(i * 30), End: float64((i + 1) * 30), Text: fmt.Sprintf("chunk %d", i)},
		})
	}
	if _, err := s.Insert(ctx, entries); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, makeTestVector(64, 0.5), "v", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score: %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestSearchEmptyVideo(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)

	results, err := s.Search(context.Background(), makeTestVector(64, 0.1), "nothing", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearchZeroQuery(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	results, err := s.Search(context.Background(), make([]float32, 8), "v", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("zero query returned %v", results)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	ctx := context.Background()

	entries := []Entry{
		{Vector: axis(4, 0), Segment: segment.TextSegment{VideoID: "a", Start: 0, End: 30, Text: "a0"}},
		{Vector: axis(4, 1), Segment: segment.TextSegment{VideoID: "a", Start: 30, End: 60, Text: "a1"}},
		{Vector: axis(4, 0), Segment: segment.TextSegment{VideoID: "b", Start: 0, End: 30, Text: "b0"}},
	}
	if _, err := s.Insert(ctx, entries); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.Clear(ctx, "a")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	if left, _ := s.Count(ctx, "b"); left != 1 {
		t.Errorf("Count(b) = %d, want 1", left)
	}
}

func TestInsertValidates(t *testing.T) {
	s := openTestStore(t, storage.TextVectorsTable)
	_, err := s.Insert(context.Background(), []Entry{{Vector: nil, Segment: segment.TextSegment{VideoID: "v"}}})
	if err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestTopKKeepsBest(t *testing.T) {
	best := newTopK(3)
	for i, score := range []float32{0.1, 0.9, 0.4, 0.7, 0.2, 0.8} {
		best.offer(fmt.Sprint(i), score)
	}
	got := best.ranked()
	want := []string{"1", "5", "3"}
	if len(got) != len(want) {
		t.Fatalf("ranked = %v", got)
	}
	for i, w := range want {
		if got[i].id != w {
			t.Errorf("ranked[%d] = %s (%.1f), want %s", i, got[i].id, got[i].score, w)
		}
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	if got := cosine(a, []float32{1, 0}, norm(a)); got != 1 {
		t.Errorf("identical = %v, want 1", got)
	}
	if got := cosine(a, []float32{0, 1}, norm(a)); got != 0 {
		t.Errorf("orthogonal = %v, want 0", got)
	}
	if got := cosine(a, []float32{1, 0, 0}, norm(a)); got != 0 {
		t.Errorf("mismatched dim = %v, want 0", got)
	}
	if got := cosine(a, []float32{0, 0}, norm(a)); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}
