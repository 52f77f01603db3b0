package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kalambet/vidrag/internal/segment"
)

// fakeQdrant records requests and serves canned replies.
type fakeQdrant struct {
	exists  bool
	created *qdrant.CreateCollection
	index   *qdrant.CreateFieldIndexCollection
	upserts []*qdrant.UpsertPoints
	queries []*qdrant.QueryPoints
	deletes []*qdrant.DeletePoints
	points  []*qdrant.ScoredPoint
	count   uint64
	err     error
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, f.err }

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return f.err
}

func (f *fakeQdrant) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.index = req
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.points, f.err
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) { return f.count, f.err }

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, f.err
}

func matchedVideo(t *testing.T, f *qdrant.Filter) string {
	t.Helper()
	if len(f.GetMust()) != 1 {
		t.Fatalf("filter = %v, want one must condition", f)
	}
	fc := f.GetMust()[0].GetField()
	if fc.GetKey() != "video_id" {
		t.Errorf("filter key = %q", fc.GetKey())
	}
	return fc.GetMatch().GetKeyword()
}

func TestQdrantSearchSendsVideoFilter(t *testing.T) {
	frame := segment.ImageFrame{VideoID: "v1", Timestamp: 4, Window: segment.Window{Start: 3, End: 5}, Path: "f.jpg"}
	api := &fakeQdrant{points: []*qdrant.ScoredPoint{{
		Id:      qdrant.NewID("2b1e4c8a-0000-4000-8000-000000000001"),
		Score:   0.91,
		Payload: encodePayload(segment.ToPayload(frame)),
	}}}
	s := NewQdrantStore(api, "images")

	got, err := s.Search(context.Background(), []float32{1, 0}, "v1", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	q := api.queries[0]
	if q.GetCollectionName() != "images" || q.GetLimit() != 5 {
		t.Errorf("query = %v", q)
	}
	if v := matchedVideo(t, q.GetFilter()); v != "v1" {
		t.Errorf("filter video = %q, want v1", v)
	}
	if len(got) != 1 || got[0].Score != 0.91 || got[0].ID != "2b1e4c8a-0000-4000-8000-000000000001" {
		t.Fatalf("matches = %+v", got)
	}
	if f, ok := got[0].Segment.(segment.ImageFrame); !ok || f != frame {
		t.Errorf("segment = %#v, want %#v", got[0].Segment, frame)
	}
}

func TestQdrantSearchZeroTopK(t *testing.T) {
	api := &fakeQdrant{}
	if got, err := NewQdrantStore(api, "texts").Search(context.Background(), []float32{1}, "v1", 0); got != nil || err != nil {
		t.Errorf("Search = %v, %v", got, err)
	}
	if len(api.queries) != 0 {
		t.Error("query sent for topK 0")
	}
}

func TestQdrantInsertAssignsIDs(t *testing.T) {
	api := &fakeQdrant{}
	s := NewQdrantStore(api, "texts")

	ids, err := s.Insert(context.Background(), []Entry{
		{Vector: []float32{1, 0}, Segment: segment.TextSegment{VideoID: "v1", Start: 0, End: 30, Text: "a"}},
		{Vector: []float32{0, 1}, Segment: segment.TextSegment{VideoID: "v1", Start: 30, End: 60, Text: "b"}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("ids = %v", ids)
	}

	up := api.upserts[0]
	if !up.GetWait() || len(up.GetPoints()) != 2 {
		t.Fatalf("upsert = %v", up)
	}
	p0 := up.GetPoints()[0]
	if p0.GetId().GetUuid() != ids[0] {
		t.Errorf("point id = %v, want %v", p0.GetId(), ids[0])
	}
	if p0.GetPayload()["data"].GetStringValue() != "a" || p0.GetPayload()["end"].GetDoubleValue() != 30 {
		t.Errorf("payload = %v", p0.GetPayload())
	}
}

func TestQdrantInsertValidates(t *testing.T) {
	api := &fakeQdrant{}
	_, err := NewQdrantStore(api, "texts").Insert(context.Background(), []Entry{{Segment: segment.TextSegment{VideoID: "v"}}})
	if err == nil || len(api.upserts) != 0 {
		t.Errorf("err = %v, upserts = %d", err, len(api.upserts))
	}
}

func TestQdrantClear(t *testing.T) {
	api := &fakeQdrant{count: 7}
	n, err := NewQdrantStore(api, "images").Clear(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 7 {
		t.Errorf("Clear = %d, want 7", n)
	}
	if len(api.deletes) != 1 {
		t.Fatalf("deletes = %d", len(api.deletes))
	}
	if v := matchedVideo(t, api.deletes[0].GetPoints().GetFilter()); v != "v1" {
		t.Errorf("delete filter video = %q", v)
	}
}

func TestQdrantEnsureCollection(t *testing.T) {
	api := &fakeQdrant{}
	if err := NewQdrantStore(api, "images").EnsureCollection(context.Background(), 512); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	params := api.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 512 || params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("vector params = %v", params)
	}
	if api.index.GetFieldName() != "video_id" || api.index.GetFieldType() != qdrant.FieldType_FieldTypeKeyword {
		t.Errorf("index = %v", api.index)
	}

	existing := &fakeQdrant{exists: true}
	if err := NewQdrantStore(existing, "images").EnsureCollection(context.Background(), 512); err != nil {
		t.Fatalf("EnsureCollection existing: %v", err)
	}
	if existing.created != nil {
		t.Error("existing collection was recreated")
	}
}

func TestQdrantErrors(t *testing.T) {
	api := &fakeQdrant{err: errors.New("unavailable")}
	s := NewQdrantStore(api, "texts")
	if _, err := s.Search(context.Background(), []float32{1}, "v1", 5); err == nil {
		t.Error("Search: expected error")
	}
	if _, err := s.Clear(context.Background(), "v1"); err == nil {
		t.Error("Clear: expected error")
	}
}

func TestDecodePayloadIntegerNumbers(t *testing.T) {
	p := decodePayload(map[string]*qdrant.Value{
		"video_id": qdrant.NewValueString("v1"),
		"kind":     qdrant.NewValueString("text"),
		"start":    qdrant.NewValueInt(30),
		"end":      qdrant.NewValueDouble(60),
		"data":     qdrant.NewValueString("hello"),
	})
	if p.Start != 30 || p.End != 60 || p.Timestamp != 0 || p.Data != "hello" {
		t.Errorf("payload = %+v", p)
	}
}
