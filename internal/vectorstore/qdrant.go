package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kalambet/vidrag/internal/segment"
)

var _ Store = (*QdrantStore)(nil)

// QdrantAPI is the part of *qdrant.Client the store uses.
type QdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
}

var _ QdrantAPI = (*qdrant.Client)(nil)

// QdrantConfig addresses the gRPC port of a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantClient dials Qdrant. One client is shared by both collections.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return c, nil
}

// QdrantStore keeps one collection. Payloads carry the flattened segment
// and video_id is keyword indexed for the per-video filter.
type QdrantStore struct {
	api        QdrantAPI
	collection string
}

// NewQdrantStore returns a store for collection. Call EnsureCollection
// before first use against a fresh server.
func NewQdrantStore(api QdrantAPI, collection string) *QdrantStore {
	return &QdrantStore{api: api, collection: collection}
}

// EnsureCollection creates the collection with cosine distance and the
// video_id index when it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := s.api.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	_, err = s.api.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "video_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("indexing video_id on %s: %w", s.collection, err)
	}
	return nil
}

// Insert upserts entries under fresh uuids and waits for the write.
func (s *QdrantStore) Insert(ctx context.Context, entries []Entry) ([]string, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	points := make([]*qdrant.PointStruct, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = uuid.NewString()
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(ids[i]),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: encodePayload(segment.ToPayload(e.Segment)),
		}
	}
	_, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return ids, nil
}

// Search queries the nearest points of videoID.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, videoID segment.VideoID, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	points, err := s.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         videoFilter(videoID),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]Match, 0, len(points))
	for _, p := range points {
		m, err := matchFromPayload(p.GetId().GetUuid(), decodePayload(p.GetPayload()), p.GetScore())
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, nil
}

// Clear deletes every point of videoID. The count is taken just before the
// delete and is -1 when counting fails.
func (s *QdrantStore) Clear(ctx context.Context, videoID segment.VideoID) (int, error) {
	filter := videoFilter(videoID)

	n := -1
	if c, err := s.api.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	}); err == nil {
		n = int(c)
	}

	_, err := s.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant delete: %w", err)
	}
	return n, nil
}

func videoFilter(videoID segment.VideoID) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("video_id", string(videoID))}}
}

func encodePayload(p segment.Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"video_id":  qdrant.NewValueString(p.VideoID),
		"kind":      qdrant.NewValueString(string(p.Kind)),
		"start":     qdrant.NewValueDouble(p.Start),
		"end":       qdrant.NewValueDouble(p.End),
		"timestamp": qdrant.NewValueDouble(p.Timestamp),
		"data":      qdrant.NewValueString(p.Data),
	}
}

func decodePayload(m map[string]*qdrant.Value) segment.Payload {
	// Points written by other tools may carry whole numbers as integers.
	num := func(key string) float64 {
		if v, ok := m[key].GetKind().(*qdrant.Value_IntegerValue); ok {
			return float64(v.IntegerValue)
		}
		return m[key].GetDoubleValue()
	}
	return segment.Payload{
		VideoID:   m["video_id"].GetStringValue(),
		Kind:      segment.Kind(m["kind"].GetStringValue()),
		Start:     num("start"),
		End:       num("end"),
		Timestamp: num("timestamp"),
		Data:      m["data"].GetStringValue(),
	}
}
