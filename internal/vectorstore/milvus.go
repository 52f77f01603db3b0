package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kalambet/vidrag/internal/segment"
)

var _ Store = (*MilvusStore)(nil)

var milvusOutputFields = []string{"video_id", "kind", "start", "end", "timestamp", "data"}

// MilvusStore keeps one collection in Milvus with an HNSW cosine index on
// the vector field. The client is shared and not owned by the store.
type MilvusStore struct {
	mc   client.Client
	coll string
	dim  int
}

// NewMilvusStore creates, indexes and loads the collection if it does not
// exist yet.
func NewMilvusStore(ctx context.Context, mc client.Client, collection string, dim int) (*MilvusStore, error) {
	s := &MilvusStore{mc: mc, coll: "vidrag_" + collection, dim: dim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.coll, err)
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll).WithDescription("vidrag segments")
		schema.WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(256))
		schema.WithField(entity.NewField().WithName("kind").WithDataType(entity.FieldTypeVarChar).WithMaxLength(16))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("timestamp").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("data").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("creating collection %s: %w", s.coll, err)
		}
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("creating index on %s: %w", s.coll, err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("loading collection %s: %w", s.coll, err)
	}
	return nil
}

// Insert writes entries as one column batch under fresh uuids.
func (s *MilvusStore) Insert(ctx context.Context, entries []Entry) ([]string, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	n := len(entries)
	ids := make([]string, n)
	videoIDs := make([]string, n)
	kinds := make([]string, n)
	starts := make([]float64, n)
	ends := make([]float64, n)
	stamps := make([]float64, n)
	data := make([]string, n)
	vectors := make([][]float32, n)
	for i, e := range entries {
		if len(e.Vector) != s.dim {
			return nil, fmt.Errorf("entry %d: vector has %d dimensions, collection expects %d", i, len(e.Vector), s.dim)
		}
		p := segment.ToPayload(e.Segment)
		ids[i] = uuid.New().String()
		videoIDs[i] = p.VideoID
		kinds[i] = string(p.Kind)
		starts[i] = p.Start
		ends[i] = p.End
		stamps[i] = p.Timestamp
		data[i] = p.Data
		vectors[i] = e.Vector
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("kind", kinds),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnDouble("timestamp", stamps),
		entity.NewColumnVarChar("data", data),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus insert: %w", err)
	}
	return ids, nil
}

// Search runs an HNSW search restricted to videoID by a boolean expression.
func (s *MilvusStore) Search(ctx context.Context, vector []float32, videoID segment.VideoID, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexHNSWSearchParam(74)
	if err != nil {
		return nil, fmt.Errorf("search params: %w", err)
	}
	res, err := s.mc.Search(ctx, s.coll, []string{}, videoExpr(videoID), milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var results []Match
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		idCol, _ := r.IDs.(*entity.ColumnVarChar)
		for i := 0; i < r.ResultCount; i++ {
			var p segment.Payload
			p.VideoID = varcharAt(cols["video_id"], i)
			p.Kind = segment.Kind(varcharAt(cols["kind"], i))
			p.Start = doubleAt(cols["start"], i)
			p.End = doubleAt(cols["end"], i)
			p.Timestamp = doubleAt(cols["timestamp"], i)
			p.Data = varcharAt(cols["data"], i)

			var id string
			if idCol != nil {
				id, _ = idCol.ValueByIdx(i)
			}
			m, err := matchFromPayload(id, p, r.Scores[i])
			if err != nil {
				return nil, err
			}
			results = append(results, m)
		}
	}
	return results, nil
}

// Clear deletes by expression. Milvus does not report how many rows went.
func (s *MilvusStore) Clear(ctx context.Context, videoID segment.VideoID) (int, error) {
	if err := s.mc.Delete(ctx, s.coll, "", videoExpr(videoID)); err != nil {
		return 0, fmt.Errorf("milvus delete: %w", err)
	}
	return -1, nil
}

// videoExpr builds the boolean filter on video_id. Backslashes and quotes
// are escaped in a single pass so neither can end the literal early.
func videoExpr(videoID segment.VideoID) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(string(videoID))
	return `video_id == "` + escaped + `"`
}

func varcharAt(c entity.Column, i int) string {
	if col, ok := c.(*entity.ColumnVarChar); ok {
		if data := col.Data(); i < len(data) {
			return data[i]
		}
	}
	return ""
}

func doubleAt(c entity.Column, i int) float64 {
	if col, ok := c.(*entity.ColumnDouble); ok {
		if data := col.Data(); i < len(data) {
			return data[i]
		}
	}
	return 0
}
