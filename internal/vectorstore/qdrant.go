package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"knowledgeworkspace/internal/config"
	"knowledgeworkspace/internal/model"
)

// payloadIDField stores the caller-supplied doc id (= chunk id) in the
// Qdrant point payload, since Qdrant point ids must be a UUID or an
// unsigned integer and chunk ids are arbitrary strings.
const payloadIDField = "_doc_id"

// QdrantStore is the Qdrant-backed Store implementation.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects to Qdrant over gRPC and ensures the configured
// collection exists with the configured vector size and cosine distance.
func NewQdrantStore(ctx context.Context, cfg config.VectorStoreConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vector store collection name is required")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector store vector_size must be > 0")
	}
	qc := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}
	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection, dimension: cfg.VectorSize}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointID(docID string) *qdrant.PointId {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String())
}

// Upsert writes documents to a batch; Flush must be called afterward
// for the durability barrier spec.md §4.3 requires. Qdrant's Upsert
// call is itself synchronous and durable once it returns, so Flush is
// a no-op for this backend but is still required by callers per the
// store-agnostic contract.
func (s *QdrantStore) Upsert(ctx context.Context, docs []model.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			payload[k] = v
		}
		payload[payloadIDField] = d.DocID
		vec := make([]float32, len(d.Vector))
		copy(vec, d.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(d.DocID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	return err
}

// Flush is advisory for Qdrant: Upsert already blocks until durable.
func (s *QdrantStore) Flush(ctx context.Context) error { return nil }

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)

	var must []*qdrant.Condition
	if filter.FileID != "" {
		must = append(must, qdrant.NewMatch("file_id", filter.FileID))
	}
	if filter.Version != "" {
		must = append(must, qdrant.NewMatch("version", filter.Version))
	}
	if filter.PrivacyLevel != "" {
		must = append(must, qdrant.NewMatch("privacy_level", filter.PrivacyLevel))
	}
	if len(filter.FileIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("file_id", filter.FileIDs...))
	}
	var qf *qdrant.Filter
	if len(must) > 0 {
		qf = &qdrant.Filter{Must: must}
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		metadata := make(map[string]any)
		var docID string
		if h.Payload != nil {
			for k, v := range h.Payload {
				if k == payloadIDField {
					docID = v.GetStringValue()
					continue
				}
				metadata[k] = valueToAny(v)
			}
		}
		if docID == "" {
			docID = h.Id.GetUuid()
		}
		out = append(out, SearchResult{DocID: docID, Score: float64(h.Score), Metadata: metadata})
	}
	return out, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pts := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pts = append(pts, pointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pts...),
	})
	return err
}

func (s *QdrantStore) Dimension() int { return s.dimension }

func (s *QdrantStore) Close() error { return s.client.Close() }

func valueToAny(v *qdrant.Value) any {
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetBoolValue():
		return true
	default:
		return v.GetStringValue()
	}
}
