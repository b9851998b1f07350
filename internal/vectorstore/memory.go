package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"knowledgeworkspace/internal/model"
)

type memoryVec struct {
	vec      []float32
	metadata map[string]any
}

// MemoryStore is an in-process, cosine-similarity Store used by tests in
// place of Qdrant. Upsert is immediately durable; Flush is a no-op.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]memoryVec
	dimension int
}

// NewMemoryStore returns an empty in-memory vector store.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{documents: make(map[string]memoryVec), dimension: dimension}
}

func (m *MemoryStore) Upsert(_ context.Context, docs []model.VectorDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		v := make([]float32, len(d.Vector))
		copy(v, d.Vector)
		md := make(map[string]any, len(d.Metadata))
		for k, val := range d.Metadata {
			md[k] = val
		}
		m.documents[d.DocID] = memoryVec{vec: v, metadata: md}
	}
	return nil
}

func (m *MemoryStore) Flush(_ context.Context) error { return nil }

func (m *MemoryStore) Search(_ context.Context, queryVector []float32, k int, filter Filter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qn := norm(queryVector)
	out := make([]SearchResult, 0, len(m.documents))
	for id, d := range m.documents {
		if !matchesFilter(d.metadata, filter) {
			continue
		}
		out = append(out, SearchResult{DocID: id, Score: cosine(queryVector, d.vec, qn), Metadata: copyAnyMap(d.metadata)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.documents, id)
	}
	return nil
}

func (m *MemoryStore) Dimension() int { return m.dimension }

func (m *MemoryStore) Close() error { return nil }

func matchesFilter(md map[string]any, f Filter) bool {
	if f.FileID != "" && asString(md["file_id"]) != f.FileID {
		return false
	}
	if f.Version != "" && asString(md["version"]) != f.Version {
		return false
	}
	if f.PrivacyLevel != "" && asString(md["privacy_level"]) != f.PrivacyLevel {
		return false
	}
	if len(f.FileIDs) > 0 {
		ok := false
		fid := asString(md["file_id"])
		for _, id := range f.FileIDs {
			if id == fid {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func copyAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, qnorm float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	bn := norm(b)
	if qnorm == 0 || bn == 0 {
		return 0
	}
	return dot / (qnorm * bn)
}
