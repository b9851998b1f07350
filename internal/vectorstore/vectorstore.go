// Package vectorstore implements C3 of the indexing/search core: a
// Qdrant-backed dense vector store with upsert/search/delete and
// server-side metadata filtering.
package vectorstore

import (
	"context"

	"knowledgeworkspace/internal/model"
)

// Filter restricts Search to documents matching all of the given
// constraints. Equality fields are matched exactly; FileIDs, when
// non-empty, is a set-membership constraint on metadata field "file_id".
type Filter struct {
	FileID       string
	FileIDs      []string
	Version      string
	PrivacyLevel string
}

// SearchResult is one scored hit from Search.
type SearchResult struct {
	DocID    string
	Score    float64
	Metadata map[string]any
}

// Store is the narrow contract the indexing pipeline and search engine
// use. upsert+flush is the durability barrier: a search is only
// guaranteed consistent with upserts that have been followed by a
// successful Flush from the same process.
type Store interface {
	Upsert(ctx context.Context, docs []model.VectorDocument) error
	Flush(ctx context.Context) error
	Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) error
	Dimension() int
	Close() error
}
