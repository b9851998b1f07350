package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"knowledgeworkspace/internal/model"
)

type chunkKey struct {
	fileID  string
	version model.ChunkVersion
}

// MemoryStore is an in-process Store used by indexing/search tests in
// place of sqlite.
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string]model.FileRecord
	order  []string // file ids in first-UpsertFile order, for oldest-enqueued-first queues
	chunks map[chunkKey][]model.ChunkSnapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string]model.FileRecord),
		chunks: make(map[chunkKey][]model.ChunkSnapshot),
	}
}

func (m *MemoryStore) UpsertFile(_ context.Context, rec model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.files[rec.FileID]
	if ok {
		if rec.FastTextAt == nil {
			rec.FastTextAt = existing.FastTextAt
		}
		if rec.FastEmbedAt == nil {
			rec.FastEmbedAt = existing.FastEmbedAt
		}
		if rec.DeepTextAt == nil {
			rec.DeepTextAt = existing.DeepTextAt
		}
		if rec.DeepEmbedAt == nil {
			rec.DeepEmbedAt = existing.DeepEmbedAt
		}
	} else {
		m.order = append(m.order, rec.FileID)
	}
	m.files[rec.FileID] = rec
	return nil
}

// ListPendingFast and ListPendingDeep walk m.order, the insertion-order
// record of first-UpsertFile calls, giving the same oldest-enqueued-first
// semantics as SQLiteStore's rowid ordering.
func (m *MemoryStore) ListPendingFast(_ context.Context) ([]model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FileRecord
	for _, id := range m.order {
		rec := m.files[id]
		if rec.FastStage == model.StagePending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPendingDeep(_ context.Context) ([]model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FileRecord
	for _, id := range m.order {
		rec := m.files[id]
		if rec.FastStage == model.StageEmbedded && rec.DeepStage == model.StagePending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetFile(_ context.Context, fileID string) (model.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[fileID]
	return rec, ok, nil
}

func (m *MemoryStore) FindFilesByName(_ context.Context, name string) ([]model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lname := strings.ToLower(name)
	var out []model.FileRecord
	for _, rec := range m.files {
		lrecName := strings.ToLower(rec.Name)
		withoutExt := strings.TrimSuffix(lrecName, "."+strings.ToLower(rec.Extension))
		if lrecName == lname || withoutExt == lname {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetFilesInFolder(_ context.Context, folderID string) ([]model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FileRecord
	for _, rec := range m.files {
		if rec.FolderID == folderID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateFileStage(_ context.Context, fileID string, u StageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil
	}
	if u.FastStage != nil {
		rec.FastStage = *u.FastStage
	}
	if u.DeepStage != nil {
		rec.DeepStage = *u.DeepStage
	}
	if u.FastTextAt != nil {
		rec.FastTextAt = u.FastTextAt
	}
	if u.FastEmbedAt != nil {
		rec.FastEmbedAt = u.FastEmbedAt
	}
	if u.DeepTextAt != nil {
		rec.DeepTextAt = u.DeepTextAt
	}
	if u.DeepEmbedAt != nil {
		rec.DeepEmbedAt = u.DeepEmbedAt
	}
	m.files[fileID] = rec
	return nil
}

func (m *MemoryStore) IncrementAttempt(_ context.Context, fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return 0, nil
	}
	rec.AttemptCount++
	m.files[fileID] = rec
	return rec.AttemptCount, nil
}

func (m *MemoryStore) IncrementFailure(_ context.Context, fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return 0, nil
	}
	rec.FailureCount++
	m.files[fileID] = rec
	return rec.FailureCount, nil
}

func (m *MemoryStore) ResetAttempts(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil
	}
	rec.AttemptCount = 0
	rec.FailureCount = 0
	m.files[fileID] = rec
	return nil
}

func (m *MemoryStore) ReplaceChunks(_ context.Context, fileID string, chunks []model.ChunkSnapshot, version model.ChunkVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.ChunkSnapshot, len(chunks))
	copy(cp, chunks)
	m.chunks[chunkKey{fileID, version}] = cp
	return nil
}

func (m *MemoryStore) GetChunks(_ context.Context, fileID string, version model.ChunkVersion) ([]model.ChunkSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ChunkSnapshot(nil), m.chunks[chunkKey{fileID, version}]...), nil
}

func (m *MemoryStore) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	folders := make(map[string]struct{})
	for _, rec := range m.files {
		if rec.FolderID != "" {
			folders[rec.FolderID] = struct{}{}
		}
	}
	return Counts{Files: len(m.files), Folders: len(folders)}, nil
}

// KeywordSearch does a naive substring/term-overlap scan; sufficient for
// unit tests that don't need real BM25 ranking.
func (m *MemoryStore) KeywordSearch(_ context.Context, query string, limit int, fileIDs []string) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	allow := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		allow[id] = true
	}
	var out []SearchResult
	for key, snaps := range m.chunks {
		if len(fileIDs) > 0 && !allow[key.fileID] {
			continue
		}
		for _, c := range snaps {
			lower := strings.ToLower(c.Text)
			score := 0
			for _, t := range terms {
				score += strings.Count(lower, t)
			}
			if score == 0 {
				continue
			}
			out = append(out, SearchResult{ChunkID: c.ChunkID, Score: float64(score), Snippet: c.Snippet})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
