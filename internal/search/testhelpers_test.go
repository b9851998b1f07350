package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"knowledgeworkspace/internal/config"
	"knowledgeworkspace/internal/llm"
	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/storage"
	"knowledgeworkspace/internal/vectorstore"
)

// scriptedProvider returns queued responses to successive ChatStream
// calls, in order, falling back to the last response once exhausted.
// Safe for the concurrent calls MultiPath makes.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *scriptedProvider) next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return ""
	}
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i]
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: p.next()}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta(p.next())
	return nil
}

// newEmbedServer returns an embedding endpoint that hands back a fixed
// 3-dimensional vector for every input, same shape as fast_test.go's.
func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]struct {
			Embedding []float32 `json:"embedding"`
		}, len(req.Input))
		for i := range req.Input {
			data[i].Embedding = []float32{0.1, 0.2, 0.3}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

// seedChunk writes one fast-version chunk and its embedding so both
// KeywordSearch and vector Search can find it.
func seedChunk(t *testing.T, store storage.Store, vecs vectorstore.Store, fileID, chunkID, text string) {
	t.Helper()
	ctx := context.Background()
	existing, _ := store.GetChunks(ctx, fileID, model.VersionFast)
	existing = append(existing, model.ChunkSnapshot{
		ChunkID: chunkID,
		FileID:  fileID,
		Ordinal: len(existing),
		Text:    text,
		Snippet: text,
		Version: model.VersionFast,
	})
	if err := store.ReplaceChunks(ctx, fileID, existing, model.VersionFast); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := vecs.Upsert(ctx, []model.VectorDocument{{
		DocID:  chunkID,
		Vector: []float32{0.1, 0.2, 0.3},
		Metadata: map[string]any{
			"file_id": fileID,
			"version": string(model.VersionFast),
		},
	}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func newTestEngine(t *testing.T, provider *scriptedProvider) (*Engine, *httptest.Server) {
	t.Helper()
	embedSrv := newEmbedServer(t)
	e := &Engine{
		Store:        storage.NewMemoryStore(),
		Vectors:      vectorstore.NewMemoryStore(3),
		EmbedConfig:  config.EmbeddingConfig{BaseURL: embedSrv.URL, Path: "/embed", Model: "test"},
		RerankConfig: config.RerankConfig{},
		Provider:     provider,
		Model:        "test-model",
	}
	return e, embedSrv
}
