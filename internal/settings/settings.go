// Package settings implements the mutable, PATCH-able configuration
// surface of §6: a small set of recognized keys, held as an immutable
// snapshot swapped atomically on PATCH and persisted to storage so a
// restart doesn't lose operator overrides.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Snapshot is the mutable configuration surface. Every field corresponds
// to a recognized PATCH key in spec.md §6; unrecognized keys are
// rejected rather than silently accepted.
type Snapshot struct {
	VisionMaxPixels     int    `json:"vision_max_pixels"`
	VideoMaxPixels      int    `json:"video_max_pixels"`
	EmbedBatchSize      int    `json:"embed_batch_size"`
	EmbedBatchDelayMS   int    `json:"embed_batch_delay_ms"`
	VisionBatchDelayMS  int    `json:"vision_batch_delay_ms"`
	SearchResultLimit   int    `json:"search_result_limit"`
	QAContextLimit      int    `json:"qa_context_limit"`
	MaxSnippetLength    int    `json:"max_snippet_length"`
	SummaryMaxTokens    int    `json:"summary_max_tokens"`
	PDFOneChunkPerPage  bool   `json:"pdf_one_chunk_per_page"`
	RAGChunkSize        int    `json:"rag_chunk_size"`
	RAGChunkOverlap     int    `json:"rag_chunk_overlap"`
	DefaultIndexingMode string `json:"default_indexing_mode"` // fast | deep
	PDFMode             string `json:"pdf_mode"`              // text | vision
	PDFFastAllowVision  bool   `json:"pdf_fast_allow_vision_fallback"`
}

// Default returns the snapshot used when no persisted settings exist.
func Default() Snapshot {
	return Snapshot{
		VisionMaxPixels:     1_000_000,
		VideoMaxPixels:      1_000_000,
		EmbedBatchSize:      16,
		EmbedBatchDelayMS:   0,
		VisionBatchDelayMS:  0,
		SearchResultLimit:   10,
		QAContextLimit:      10,
		MaxSnippetLength:    400,
		SummaryMaxTokens:    1024,
		PDFOneChunkPerPage:  false,
		RAGChunkSize:        1000,
		RAGChunkOverlap:     200,
		DefaultIndexingMode: "fast",
		PDFMode:             "text",
		PDFFastAllowVision:  true,
	}
}

// recognizedKeys lists the PATCH keys accepted by Manager.Patch, in the
// field order of Snapshot.
var recognizedKeys = map[string]struct{}{
	"vision_max_pixels":              {},
	"video_max_pixels":               {},
	"embed_batch_size":               {},
	"embed_batch_delay_ms":           {},
	"vision_batch_delay_ms":          {},
	"search_result_limit":            {},
	"qa_context_limit":               {},
	"max_snippet_length":             {},
	"summary_max_tokens":             {},
	"pdf_one_chunk_per_page":         {},
	"rag_chunk_size":                 {},
	"rag_chunk_overlap":              {},
	"default_indexing_mode":          {},
	"pdf_mode":                       {},
	"pdf_fast_allow_vision_fallback": {},
}

// Persister is the storage-side dependency of Manager. *storage.SQLiteStore
// and *MemoryPersister both satisfy it structurally.
type Persister interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, kv map[string]string) error
}

// Manager holds the current snapshot behind a mutex and persists every
// PATCH. Readers call Get, which returns a value (not a pointer), so
// callers can't observe a torn update and don't need to hold a lock.
type Manager struct {
	mu        sync.RWMutex
	snapshot  Snapshot
	version   int
	persister Persister
}

// NewManager loads any persisted overrides on top of Default and
// returns a ready Manager.
func NewManager(ctx context.Context, persister Persister) (*Manager, error) {
	m := &Manager{snapshot: Default(), persister: persister}
	kv, err := persister.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if len(kv) > 0 {
		if err := applyStrings(&m.snapshot, kv); err != nil {
			return nil, fmt.Errorf("apply persisted settings: %w", err)
		}
	}
	return m, nil
}

// Get returns the current snapshot.
func (m *Manager) Get() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Version returns the number of successful PATCH applications since
// startup. It is not persisted: a restart resets it to 0. Callers that
// stream long-running operations (search, QA) read it once up front and
// attach it to their trace/debug output so a client can tell whether
// settings changed mid-stream.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Patch applies a partial update (string-keyed, loosely typed values as
// they arrive off an HTTP body) and persists the result. An unrecognized
// key is rejected and no fields are applied.
func (m *Manager) Patch(ctx context.Context, updates map[string]any) (Snapshot, error) {
	for k := range updates {
		if _, ok := recognizedKeys[k]; !ok {
			return Snapshot{}, fmt.Errorf("unrecognized setting %q", k)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.snapshot
	persistKV := make(map[string]string, len(updates))
	for k, v := range updates {
		str, err := applyOne(&next, k, v)
		if err != nil {
			return Snapshot{}, err
		}
		persistKV[k] = str
	}

	if err := m.persister.SaveSettings(ctx, persistKV); err != nil {
		return Snapshot{}, fmt.Errorf("persist settings: %w", err)
	}
	m.snapshot = next
	m.version++
	return next, nil
}

func applyOne(s *Snapshot, key string, v any) (string, error) {
	switch key {
	case "vision_max_pixels":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.VisionMaxPixels = n
		return strconv.Itoa(n), nil
	case "video_max_pixels":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.VideoMaxPixels = n
		return strconv.Itoa(n), nil
	case "embed_batch_size":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		if n < 1 {
			return "", fmt.Errorf("embed_batch_size must be >= 1")
		}
		s.EmbedBatchSize = n
		return strconv.Itoa(n), nil
	case "embed_batch_delay_ms":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.EmbedBatchDelayMS = n
		return strconv.Itoa(n), nil
	case "vision_batch_delay_ms":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.VisionBatchDelayMS = n
		return strconv.Itoa(n), nil
	case "search_result_limit":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.SearchResultLimit = n
		return strconv.Itoa(n), nil
	case "qa_context_limit":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.QAContextLimit = n
		return strconv.Itoa(n), nil
	case "max_snippet_length":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.MaxSnippetLength = n
		return strconv.Itoa(n), nil
	case "summary_max_tokens":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.SummaryMaxTokens = n
		return strconv.Itoa(n), nil
	case "pdf_one_chunk_per_page":
		b, err := toBool(v)
		if err != nil {
			return "", err
		}
		s.PDFOneChunkPerPage = b
		return strconv.FormatBool(b), nil
	case "rag_chunk_size":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.RAGChunkSize = n
		return strconv.Itoa(n), nil
	case "rag_chunk_overlap":
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		s.RAGChunkOverlap = n
		return strconv.Itoa(n), nil
	case "default_indexing_mode":
		str, ok := v.(string)
		if !ok || (str != "fast" && str != "deep") {
			return "", fmt.Errorf("default_indexing_mode must be \"fast\" or \"deep\"")
		}
		s.DefaultIndexingMode = str
		return str, nil
	case "pdf_mode":
		str, ok := v.(string)
		if !ok || (str != "text" && str != "vision") {
			return "", fmt.Errorf("pdf_mode must be \"text\" or \"vision\"")
		}
		s.PDFMode = str
		return str, nil
	case "pdf_fast_allow_vision_fallback":
		b, err := toBool(v)
		if err != nil {
			return "", err
		}
		s.PDFFastAllowVision = b
		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("unrecognized setting %q", key)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected a bool, got %T", v)
	}
}

// applyStrings replays persisted string-encoded values on top of s at
// load time, using the same per-key conversion as Patch.
func applyStrings(s *Snapshot, kv map[string]string) error {
	for k, v := range kv {
		if _, ok := recognizedKeys[k]; !ok {
			continue // drop keys no longer recognized rather than fail boot
		}
		if _, err := applyOne(s, k, v); err != nil {
			return fmt.Errorf("setting %q: %w", k, err)
		}
	}
	return nil
}
