package settings

import (
	"context"
	"testing"
)

func TestManagerDefaultsAndPatch(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, NewMemoryPersister())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	got := mgr.Get()
	want := Default()
	if got != want {
		t.Fatalf("expected default snapshot, got %#v", got)
	}

	updated, err := mgr.Patch(ctx, map[string]any{
		"search_result_limit": 25,
		"pdf_mode":            "vision",
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if updated.SearchResultLimit != 25 || updated.PDFMode != "vision" {
		t.Fatalf("unexpected snapshot after patch: %#v", updated)
	}
	if mgr.Get() != updated {
		t.Fatalf("Get() did not reflect the patched snapshot")
	}

	// unrelated fields must be untouched.
	if updated.EmbedBatchSize != want.EmbedBatchSize {
		t.Fatalf("unrelated field changed: %#v", updated)
	}
}

func TestManagerPatchRejectsUnrecognizedKey(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, NewMemoryPersister())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	before := mgr.Get()

	if _, err := mgr.Patch(ctx, map[string]any{"not_a_real_setting": 1}); err == nil {
		t.Fatalf("expected error for unrecognized setting")
	}
	if mgr.Get() != before {
		t.Fatalf("rejected patch must not mutate the snapshot")
	}
}

func TestManagerPatchRejectsBadValue(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, NewMemoryPersister())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Patch(ctx, map[string]any{"embed_batch_size": 0}); err == nil {
		t.Fatalf("expected error for embed_batch_size < 1")
	}
	if _, err := mgr.Patch(ctx, map[string]any{"pdf_mode": "jpeg"}); err == nil {
		t.Fatalf("expected error for invalid pdf_mode")
	}
}

func TestManagerPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryPersister()

	mgr1, err := NewManager(ctx, persister)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr1.Patch(ctx, map[string]any{"rag_chunk_size": 500, "pdf_one_chunk_per_page": true}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	mgr2, err := NewManager(ctx, persister)
	if err != nil {
		t.Fatalf("NewManager restart: %v", err)
	}
	got := mgr2.Get()
	if got.RAGChunkSize != 500 || !got.PDFOneChunkPerPage {
		t.Fatalf("expected persisted overrides to survive restart, got %#v", got)
	}
}
