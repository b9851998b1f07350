package storage

import (
	"context"
	"testing"

	"knowledgeworkspace/internal/model"
)

func TestMemoryStoreFileLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := model.FileRecord{FileID: "f1", Path: "/a/report.pdf", Name: "report.pdf", Extension: "pdf", FolderID: "folder1"}
	if err := store.UpsertFile(ctx, rec); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	got, ok, err := store.GetFile(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("GetFile: ok=%v err=%v", ok, err)
	}
	if got.Name != "report.pdf" {
		t.Fatalf("unexpected file: %#v", got)
	}

	fast := model.StageText
	if err := store.UpdateFileStage(ctx, "f1", StageUpdate{FastStage: &fast}); err != nil {
		t.Fatalf("UpdateFileStage: %v", err)
	}
	got, _, _ = store.GetFile(ctx, "f1")
	if got.FastStage != model.StageText {
		t.Fatalf("expected FastStage=%d, got %d", model.StageText, got.FastStage)
	}

	matches, err := store.FindFilesByName(ctx, "report")
	if err != nil {
		t.Fatalf("FindFilesByName: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected name-without-extension match, got %d", len(matches))
	}
	matches, err = store.FindFilesByName(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("FindFilesByName exact: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exact-name match, got %d", len(matches))
	}

	inFolder, err := store.GetFilesInFolder(ctx, "folder1")
	if err != nil {
		t.Fatalf("GetFilesInFolder: %v", err)
	}
	if len(inFolder) != 1 {
		t.Fatalf("expected 1 file in folder1, got %d", len(inFolder))
	}

	attempt, err := store.IncrementAttempt(ctx, "f1")
	if err != nil || attempt != 1 {
		t.Fatalf("IncrementAttempt: attempt=%d err=%v", attempt, err)
	}
	attempt, _ = store.IncrementAttempt(ctx, "f1")
	if attempt != 2 {
		t.Fatalf("expected attempt=2, got %d", attempt)
	}
	if err := store.ResetAttempts(ctx, "f1"); err != nil {
		t.Fatalf("ResetAttempts: %v", err)
	}
	got, _, _ = store.GetFile(ctx, "f1")
	if got.AttemptCount != 0 {
		t.Fatalf("expected AttemptCount reset to 0, got %d", got.AttemptCount)
	}
}

func TestMemoryStoreUpsertFilePreservesStageTimestamps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := model.FileRecord{FileID: "f1", Name: "a.txt"}
	if err := store.UpsertFile(ctx, rec); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	fast := model.StageText
	if err := store.UpdateFileStage(ctx, "f1", StageUpdate{FastStage: &fast}); err != nil {
		t.Fatalf("UpdateFileStage: %v", err)
	}
	before, _, _ := store.GetFile(ctx, "f1")
	if before.FastTextAt != nil {
		t.Fatalf("expected FastTextAt unset before explicit stamp")
	}

	if err := store.UpsertFile(ctx, model.FileRecord{FileID: "f1", Name: "a-renamed.txt"}); err != nil {
		t.Fatalf("UpsertFile re-upsert: %v", err)
	}
	after, _, _ := store.GetFile(ctx, "f1")
	if after.Name != "a-renamed.txt" {
		t.Fatalf("expected name updated, got %s", after.Name)
	}
	if after.FastStage != model.StageText {
		t.Fatalf("re-upsert without stage fields should not reset stage progress, got %d", after.FastStage)
	}
}

func TestMemoryStoreChunksAndKeywordSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	chunks := []model.ChunkSnapshot{
		{ChunkID: "c1", FileID: "f1", Ordinal: 0, Text: "the quick brown fox", Snippet: "quick brown"},
		{ChunkID: "c2", FileID: "f1", Ordinal: 1, Text: "jumps over the lazy dog", Snippet: "lazy dog"},
	}
	if err := store.ReplaceChunks(ctx, "f1", chunks, model.VersionFast); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	got, err := store.GetChunks(ctx, "f1", model.VersionFast)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}

	// replacing again must fully overwrite, not append.
	if err := store.ReplaceChunks(ctx, "f1", chunks[:1], model.VersionFast); err != nil {
		t.Fatalf("ReplaceChunks again: %v", err)
	}
	got, _ = store.GetChunks(ctx, "f1", model.VersionFast)
	if len(got) != 1 {
		t.Fatalf("expected ReplaceChunks to overwrite rather than append, got %d chunks", len(got))
	}

	results, err := store.KeywordSearch(ctx, "fox", 10, nil)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("expected c1 match for 'fox', got %#v", results)
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.UpsertFile(ctx, model.FileRecord{FileID: "f1", FolderID: "folder1"})
	store.UpsertFile(ctx, model.FileRecord{FileID: "f2", FolderID: "folder1"})
	store.UpsertFile(ctx, model.FileRecord{FileID: "f3", FolderID: "folder2"})

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Files != 3 || counts.Folders != 2 {
		t.Fatalf("unexpected counts: %#v", counts)
	}
}
