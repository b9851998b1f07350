package search

import (
	"context"
	"testing"

	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/storage"
)

func TestExtractMentions(t *testing.T) {
	cleaned, names := extractMentions(`what does @report say about @"q3 results"?`)
	if cleaned != "what does say about ?" {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if len(names) != 2 || names[0] != "q3 results" || names[1] != "report" {
		t.Fatalf("names = %v", names)
	}
}

func TestScopeIsolateNoFilter(t *testing.T) {
	store := storage.NewMemoryStore()
	cleaned, allow, filtered, err := ScopeIsolate(context.Background(), store, "plain query", nil)
	if err != nil {
		t.Fatalf("ScopeIsolate: %v", err)
	}
	if filtered {
		t.Fatalf("expected filtered=false")
	}
	if allow != nil {
		t.Fatalf("expected nil allow, got %v", allow)
	}
	if cleaned != "plain query" {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestScopeIsolateMentionResolvesFile(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.UpsertFile(ctx, model.FileRecord{FileID: "f1", Name: "Report.pdf"}); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	_, allow, filtered, err := ScopeIsolate(ctx, store, "summarize @report", nil)
	if err != nil {
		t.Fatalf("ScopeIsolate: %v", err)
	}
	if !filtered {
		t.Fatalf("expected filtered=true")
	}
	if len(allow) != 1 || allow[0] != "f1" {
		t.Fatalf("allow = %v", allow)
	}
}

func TestScopeIsolateEmptyAllowlistFromUnknownMention(t *testing.T) {
	store := storage.NewMemoryStore()
	_, allow, filtered, err := ScopeIsolate(context.Background(), store, "summarize @nosuchfile", nil)
	if err != nil {
		t.Fatalf("ScopeIsolate: %v", err)
	}
	if !filtered || len(allow) != 0 {
		t.Fatalf("expected filtered=true, empty allow; got filtered=%v allow=%v", filtered, allow)
	}
}

func TestScopeIsolateMentionAndFolderIntersect(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.UpsertFile(ctx, model.FileRecord{FileID: "f1", Name: "report.pdf", FolderID: "folderA"}); err != nil {
		t.Fatalf("UpsertFile f1: %v", err)
	}
	if err := store.UpsertFile(ctx, model.FileRecord{FileID: "f2", Name: "report.pdf", FolderID: "folderB"}); err != nil {
		t.Fatalf("UpsertFile f2: %v", err)
	}

	_, allow, filtered, err := ScopeIsolate(ctx, store, "summarize @report", []string{"folderA"})
	if err != nil {
		t.Fatalf("ScopeIsolate: %v", err)
	}
	if !filtered {
		t.Fatalf("expected filtered=true")
	}
	if len(allow) != 1 || allow[0] != "f1" {
		t.Fatalf("expected intersection to keep only f1, got %v", allow)
	}
}
