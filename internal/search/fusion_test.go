package search

import (
	"testing"

	"knowledgeworkspace/internal/storage"
	"knowledgeworkspace/internal/vectorstore"
)

func TestFuseRRFOrdersByReciprocalRank(t *testing.T) {
	keyword := []storage.SearchResult{
		{ChunkID: "f1::fast::0", Score: 9, Snippet: "kw only top"},
		{ChunkID: "f2::fast::0", Score: 5, Snippet: "kw + vec"},
	}
	vector := []vectorstore.SearchResult{
		{DocID: "f2::fast::0", Score: 0.9, Metadata: map[string]any{"file_id": "f2"}},
		{DocID: "f3::fast::0", Score: 0.5, Metadata: map[string]any{"file_id": "f3"}},
	}

	out := fuseRRF(keyword, vector)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(out))
	}
	// f2 appears in both lists at rank 1 each, giving it the highest
	// fused score; f1 and f3 each appear in only one list at rank 1.
	if out[0].ChunkID != "f2::fast::0" {
		t.Fatalf("expected f2 chunk ranked first, got %q", out[0].ChunkID)
	}
	if out[0].FileID != "f2" {
		t.Fatalf("expected FileID=f2 from vector metadata, got %q", out[0].FileID)
	}
}

func TestFuseRRFDeduplicatesByChunkID(t *testing.T) {
	keyword := []storage.SearchResult{{ChunkID: "f1::fast::0", Snippet: "hit"}}
	vector := []vectorstore.SearchResult{{DocID: "f1::fast::0", Score: 1, Metadata: map[string]any{"file_id": "f1"}}}

	out := fuseRRF(keyword, vector)
	if len(out) != 1 {
		t.Fatalf("expected a single deduplicated candidate, got %d", len(out))
	}
	if out[0].KeywordRank != 1 || out[0].VectorRank != 1 {
		t.Fatalf("expected both ranks recorded, got kw=%d vec=%d", out[0].KeywordRank, out[0].VectorRank)
	}
}

func TestFuseRRFTieBreaksByChunkID(t *testing.T) {
	keyword := []storage.SearchResult{
		{ChunkID: "b::fast::0"},
		{ChunkID: "a::fast::0"},
	}
	out := fuseRRF(keyword, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	// Both present only in keyword results, but "b" ranks ahead of "a"
	// (rank 1 vs rank 2), so fused score alone decides, not id order.
	if out[0].ChunkID != "b::fast::0" {
		t.Fatalf("expected rank to dominate tie-break, got %q first", out[0].ChunkID)
	}
}

func TestFileIDFromChunkID(t *testing.T) {
	if got := fileIDFromChunkID("file-123::deep::page_4"); got != "file-123" {
		t.Fatalf("fileIDFromChunkID = %q", got)
	}
	if got := fileIDFromChunkID("nodelimiter"); got != "nodelimiter" {
		t.Fatalf("fileIDFromChunkID fallback = %q", got)
	}
}
