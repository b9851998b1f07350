package rerankclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"knowledgeworkspace/internal/config"
)

func TestRerankNoBaseURLPassesThroughUnscored(t *testing.T) {
	results, err := Rerank(context.Background(), config.RerankConfig{}, "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i || r.Score != 0 {
			t.Fatalf("expected passthrough order with zero score, got %#v", r)
		}
	}
}

func TestRerankSortsByScoreDescending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResp{Results: []Result{
			{Index: 0, Score: 0.2},
			{Index: 1, Score: 0.9},
			{Index: 2, Score: 0.5},
		}})
	}))
	defer srv.Close()

	cfg := config.RerankConfig{BaseURL: srv.URL, Path: "/rerank", Model: "test"}
	results, err := Rerank(context.Background(), cfg, "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Index != 1 || results[1].Index != 2 || results[2].Index != 0 {
		t.Fatalf("expected descending score order, got %#v", results)
	}
}

func TestRerankErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	cfg := config.RerankConfig{BaseURL: srv.URL, Path: "/rerank"}
	if _, err := Rerank(context.Background(), cfg, "q", []string{"a"}); err == nil {
		t.Fatalf("expected error on 5xx response")
	}
}
