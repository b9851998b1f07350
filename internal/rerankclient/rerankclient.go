// Package rerankclient calls an OpenAI-compatible /rerank endpoint,
// following the same plain-HTTP shape as internal/embedding's
// embeddings client.
package rerankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"knowledgeworkspace/internal/config"
)

// Result is one reranked document, ordered by Score descending on
// return.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankReq struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResp struct {
	Results []Result `json:"results"`
}

// Rerank scores documents against query and returns results sorted by
// Score descending. Returns the input order unscored (Score=0) if
// cfg.BaseURL is empty, so callers can no-op rerank in dev without a
// configured endpoint.
func Rerank(ctx context.Context, cfg config.RerankConfig, query string, documents []string) ([]Result, error) {
	if cfg.BaseURL == "" {
		out := make([]Result, len(documents))
		for i := range documents {
			out[i] = Result{Index: i}
		}
		return out, nil
	}
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(rerankReq{Model: cfg.Model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	timeout := config.ClientTimeout(cfg.Timeout, 30*time.Second)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, cfg.BaseURL+cfg.Path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("rerank error: %s: %s", resp.Status, string(body))
	}

	var rr rerankResp
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	sortByScoreDesc(rr.Results)
	return rr.Results, nil
}

func sortByScoreDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// CheckReachability verifies the rerank endpoint responds to a trivial
// request.
func CheckReachability(ctx context.Context, cfg config.RerankConfig) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("rerank endpoint not configured")
	}
	_, err := Rerank(ctx, cfg, "ping", []string{"a", "b"})
	if err != nil {
		return fmt.Errorf("rerank endpoint reachability check failed: %w", err)
	}
	return nil
}
