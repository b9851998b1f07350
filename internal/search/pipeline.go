package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"knowledgeworkspace/internal/embedding"
	"knowledgeworkspace/internal/llm"
	"knowledgeworkspace/internal/llmclient"
	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/rerankclient"
	"knowledgeworkspace/internal/vectorstore"
)

// verifyBatchSize is how many candidate chunks go into a single
// verification call, per spec.md §4.7.4 step 4's "small batches".
const verifyBatchSize = 3

// runStandard runs the Standard pipeline (spec.md §4.7.4) once for
// query and streams its hits/synthesis.
func (e *Engine) runStandard(ctx context.Context, query string, allow []string, limit int, emit func(Event)) {
	emit(Event{Type: EventStatus, Data: "retrieving"})
	verified, err := e.retrieve(ctx, query, allow, limit, emit)
	if err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
		emit(Event{Type: EventDone, Data: nil})
		return
	}

	emit(Event{Type: EventHits, Data: toHits(verified)})
	emit(Event{Type: EventStatus, Data: "answering"})
	if err := e.synthesize(ctx, query, verified, emit); err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
	}
	emit(Event{Type: EventDone, Data: nil})
}

// runDirect streams a direct LLM answer with no retrieval at all, per
// spec.md §4.7.2's forced-bypass path.
func (e *Engine) runDirect(ctx context.Context, query string, emit func(Event)) {
	emit(Event{Type: EventStatus, Data: "answering"})
	msgs := []llm.Message{
		{Role: "system", Content: "You are a helpful assistant having a direct conversation. No document retrieval was performed for this turn; answer from general knowledge."},
		{Role: "user", Content: query},
	}
	for ev := range llmclient.Stream(ctx, e.Provider, msgs, nil, e.Model, 0) {
		switch ev.Kind {
		case llmclient.EventDelta:
			emit(Event{Type: EventToken, Data: ev.Delta})
		case llmclient.EventDone:
			if ev.Err != nil {
				emit(Event{Type: EventError, Data: ev.Err.Error()})
			}
		}
	}
	emit(Event{Type: EventDone, Data: nil})
}

// retrieve runs one Standard-pipeline pass (§4.7.4 steps 1-5) for a
// single query string and returns the candidates that passed
// verification: has_answer=true and confidence>=0.5. It emits a
// thinking_step for every stage.
func (e *Engine) retrieve(ctx context.Context, query string, allow []string, limit int, emit func(Event)) ([]*candidate, error) {
	k := limit * 4
	if k <= 0 {
		k = 40
	}

	emit(thinkingStepRunning("keyword_search", "Keyword search"))
	start := time.Now()
	kwHits, err := e.Store.KeywordSearch(ctx, query, k, allow)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	emit(thinkingStepDone("keyword_search", "Keyword search", fmt.Sprintf("%d hits", len(kwHits)), time.Since(start)))

	emit(thinkingStepRunning("vector_search", "Vector search"))
	start = time.Now()
	vecHits, err := e.vectorSearch(ctx, query, k, allow)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	emit(thinkingStepDone("vector_search", "Vector search", fmt.Sprintf("%d hits", len(vecHits)), time.Since(start)))

	start = time.Now()
	fused := fuseRRF(kwHits, vecHits)
	emit(thinkingStepDone("fuse", "Fuse candidates (RRF)", fmt.Sprintf("%d unique chunks", len(fused)), time.Since(start)))
	if len(fused) == 0 {
		return nil, nil
	}

	if err := e.hydrate(ctx, fused); err != nil {
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}

	rerankLimit := limit * 2
	if rerankLimit <= 0 {
		rerankLimit = 20
	}
	start = time.Now()
	reranked, err := e.rerank(ctx, query, fused, rerankLimit)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	emit(thinkingStepDone("rerank", "Rerank candidates", fmt.Sprintf("kept %d", len(reranked)), time.Since(start)))

	start = time.Now()
	verified, err := e.verify(ctx, query, reranked)
	if err != nil {
		return nil, fmt.Errorf("verify candidates: %w", err)
	}
	emit(thinkingStepDone("verify", "Verify candidates", fmt.Sprintf("%d confirmed", len(verified)), time.Since(start)))

	return verified, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, k int, allow []string) ([]vectorstore.SearchResult, error) {
	vecs, err := embedding.EmbedText(ctx, e.EmbedConfig, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return e.Vectors.Search(ctx, vecs[0], k, vectorstore.Filter{FileIDs: allow})
}

// hydrate fills in each candidate's FileID/Text/Snippet from the chunk
// store, grouping lookups by (file_id, version) decoded from the chunk
// id so a batch of candidates spanning many files costs one GetChunks
// call per (file, version) pair rather than one per chunk.
func (e *Engine) hydrate(ctx context.Context, candidates []*candidate) error {
	type key struct {
		fileID  string
		version model.ChunkVersion
	}
	groups := make(map[key][]string)
	for _, c := range candidates {
		groups[key{c.FileID, chunkVersion(c.ChunkID)}] = append(groups[key{c.FileID, chunkVersion(c.ChunkID)}], c.ChunkID)
	}

	lookup := make(map[string]model.ChunkSnapshot)
	for k := range groups {
		if k.fileID == "" {
			continue
		}
		chunks, err := e.Store.GetChunks(ctx, k.fileID, k.version)
		if err != nil {
			return err
		}
		for _, ch := range chunks {
			lookup[ch.ChunkID] = ch
		}
	}

	for _, c := range candidates {
		if ch, ok := lookup[c.ChunkID]; ok {
			c.Text = ch.Text
			if c.Snippet == "" {
				c.Snippet = ch.Snippet
			}
		}
	}
	return nil
}

func chunkVersion(chunkID string) model.ChunkVersion {
	parts := strings.SplitN(chunkID, "::", 3)
	if len(parts) < 2 {
		return model.VersionFast
	}
	return model.ChunkVersion(parts[1])
}

// rerank scores fused's candidates against query with C8's reranker and
// returns the top keep, in reranked order. rerankclient.Rerank no-ops
// to the input order when no rerank endpoint is configured, so this
// degrades to "keep the RRF order" in dev.
func (e *Engine) rerank(ctx context.Context, query string, fused []*candidate, keep int) ([]*candidate, error) {
	docs := make([]string, len(fused))
	for i, c := range fused {
		docs[i] = rerankText(c)
	}
	results, err := rerankclient.Rerank(ctx, e.RerankConfig, query, docs)
	if err != nil {
		return nil, err
	}
	out := make([]*candidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(fused) {
			continue
		}
		c := fused[r.Index]
		c.RerankScore = r.Score
		out = append(out, c)
	}
	if keep > 0 && len(out) > keep {
		out = out[:keep]
	}
	return out, nil
}

func rerankText(c *candidate) string {
	if c.Text != "" {
		return c.Text
	}
	return c.Snippet
}

// verifyResult is one candidate's judgment, per spec.md §4.7.4 step 4.
type verifyResult struct {
	HasAnswer        bool    `json:"has_answer"`
	Confidence       float64 `json:"confidence"`
	ExtractedContent string  `json:"extracted_content"`
	SourceRef        string  `json:"source_ref"`
}

// verify judges candidates in small batches and returns only those
// with has_answer=true and confidence>=0.5 (§4.7.4 step 5).
func (e *Engine) verify(ctx context.Context, query string, candidates []*candidate) ([]*candidate, error) {
	var verified []*candidate
	for start := 0; start < len(candidates); start += verifyBatchSize {
		end := start + verifyBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		results, err := e.verifyBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		for i, c := range batch {
			if i >= len(results) {
				break
			}
			r := results[i]
			c.HasAnswer = r.HasAnswer
			c.Confidence = r.Confidence
			c.ExtractedContent = r.ExtractedContent
			c.SourceRef = r.SourceRef
			if c.SourceRef == "" {
				c.SourceRef = c.ChunkID
			}
			if r.HasAnswer && r.Confidence >= 0.5 {
				verified = append(verified, c)
			}
		}
	}
	return verified, nil
}

func (e *Engine) verifyBatch(ctx context.Context, query string, batch []*candidate) ([]verifyResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, c := range batch {
		text := c.Text
		if text == "" {
			text = c.Snippet
		}
		fmt.Fprintf(&b, "Chunk %d (source: %s):\n%s\n\n", i+1, c.ChunkID, text)
	}
	b.WriteString("For each numbered chunk above, judge whether it answers the query. " +
		"Respond with a JSON array, one object per chunk in the same order, each shaped exactly as " +
		`{"has_answer":bool,"confidence":number between 0 and 1,"extracted_content":string,"source_ref":string}. ` +
		"extracted_content is the relevant excerpt verbatim, or empty when has_answer is false. " +
		"source_ref should identify where the excerpt came from. Respond with the JSON array only.")

	msgs := []llm.Message{
		{Role: "system", Content: "You are a careful document verification assistant. You only ever respond with JSON."},
		{Role: "user", Content: b.String()},
	}
	out, err := llmclient.Collect(ctx, e.Provider, msgs, nil, e.Model)
	if err != nil {
		return nil, err
	}

	var results []verifyResult
	if jerr := json.Unmarshal([]byte(extractJSONArray(out.Text)), &results); jerr != nil {
		// A malformed verification response degrades to "nothing in
		// this batch answers the query" rather than failing the whole
		// pipeline, per spec.md §7's query-time error policy.
		results = make([]verifyResult, len(batch))
	}
	return results, nil
}

// synthesize streams the final answer from verified candidates' source
// text via the synthesis component's simple-aggregation prompt
// (§4.7.4 step 6). An empty verified list streams the polite
// no-results completion spec.md §7 calls out as not an error.
func (e *Engine) synthesize(ctx context.Context, query string, verified []*candidate, emit func(Event)) error {
	if len(verified) == 0 {
		emit(Event{Type: EventToken, Data: "I couldn't find any relevant documents."})
		return nil
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the sources below. Cite sources inline like [1], [2] matching the numbering. If the sources do not contain the answer, say so plainly.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, c := range verified {
		fmt.Fprintf(&b, "[%d] (source: %s)\n%s\n\n", i+1, c.SourceRef, c.ExtractedContent)
	}

	msgs := []llm.Message{
		{Role: "system", Content: "You are a precise research assistant that answers strictly from the provided sources."},
		{Role: "user", Content: b.String()},
	}
	for ev := range llmclient.Stream(ctx, e.Provider, msgs, nil, e.Model, 0) {
		switch ev.Kind {
		case llmclient.EventDelta:
			emit(Event{Type: EventToken, Data: ev.Delta})
		case llmclient.EventDone:
			if ev.Err != nil {
				return ev.Err
			}
		}
	}
	return nil
}

func toHits(candidates []*candidate) []SearchHit {
	hits := make([]SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = SearchHit{
			ChunkID:          c.ChunkID,
			FileID:           c.FileID,
			Score:            c.Fused,
			Snippet:          c.Snippet,
			SourceRef:        c.SourceRef,
			ExtractedContent: c.ExtractedContent,
			Confidence:       c.Confidence,
			SubQueryIndex:    c.SubQueryIndex,
		}
	}
	return hits
}

// extractJSONArray returns the first top-level JSON array substring in
// s, tolerating prose or a code fence wrapped around the model's
// response, the same defensive pattern as internal/indexing/deep's
// stripCodeFence for VLM output.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

// extractJSONObject is extractJSONArray's counterpart for a top-level
// JSON object response.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
