// Package search implements the Search Engine (C7): intent-routed,
// multi-pipeline retrieval and streamed answer synthesis, per spec.md
// §4.7. An Engine resolves scope isolation, routes intent (direct chat
// vs. retrieval, and single-query vs. decomposed), runs the Standard or
// MultiPath pipeline, and emits the result as a sequence of NDJSON
// events (§4.7.6) through an emit callback rather than owning the
// transport itself — the HTTP handler that drives WriteNDJSON is the
// only caller that knows about io.Writer/http.Flusher, mirroring how
// the teacher keeps its retrieval service (internal/rag/service) free
// of any HTTP concern and lets internal/agentd's handlers own framing.
package search

import (
	"context"
	"fmt"
	"time"

	"knowledgeworkspace/internal/config"
	"knowledgeworkspace/internal/llm"
	"knowledgeworkspace/internal/settings"
	"knowledgeworkspace/internal/storage"
	"knowledgeworkspace/internal/vectorstore"
)

// Engine wires C7 to its collaborators: C2 for keyword search and chunk
// hydration, C3 for vector search, and C8's embedding/rerank/LLM
// clients for the rest of the Standard pipeline. One Engine may be
// shared across concurrent Run calls; every field it holds is already
// safe for concurrent use by its own package's contract.
type Engine struct {
	Store        storage.Store
	Vectors      vectorstore.Store
	EmbedConfig  config.EmbeddingConfig
	RerankConfig config.RerankConfig
	Provider     llm.Provider
	Model        string
	Settings     *settings.Manager

	// MultiPathConcurrency bounds how many sub-queries the MultiPath
	// pipeline (§4.7.5) runs at once. Zero means the spec's recommended
	// default of 3.
	MultiPathConcurrency int
}

// Request is one search/QA call: the decoded body of POST /search,
// /search/stream, or /qa.
type Request struct {
	Query      string   `json:"query"`
	FolderIDs  []string `json:"folder_ids,omitempty"`
	SearchMode string   `json:"search_mode,omitempty"` // "", "direct", "knowledge"
	Mode       string   `json:"mode,omitempty"`        // payload.mode, e.g. "chat"
	Limit      int      `json:"limit,omitempty"`
}

// SearchHit is one verified, citable retrieval result carried by a
// "hits" event.
type SearchHit struct {
	ChunkID          string  `json:"chunk_id"`
	FileID           string  `json:"file_id"`
	Score            float64 `json:"score"`
	Snippet          string  `json:"snippet"`
	SourceRef        string  `json:"source_ref"`
	ExtractedContent string  `json:"extracted_content"`
	Confidence       float64 `json:"confidence"`
	SubQueryIndex    int     `json:"sub_query_index,omitempty"`
}

// Run executes one search/QA request end to end, emitting events via
// emit in the order spec.md §4.7.6 describes. Run always terminates
// with a "done" event, including on a query-time failure (§7: emit
// "error" then "done"; no partial hits are suppressed).
func (e *Engine) Run(ctx context.Context, req Request, emit func(Event)) {
	if req.SearchMode == "direct" || req.Mode == "chat" {
		// §4.7.2: forced bypass. No scope isolation, no thinking_step,
		// no hits — just a direct streamed answer.
		e.runDirect(ctx, req.Query, emit)
		return
	}

	limit := req.Limit
	if limit <= 0 && e.Settings != nil {
		limit = e.Settings.Get().SearchResultLimit
	}
	if limit <= 0 {
		limit = 10
	}

	emit(Event{Type: EventStatus, Data: "received"})

	cleaned, allow, filtered, err := ScopeIsolate(ctx, e.Store, req.Query, req.FolderIDs)
	if err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
		emit(Event{Type: EventDone, Data: nil})
		return
	}
	settingsVersion := 0
	if e.Settings != nil {
		settingsVersion = e.Settings.Version()
	}
	emit(Event{Type: EventThinkingStep, Data: ThinkingStep{
		ID: "scope", Title: "Scope isolation", Status: "done",
		Summary:         scopeSummary(filtered, allow),
		SettingsVersion: settingsVersion,
	}})

	if filtered && len(allow) == 0 {
		// An @mention or folder_ids filter resolved to nothing: §4.7.1
		// treats this as "no results" without ever reaching the LLM.
		e.emitNoResults(emit, "no matching files")
		return
	}

	intent, _ := e.classifyIntent(ctx, cleaned)
	emit(thinkingStepDone("intent", "Classify intent",
		fmt.Sprintf("intent=%s call_tools=%v", intent.Intent, intent.CallTools), 0))

	if req.SearchMode != "knowledge" && !intent.CallTools {
		e.runDirect(ctx, req.Query, emit)
		return
	}

	decomp, _ := e.decompose(ctx, cleaned)
	if decomp.NeedsDecomposition && len(decomp.SubQueries) > 0 {
		e.runMultiPath(ctx, cleaned, decomp.SubQueries, allow, limit, emit)
		return
	}
	e.runStandard(ctx, cleaned, allow, limit, emit)
}

func (e *Engine) emitNoResults(emit func(Event), status string) {
	emit(Event{Type: EventStatus, Data: status})
	emit(Event{Type: EventHits, Data: []SearchHit{}})
	emit(Event{Type: EventToken, Data: "I couldn't find any relevant documents."})
	emit(Event{Type: EventDone, Data: status})
}

func scopeSummary(filtered bool, allow []string) string {
	if !filtered {
		return "no scope restriction"
	}
	return fmt.Sprintf("restricted to %d file(s)", len(allow))
}

func thinkingStepDone(id, title, summary string, elapsed time.Duration) Event {
	return Event{Type: EventThinkingStep, Data: ThinkingStep{
		ID: id, Title: title, Status: "done", Summary: summary, DurationMS: elapsed.Milliseconds(),
	}}
}

func thinkingStepRunning(id, title string) Event {
	return Event{Type: EventThinkingStep, Data: ThinkingStep{ID: id, Title: title, Status: "running"}}
}
