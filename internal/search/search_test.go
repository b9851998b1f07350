package search

import (
	"context"
	"testing"

	"knowledgeworkspace/internal/model"
)

func TestRunDirectModeEmitsNoPrecedingEvents(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"hi there"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	var events []Event
	e.Run(context.Background(), Request{Query: "hello", SearchMode: "direct"}, func(ev Event) {
		events = append(events, ev)
	})

	for _, ev := range events {
		if ev.Type == EventThinkingStep || ev.Type == EventHits {
			t.Fatalf("forced-direct mode must not emit %s events, got %+v", ev.Type, events)
		}
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("expected final event to be done, got %+v", events[len(events)-1])
	}

	var gotToken bool
	for _, ev := range events {
		if ev.Type == EventToken && ev.Data == "hi there" {
			gotToken = true
		}
	}
	if !gotToken {
		t.Fatalf("expected a token event carrying the streamed answer, got %+v", events)
	}
}

func TestRunChatModePayloadForcesDirect(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"direct reply"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	var events []Event
	e.Run(context.Background(), Request{Query: "hi", Mode: "chat"}, func(ev Event) {
		events = append(events, ev)
	})
	for _, ev := range events {
		if ev.Type == EventThinkingStep {
			t.Fatalf("mode=chat must bypass retrieval, got thinking_step event")
		}
	}
}

func TestRunMentionWithNoMatchReturnsNoResultsWithoutLLMCall(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"should not be used"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	var events []Event
	e.Run(context.Background(), Request{Query: "summarize @nosuchfile"}, func(ev Event) {
		events = append(events, ev)
	})

	if provider.calls != 0 {
		t.Fatalf("expected zero LLM calls on empty allowlist short-circuit, got %d", provider.calls)
	}

	var gotNoResultsToken bool
	for _, ev := range events {
		if ev.Type == EventToken {
			gotNoResultsToken = true
		}
	}
	if !gotNoResultsToken {
		t.Fatalf("expected a polite no-results token event, got %+v", events)
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("expected terminal done event, got %+v", events[len(events)-1])
	}
}

func TestRunStandardPipelineEndToEnd(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"intent":"document","call_tools":true}`,
		`{"needs_decomposition":false,"sub_queries":[],"strategy":""}`,
		`[{"has_answer":true,"confidence":0.9,"extracted_content":"widgets ship quarterly","source_ref":"doc1"}]`,
		"widgets ship every quarter [1]",
	}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	seedChunk(t, e.Store, e.Vectors, "f1", "f1::fast::0", "our widgets ship every quarter on schedule")

	var events []Event
	e.Run(context.Background(), Request{Query: "when do widgets ship", Limit: 5}, func(ev Event) {
		events = append(events, ev)
	})

	var gotHits, gotToken bool
	for _, ev := range events {
		switch ev.Type {
		case EventHits:
			hits, ok := ev.Data.([]SearchHit)
			if ok && len(hits) == 1 {
				gotHits = true
			}
		case EventToken:
			gotToken = true
		}
	}
	if !gotHits {
		t.Fatalf("expected one verified hit, events: %+v", events)
	}
	if !gotToken {
		t.Fatalf("expected synthesized answer tokens, events: %+v", events)
	}
}

func TestScopeSummary(t *testing.T) {
	if got := scopeSummary(false, nil); got != "no scope restriction" {
		t.Fatalf("scopeSummary(false, nil) = %q", got)
	}
	if got := scopeSummary(true, []string{"a", "b"}); got != "restricted to 2 file(s)" {
		t.Fatalf("scopeSummary(true, ...) = %q", got)
	}
}

func TestChunkVersion(t *testing.T) {
	if got := chunkVersion("f1::deep::page_3"); got != model.VersionDeep {
		t.Fatalf("chunkVersion = %q", got)
	}
	if got := chunkVersion("no-delimiters"); got != model.VersionFast {
		t.Fatalf("chunkVersion fallback = %q", got)
	}
}
