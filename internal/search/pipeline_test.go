package search

import (
	"context"
	"testing"
)

func TestVerifyFiltersByConfidenceThreshold(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`[{"has_answer":true,"confidence":0.9,"extracted_content":"keep me","source_ref":"d1"},` +
			`{"has_answer":true,"confidence":0.2,"extracted_content":"drop me","source_ref":"d2"},` +
			`{"has_answer":false,"confidence":0.95,"extracted_content":"drop me too","source_ref":"d3"}]`,
	}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	candidates := []*candidate{
		{ChunkID: "c1", FileID: "f1", Text: "a"},
		{ChunkID: "c2", FileID: "f1", Text: "b"},
		{ChunkID: "c3", FileID: "f1", Text: "c"},
	}
	verified, err := e.verify(context.Background(), "query", candidates)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(verified) != 1 || verified[0].ChunkID != "c1" {
		t.Fatalf("expected only c1 to survive verification, got %+v", verified)
	}
}

func TestVerifyDegradesOnMalformedJSON(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"not json at all"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	candidates := []*candidate{{ChunkID: "c1", FileID: "f1", Text: "a"}}
	verified, err := e.verify(context.Background(), "query", candidates)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(verified) != 0 {
		t.Fatalf("expected malformed verification output to drop all candidates, got %+v", verified)
	}
}

func TestSynthesizeEmptyVerifiedIsPoliteNotError(t *testing.T) {
	provider := &scriptedProvider{}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	var events []Event
	err := e.synthesize(context.Background(), "query", nil, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("expected no LLM call for the empty-verified fallback, got %d calls", provider.calls)
	}
	if len(events) != 1 || events[0].Type != EventToken {
		t.Fatalf("expected a single polite token event, got %+v", events)
	}
}

func TestToHitsCarriesSubQueryIndex(t *testing.T) {
	candidates := []*candidate{{ChunkID: "c1", FileID: "f1", SubQueryIndex: 2, Confidence: 0.8}}
	hits := toHits(candidates)
	if len(hits) != 1 || hits[0].SubQueryIndex != 2 {
		t.Fatalf("toHits = %+v", hits)
	}
}

func TestExtractJSONArrayToleratesCodeFence(t *testing.T) {
	in := "```json\n[{\"has_answer\":true}]\n```"
	if got := extractJSONArray(in); got != `[{"has_answer":true}]` {
		t.Fatalf("extractJSONArray = %q", got)
	}
}

func TestExtractJSONObjectToleratesProse(t *testing.T) {
	in := `sure, here you go: {"intent":"document","call_tools":true} hope that helps`
	if got := extractJSONObject(in); got != `{"intent":"document","call_tools":true}` {
		t.Fatalf("extractJSONObject = %q", got)
	}
}
