package search

import (
	"context"
	"testing"
)

func TestRunMultiPathFusesVerifiedSubQueries(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`[{"has_answer":true,"confidence":0.8,"extracted_content":"answer A","source_ref":"docA"}]`,
		`[{"has_answer":true,"confidence":0.7,"extracted_content":"answer B","source_ref":"docB"}]`,
		"combined answer citing both",
	}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	seedChunk(t, e.Store, e.Vectors, "fa", "fa::fast::0", "quarterly revenue rose sharply this year")
	seedChunk(t, e.Store, e.Vectors, "fb", "fb::fast::0", "headcount grew across every region")

	var events []Event
	e.runMultiPath(context.Background(), "combined question", []string{"revenue question", "headcount question"}, nil, 5, func(ev Event) {
		events = append(events, ev)
	})

	var hitCount int
	var gotToken bool
	for _, ev := range events {
		if ev.Type == EventHits {
			if hits, ok := ev.Data.([]SearchHit); ok {
				hitCount = len(hits)
			}
		}
		if ev.Type == EventToken {
			gotToken = true
		}
	}
	if hitCount == 0 {
		t.Fatalf("expected fused hits from both sub-queries, events: %+v", events)
	}
	if !gotToken {
		t.Fatalf("expected a synthesized answer, events: %+v", events)
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("expected terminal done event, got %+v", events[len(events)-1])
	}
}

func TestRunMultiPathNoMatchingFilesTerminal(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`[{"has_answer":false,"confidence":0.1,"extracted_content":"","source_ref":""}]`,
	}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	var events []Event
	e.runMultiPath(context.Background(), "anything", []string{"sub one"}, nil, 5, func(ev Event) {
		events = append(events, ev)
	})

	var gotNoMatch bool
	for _, ev := range events {
		if ev.Type == EventStatus && ev.Data == "no matching files" {
			gotNoMatch = true
		}
	}
	if !gotNoMatch {
		t.Fatalf("expected the no-matching-files terminal status, events: %+v", events)
	}
}
