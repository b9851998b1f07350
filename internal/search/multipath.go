package search

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultMultiPathConcurrency is spec.md §4.7.5's recommended bound on
// how many sub-queries run their own Standard pipeline at once.
const defaultMultiPathConcurrency = 3

// runMultiPath implements the MultiPath pipeline (§4.7.5): each
// sub-query runs its own Standard-pipeline retrieve independently,
// bounded to e.MultiPathConcurrency concurrent sub-pipelines (grounded
// on internal/scheduler's errgroup.SetLimit fan-out), and the verified
// chunks from every sub-query are fused into one cited synthesis call.
func (e *Engine) runMultiPath(ctx context.Context, query string, subQueries []string, allow []string, limit int, emit func(Event)) {
	emit(Event{Type: EventStatus, Data: "retrieving"})

	limitPerSub := limit
	if limitPerSub <= 0 {
		limitPerSub = 10
	}
	concurrency := e.MultiPathConcurrency
	if concurrency <= 0 {
		concurrency = defaultMultiPathConcurrency
	}

	var mu sync.Mutex
	safeEmit := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}

	results := make([][]*candidate, len(subQueries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, sq := range subQueries {
		i, sq := i, sq
		g.Go(func() error {
			safeEmit(thinkingStepRunning(fmt.Sprintf("sub_query_%d", i), fmt.Sprintf("Sub-query %d: %s", i+1, sq)))
			verified, err := e.retrieve(gctx, sq, allow, limitPerSub, func(Event) {})
			if err != nil {
				safeEmit(Event{Type: EventThinkingStep, Data: ThinkingStep{
					ID: fmt.Sprintf("sub_query_%d", i), Title: fmt.Sprintf("Sub-query %d", i+1),
					Status: "error", Summary: err.Error(),
				}})
				return nil
			}
			for _, c := range verified {
				c.SubQueryIndex = i
				c.SourceRef = fmt.Sprintf("sub-query %d: %s", i+1, c.SourceRef)
			}
			safeEmit(thinkingStepDone(fmt.Sprintf("sub_query_%d", i), fmt.Sprintf("Sub-query %d", i+1),
				fmt.Sprintf("%d confirmed", len(verified)), 0))
			results[i] = verified
			return nil
		})
	}
	_ = g.Wait()

	var all []*candidate
	for _, r := range results {
		all = append(all, r...)
	}

	if len(all) == 0 {
		e.emitNoResults(emit, "no matching files")
		return
	}

	emit(Event{Type: EventHits, Data: toHits(all)})
	emit(Event{Type: EventStatus, Data: "answering"})
	if err := e.synthesize(ctx, query, all, emit); err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
	}
	emit(Event{Type: EventDone, Data: nil})
}
