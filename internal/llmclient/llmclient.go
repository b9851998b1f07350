// Package llmclient wraps llm.Provider's callback-based ChatStream into a
// channel of discrete events, following the teacher's own pattern of
// forwarding a StreamHandler's callbacks into a buffered channel from a
// background goroutine (internal/tui/model.go's runStreamingEngine: an
// OnDelta callback that does a non-blocking send into streamingDeltaCh,
// with the channel closed once the provider call returns).
package llmclient

import (
	"context"
	"fmt"

	"knowledgeworkspace/internal/llm"
)

// EventKind discriminates the union carried by Event.
type EventKind int

const (
	EventDelta EventKind = iota
	EventToolCall
	EventImage
	EventThoughtSummary
	EventDone
)

// Event is one item in the stream a Stream call returns. Exactly one of
// Delta/ToolCall/Image/ThoughtSummary/Err is meaningful, selected by Kind.
// A Kind of EventDone is always the last event sent, whether the run
// succeeded or failed; Err is set only on failure.
type Event struct {
	Kind           EventKind
	Delta          string
	ToolCall       llm.ToolCall
	Image          llm.GeneratedImage
	ThoughtSummary string
	Err            error
}

// channelHandler adapts llm.StreamHandler to forward every callback onto
// a channel. Sends block: callers that want to discard backpressure
// should read Stream's channel on its own goroutine, same as the teacher
// does in its TUI (non-blocking sends there exist only because the TUI
// has other work to get on with between redraws; a dedicated consumer
// goroutine here has no such constraint).
type channelHandler struct {
	ch chan Event
}

func (h *channelHandler) OnDelta(content string) {
	h.ch <- Event{Kind: EventDelta, Delta: content}
}

func (h *channelHandler) OnToolCall(tc llm.ToolCall) {
	h.ch <- Event{Kind: EventToolCall, ToolCall: tc}
}

func (h *channelHandler) OnImage(img llm.GeneratedImage) {
	h.ch <- Event{Kind: EventImage, Image: img}
}

func (h *channelHandler) OnThoughtSummary(summary string) {
	h.ch <- Event{Kind: EventThoughtSummary, ThoughtSummary: summary}
}

// Stream runs provider.ChatStream in a background goroutine and returns a
// channel of the events it produces, in order, terminated by a single
// EventDone event. The goroutine observes ctx cancellation the same way
// the underlying provider does; Stream itself never blocks.
//
// This is the channel-shaped alternative to implementing llm.StreamHandler
// directly: callers that want "for event := range ch" instead of a
// callback interface use this, per the streaming design used for C7's
// search/QA event feed.
func Stream(ctx context.Context, provider llm.Provider, msgs []llm.Message, tools []llm.ToolSchema, model string, bufferSize int) <-chan Event {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	ch := make(chan Event, bufferSize)
	h := &channelHandler{ch: ch}

	go func() {
		defer close(ch)
		err := provider.ChatStream(ctx, msgs, tools, model, h)
		ch <- Event{Kind: EventDone, Err: err}
	}()

	return ch
}

// Collect drains a Stream channel into a single assembled response,
// concatenating deltas and gathering tool calls/images/thought summaries.
// It is a convenience for callers that already have ChatStream's
// non-streaming shape (e.g. Chat) but want to build it on top of Stream
// rather than duplicating provider wiring.
type Collected struct {
	Text           string
	ToolCalls      []llm.ToolCall
	Images         []llm.GeneratedImage
	ThoughtSummary string
}

func Collect(ctx context.Context, provider llm.Provider, msgs []llm.Message, tools []llm.ToolSchema, model string) (Collected, error) {
	var out Collected
	for ev := range Stream(ctx, provider, msgs, tools, model, 0) {
		switch ev.Kind {
		case EventDelta:
			out.Text += ev.Delta
		case EventToolCall:
			out.ToolCalls = append(out.ToolCalls, ev.ToolCall)
		case EventImage:
			out.Images = append(out.Images, ev.Image)
		case EventThoughtSummary:
			out.ThoughtSummary += ev.ThoughtSummary
		case EventDone:
			if ev.Err != nil {
				return out, fmt.Errorf("chat stream: %w", ev.Err)
			}
		}
	}
	return out, nil
}
