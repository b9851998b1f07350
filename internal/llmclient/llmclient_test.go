package llmclient

import (
	"context"
	"errors"
	"testing"

	"knowledgeworkspace/internal/llm"
)

// fakeProvider is a minimal llm.Provider test double, in the same shape
// as the teacher's internal/testhelpers.FakeProvider: a fixed sequence of
// stream callbacks plus an optional error.
type fakeProvider struct {
	deltas    []string
	toolCalls []llm.ToolCall
	err       error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	for _, d := range f.deltas {
		h.OnDelta(d)
	}
	for _, tc := range f.toolCalls {
		h.OnToolCall(tc)
	}
	if f.err != nil {
		return f.err
	}
	return nil
}

func TestStreamEmitsDeltasThenDone(t *testing.T) {
	p := &fakeProvider{deltas: []string{"hel", "lo"}}
	var got []Event
	for ev := range Stream(context.Background(), p, nil, nil, "m", 0) {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events (2 deltas + done), got %d: %#v", len(got), got)
	}
	if got[0].Kind != EventDelta || got[0].Delta != "hel" {
		t.Fatalf("unexpected first event: %#v", got[0])
	}
	if got[1].Kind != EventDelta || got[1].Delta != "lo" {
		t.Fatalf("unexpected second event: %#v", got[1])
	}
	if got[2].Kind != EventDone || got[2].Err != nil {
		t.Fatalf("expected trailing EventDone with nil error, got %#v", got[2])
	}
}

func TestStreamPropagatesErrorOnDoneEvent(t *testing.T) {
	wantErr := errors.New("boom")
	p := &fakeProvider{deltas: []string{"partial"}, err: wantErr}
	var last Event
	for ev := range Stream(context.Background(), p, nil, nil, "m", 0) {
		last = ev
	}
	if last.Kind != EventDone || !errors.Is(last.Err, wantErr) {
		t.Fatalf("expected done event to carry the provider error, got %#v", last)
	}
}

func TestCollectAssemblesTextAndToolCalls(t *testing.T) {
	p := &fakeProvider{
		deltas:    []string{"foo", "bar"},
		toolCalls: []llm.ToolCall{{Name: "search", ID: "1"}},
	}
	out, err := Collect(context.Background(), p, nil, nil, "m")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if out.Text != "foobar" {
		t.Fatalf("expected concatenated text %q, got %q", "foobar", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search" {
		t.Fatalf("unexpected tool calls: %#v", out.ToolCalls)
	}
}

func TestCollectReturnsProviderError(t *testing.T) {
	wantErr := errors.New("provider failed")
	p := &fakeProvider{err: wantErr}
	if _, err := Collect(context.Background(), p, nil, nil, "m"); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}
