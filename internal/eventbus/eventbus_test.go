package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"knowledgeworkspace/internal/config"
)

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
	err      error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewReturnsNilWhenNoBrokers(t *testing.T) {
	p := New(config.EventBusConfig{})
	if p != nil {
		t.Fatalf("expected nil Publisher for empty brokers, got %#v", p)
	}
	if err := p.Publish(context.Background(), StageEvent{FileID: "f1"}); err != nil {
		t.Fatalf("expected nil Publisher Publish to no-op, got %v", err)
	}
	p.Close() // must not panic
}

func TestPublishMarshalsEvent(t *testing.T) {
	fw := &fakeWriter{}
	p := newWithWriter(fw)

	if err := p.Publish(context.Background(), StageEvent{FileID: "f1", Stage: "fast", Progress: 42}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.messages) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(fw.messages))
	}
	var got StageEvent
	if err := json.Unmarshal(fw.messages[0].Value, &got); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if got.FileID != "f1" || got.Stage != "fast" || got.Progress != 42 {
		t.Fatalf("unexpected published event: %#v", got)
	}
	if string(fw.messages[0].Key) != "f1" {
		t.Fatalf("expected message keyed by file id, got %q", fw.messages[0].Key)
	}
}

func TestCloseInvokesWriterClose(t *testing.T) {
	fw := &fakeWriter{}
	p := newWithWriter(fw)
	p.Close()
	if !fw.closed {
		t.Fatalf("expected writer Close to be called")
	}
}

func TestPublishPropagatesWriterError(t *testing.T) {
	fw := &fakeWriter{err: context.DeadlineExceeded}
	p := newWithWriter(fw)
	if err := p.Publish(context.Background(), StageEvent{FileID: "f1"}); err == nil {
		t.Fatalf("expected error from writer to propagate")
	}
}
