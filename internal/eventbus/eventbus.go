// Package eventbus optionally republishes indexer stage-transition
// events to a Kafka topic for other processes to consume (e.g. a
// separate notification service), per SPEC_FULL §C.4. Disabled by
// default; internal/stateman's in-process snapshot remains the sole
// contract regardless of whether a bus is configured.
//
// Grounded directly on the teacher's
// internal/workspaces/kafka_events.go KafkaCommitPublisher: a
// nil-receiver-safe wrapper around *kafka.Writer with a disabled-when-
// unconfigured constructor, a JSON-marshal-then-WriteMessages Publish,
// and a Close that logs (rather than returns) a close error.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"knowledgeworkspace/internal/config"
)

// StageEvent mirrors internal/analytics.Event's shape for JSON
// publication, kept as a distinct type so the two sinks can evolve
// independently even though they're fed the same stage transitions.
type StageEvent struct {
	FileID    string    `json:"file_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// writer is the slice of *kafka.Writer this package needs, split out so
// tests can substitute a fake, the same way the teacher's
// internal/tools/kafka package defines its own Writer interface instead
// of depending on the concrete *kafka.Writer.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes stage-transition events to Kafka. A nil
// *Publisher or one with no writer is a valid no-op value.
type Publisher struct {
	writer writer
}

// New builds a Publisher when cfg.Brokers is non-empty; otherwise it
// returns a nil *Publisher, which Publish and Close treat as a no-op so
// callers never need to check whether the bus is configured.
func New(cfg config.EventBusConfig) *Publisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes ev to the configured topic. A nil Publisher or writer
// is a no-op returning nil, so callers can publish unconditionally.
func (p *Publisher) Publish(ctx context.Context, ev StageEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.FileID), Value: payload, Time: ev.Timestamp}
	return p.writer.WriteMessages(ctx, msg)
}

// Close shuts down the writer, logging (not returning) any close error,
// since callers run this at shutdown where there is nothing useful to
// do with a non-nil error.
func (p *Publisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("eventbus_writer_close_failed")
	}
}

// newWithWriter builds a Publisher around an already-constructed writer,
// letting tests inject a fake without going through New's Kafka dial.
func newWithWriter(w writer) *Publisher {
	return &Publisher{writer: w}
}
