// Package analytics is an optional, fire-and-forget sink that appends
// one row per indexer stage transition to ClickHouse for historical
// dashboards. It is strictly a side channel: internal/stateman's
// in-process snapshot remains the only authoritative, current-progress
// view (spec.md §4.1, §4.6); nothing here is read back by the indexer.
//
// Connection setup (DSN parsing, Open, Ping) follows the teacher's
// internal/agentd/metrics_clickhouse.go. The write side (this package
// has no teacher analog to ground on, since the teacher only reads
// ClickHouse for dashboards) uses clickhouse-go/v2's batch insert API,
// the natural write-side counterpart to the same driver.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"knowledgeworkspace/internal/config"
)

// Event is one stage transition to record.
type Event struct {
	FileID    string
	Stage     string
	Detail    string
	Progress  int
	Timestamp time.Time
}

// inserter is the slice of clickhouse.Conn this package needs, split
// out so tests can substitute a fake instead of a real server, the same
// way the teacher's metrics_clickhouse.go hides its driver behind the
// tokenMetricsProvider interface.
type inserter interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

// Sink accepts stage-transition events without blocking the caller. A
// disabled Sink (no DSN configured) is always a valid no-op value.
type Sink struct {
	conn   inserter
	table  string
	events chan Event
	done   chan struct{}
}

// Noop is a Sink with no backing connection; Record is a no-op.
var Noop = &Sink{}

// New connects to ClickHouse per cfg and starts a background writer
// goroutine. If cfg.DSN is empty, it returns Noop: callers can always
// call Record unconditionally. The returned Sink's Close must be called
// to flush and release the background goroutine.
func New(ctx context.Context, cfg config.AnalyticsConfig) (*Sink, error) {
	if cfg.DSN == "" {
		return Noop, nil
	}

	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse analytics dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open analytics connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("analytics ping: %w", err)
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}

	s := &Sink{
		conn:   conn,
		table:  "indexer_stage_events",
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Record enqueues ev for writing and returns immediately. If the
// internal buffer is full, ev is dropped and a warning is logged: a
// slow or unreachable analytics backend must never stall the indexing
// hot path (spec.md §C.3).
func (s *Sink) Record(ev Event) {
	if s == nil || s.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("file_id", ev.FileID).Str("stage", ev.Stage).
			Msg("analytics sink buffer full, dropping stage-transition event")
	}
}

// Close stops the background writer, draining any buffered events with
// a bounded grace period before returning.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	close(s.events)
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
	return s.conn.Close()
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		query := fmt.Sprintf(`INSERT INTO %s (file_id, stage, detail, progress, event_time) VALUES (?, ?, ?, ?, ?)`, s.table)
		if err := s.conn.AsyncInsert(ctx, query, false, ev.FileID, ev.Stage, ev.Detail, ev.Progress, ev.Timestamp); err != nil {
			log.Warn().Err(err).Msg("analytics sink insert failed")
		}
		cancel()
	}
}
