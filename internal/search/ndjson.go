package search

import (
	"encoding/json"
	"io"
)

// EventKind discriminates the NDJSON event union of spec.md §4.7.6.
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventThinkingStep EventKind = "thinking_step"
	EventHits         EventKind = "hits"
	EventToken        EventKind = "token"
	EventError        EventKind = "error"
	EventDone         EventKind = "done"
)

// Event is one line of the streamed output protocol: a single JSON
// object `{"type":...,"data":...}`, deliberately NOT the SSE
// `data: ...\n\n` envelope the teacher uses for its own chat streams
// (internal/agentd/handlers_chat.go, internal/agents/stream.go) — §4.7.6
// calls for raw newline-delimited JSON instead.
type Event struct {
	Type EventKind `json:"type"`
	Data any       `json:"data"`
}

// ThinkingStep is the payload of a thinking_step event.
type ThinkingStep struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Status  string   `json:"status"` // running | done | error
	Summary string   `json:"summary,omitempty"`
	Items   []string `json:"items,omitempty"`
	Queries []string `json:"queries,omitempty"`
	Files   []string `json:"files,omitempty"`

	DurationMS int64 `json:"duration_ms,omitempty"`

	// SettingsVersion surfaces internal/settings.Manager.Version at the
	// time scope isolation ran, per SPEC_FULL §D: a trace/debug field a
	// long-running stream's client can use to tell it started under a
	// now-stale configuration. It never appears on any other event and
	// never changes the wire shape of a request/response pair outside
	// this stream.
	SettingsVersion int `json:"settings_version,omitempty"`
}

// WriteNDJSON marshals ev as one compact JSON object and writes it to
// w followed by a newline.
func WriteNDJSON(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
