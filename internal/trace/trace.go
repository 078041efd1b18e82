// Package trace records every step an agent run takes, in order, for
// auditing and debugging.
package trace

import (
	"context"
	"log/slog"
	"time"
)

type Kind string

const (
	KindQuestion   Kind = "question"
	KindLLMTurn    Kind = "llm_turn"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindAnswer     Kind = "answer"
	KindFailure    Kind = "failure"
)

// Event is one entry in a run's append-only trace. Seq orders events
// within a session, starting at 0.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"kind"`
	Tool      string    `json:"tool,omitempty"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Recorder consumes trace events. Implementations must tolerate being
// called from a single run goroutine at a time; RunFinished marks the
// end of a session's event stream.
type Recorder interface {
	Record(ctx context.Context, event Event)
	RunFinished(ctx context.Context, sessionID string)
}

// SlogRecorder mirrors every event to the structured log.
type SlogRecorder struct {
	logger *slog.Logger
}

func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

func (r *SlogRecorder) Record(ctx context.Context, event Event) {
	r.logger.DebugContext(ctx, "trace event",
		slog.String("session_id", event.SessionID),
		slog.Int("seq", event.Seq),
		slog.String("kind", string(event.Kind)),
		slog.String("tool", event.Tool),
		slog.String("detail", event.Detail),
	)
}

func (r *SlogRecorder) RunFinished(context.Context, string) {}

// MultiRecorder fans events out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, event Event) {
	for _, recorder := range m {
		recorder.Record(ctx, event)
	}
}

func (m MultiRecorder) RunFinished(ctx context.Context, sessionID string) {
	for _, recorder := range m {
		recorder.RunFinished(ctx, sessionID)
	}
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

func (NopRecorder) RunFinished(context.Context, string) {}
