// Package runlog persists a summary row for every finished agent run.
package runlog

import (
	"context"
	"time"

	"github.com/querypilot/querypilot/internal/agent"
)

// Record is one persisted run. The trace itself lives in the archive;
// this row is the queryable summary.
type Record struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	ExecutedQuery string    `json:"executed_query"`
	TerminalState string    `json:"terminal_state"`
	Steps         int       `json:"steps"`
	Truncated     bool      `json:"truncated"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

type Repository interface {
	Insert(ctx context.Context, record Record) (int64, error)
	List(ctx context.Context, limit int) ([]Record, error)
	BySession(ctx context.Context, sessionID string) ([]Record, error)
}

// FromRun flattens a run result into its persistent form.
func FromRun(result agent.RunResult) Record {
	return Record{
		SessionID:     result.SessionID,
		Question:      result.Question,
		Answer:        result.Answer,
		ExecutedQuery: result.ExecutedQuery,
		TerminalState: string(result.TerminalState),
		Steps:         result.Steps,
		Truncated:     result.Truncated,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
	}
}
