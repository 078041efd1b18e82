package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/trace"
)

type TerminalState string

const (
	StateAnswered TerminalState = "ANSWERED"
	StateFailed   TerminalState = "FAILED"
)

const maxTraceDetail = 2000

// RunResult is the outcome of one question. Steps counts model turns,
// including the ones spent on rejected or failed queries.
type RunResult struct {
	SessionID     string
	Question      string
	Answer        string
	ExecutedQuery string
	TerminalState TerminalState
	Steps         int
	Truncated     bool
	Trace         []trace.Event
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Runner drives the question-answering loop: the model reasons, calls
// tools, and either produces a grounded answer or runs out of turns.
type Runner struct {
	llm      LLMClient
	tools    *Toolbox
	recorder trace.Recorder
	logger   *slog.Logger
	maxSteps int
	system   string
}

func NewRunner(llm LLMClient, tools *Toolbox, recorder trace.Recorder, logger *slog.Logger, cfg config.AgentConfig) *Runner {
	if recorder == nil {
		recorder = trace.NopRecorder{}
	}
	return &Runner{
		llm:      llm,
		tools:    tools,
		recorder: recorder,
		logger:   logger,
		maxSteps: cfg.MaxSteps,
		system:   systemPrompt(cfg.AllowedTables, cfg.MaxSteps),
	}
}

// Run answers one question. Failures surface as a FAILED result with
// an apologetic answer rather than a Go error; the error return is
// reserved for context cancellation.
func (r *Runner) Run(ctx context.Context, question, sessionID string) (RunResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result := RunResult{
		SessionID: sessionID,
		Question:  question,
		StartedAt: time.Now().UTC(),
	}
	record := func(kind trace.Kind, tool, detail string) {
		event := trace.Event{
			SessionID: sessionID,
			Seq:       len(result.Trace),
			Kind:      kind,
			Tool:      tool,
			Detail:    clipDetail(detail),
			At:        time.Now().UTC(),
		}
		result.Trace = append(result.Trace, event)
		r.recorder.Record(ctx, event)
	}
	fail := func(why string) {
		result.TerminalState = StateFailed
		result.Answer = apology(why)
		record(trace.KindFailure, "", why)
	}

	record(trace.KindQuestion, "", question)
	history := []Message{UserMessage(question)}
	specs := r.tools.Specs()
	var lastExecution *executor.Result

	for {
		if err := ctx.Err(); err != nil {
			fail("the request was cancelled")
			break
		}
		if result.Steps >= r.maxSteps {
			fail("the reasoning turn limit was reached before a valid query succeeded")
			break
		}
		result.Steps++

		turn, err := r.llm.Complete(ctx, r.system, specs, history)
		if err != nil {
			r.logger.Error("llm turn failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			fail("the language model request failed")
			break
		}
		record(trace.KindLLMTurn, "", describeTurn(turn))
		history = append(history, turn.Message)

		if len(turn.ToolCalls) == 0 {
			if lastExecution == nil {
				fail("no query was successfully executed")
				break
			}
			result.TerminalState = StateAnswered
			result.Answer = turn.Text
			result.ExecutedQuery = lastExecution.Query
			result.Truncated = lastExecution.Truncated
			record(trace.KindAnswer, "", turn.Text)
			break
		}

		results := make([]ToolResult, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			record(trace.KindToolCall, call.Name, string(call.Input))
			outcome := r.tools.Dispatch(ctx, call)
			record(trace.KindToolResult, call.Name, outcome.Result.Content)
			if outcome.Execution != nil {
				lastExecution = outcome.Execution
			}
			results = append(results, outcome.Result)
		}
		history = append(history, toolResultMessage(results))
	}

	result.FinishedAt = time.Now().UTC()
	r.recorder.RunFinished(ctx, sessionID)
	observability.ObserveAgentRun(string(result.TerminalState), result.Steps)
	r.logger.Info("run finished",
		slog.String("session_id", sessionID),
		slog.String("terminal_state", string(result.TerminalState)),
		slog.Int("steps", result.Steps),
		slog.Bool("truncated", result.Truncated),
	)
	return result, ctx.Err()
}

func apology(why string) string {
	return "I'm sorry, I couldn't answer that question: " + why + "."
}

func describeTurn(turn Turn) string {
	if len(turn.ToolCalls) == 0 {
		return turn.Text
	}
	names := make([]string, 0, len(turn.ToolCalls))
	for _, call := range turn.ToolCalls {
		names = append(names, call.Name)
	}
	return "tool calls: " + strings.Join(names, ", ")
}

func clipDetail(detail string) string {
	if len(detail) <= maxTraceDetail {
		return detail
	}
	return detail[:maxTraceDetail] + "..."
}
