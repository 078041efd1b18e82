package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/runlog"
)

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type askResponse struct {
	SessionID     string `json:"session_id"`
	Answer        string `json:"answer"`
	ExecutedQuery string `json:"executed_query,omitempty"`
	TerminalState string `json:"terminal_state"`
	Steps         int    `json:"steps"`
	Truncated     bool   `json:"truncated"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent runner is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Runner.Run(r.Context(), request.Question, strings.TrimSpace(request.SessionID))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_FAILED", err.Error(), true, nil)
		return
	}

	if deps.RunLog != nil {
		if _, err := deps.RunLog.Insert(r.Context(), runlog.FromRun(result)); err != nil && deps.Logger != nil {
			// The answer is still delivered when persistence fails.
			deps.Logger.ErrorContext(r.Context(), "persisting run failed",
				slog.String("session_id", result.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, askResponse{
		SessionID:     result.SessionID,
		Answer:        result.Answer,
		ExecutedQuery: result.ExecutedQuery,
		TerminalState: string(result.TerminalState),
		Steps:         result.Steps,
		Truncated:     result.Truncated,
	})
}
