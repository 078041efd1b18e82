package api

import (
	"net/http"
	"strconv"
)

func handleListRuns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.RunLog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNLOG_NOT_CONFIGURED", "run log is not configured", false, nil)
		return
	}

	limit := deps.RunLogListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	records, err := deps.RunLog.List(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUNLOG_QUERY_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records, "count": len(records)})
}

func handleSessionRuns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.RunLog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNLOG_NOT_CONFIGURED", "run log is not configured", false, nil)
		return
	}

	sessionID := r.PathValue("session")
	records, err := deps.RunLog.BySession(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUNLOG_QUERY_FAILED", err.Error(), true, nil)
		return
	}
	if len(records) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "no runs recorded for session "+sessionID, false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "runs": records, "count": len(records)})
}

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.SchemaCache == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_CACHE_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	deps.SchemaCache.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}
