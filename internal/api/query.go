package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/copilot"
	"github.com/querypilot/querypilot/internal/queryguard"
)

type guardCheckRequest struct {
	SQL string `json:"sql"`
}

type verdictResponse struct {
	Safe      bool   `json:"safe"`
	Reason    string `json:"reason,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Operation string `json:"operation,omitempty"`
}

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	SQL      string         `json:"sql"`
	Columns  []string       `json:"columns"`
	Rows     [][]any        `json:"rows"`
	RowCount int            `json:"row_count"`
	Message  string         `json:"message"`
	Stats    map[string]any `json:"stats"`
}

func handleGuardCheck(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request guardCheckRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	writeJSON(w, http.StatusOK, toVerdictResponse(deps.Copilot.Check(request.SQL)))
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request queryRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must not be negative", false, nil)
		return
	}

	execution, err := deps.Copilot.Execute(r.Context(), request.SQL, request.RowLimit)
	if err != nil {
		writeExecutionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueryResponse(execution))
}

func writeExecutionError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *copilot.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "SQL_REJECTED", rejected.Verdict.Reason, false, map[string]any{
			"rule":      rejected.Verdict.Rule,
			"operation": rejected.Verdict.Operation,
		})
	case errors.Is(err, copilot.ErrEngineNotConfigured):
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query execution is not configured", false, nil)
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
	}
}

func toVerdictResponse(verdict queryguard.Verdict) verdictResponse {
	return verdictResponse{
		Safe:      verdict.Safe,
		Reason:    verdict.Reason,
		Rule:      verdict.Rule,
		Operation: verdict.Operation,
	}
}

func toQueryResponse(execution copilot.Execution) queryResponse {
	return queryResponse{
		SQL:      execution.SQL,
		Columns:  execution.Columns,
		Rows:     execution.Rows,
		RowCount: execution.RowCount,
		Message:  execution.Message,
		Stats: map[string]any{
			"duration_ms": execution.Duration.Milliseconds(),
			"row_limit":   execution.RowLimit,
			"truncated":   execution.Truncated,
		},
	}
}
