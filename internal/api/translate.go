package api

import (
	"errors"
	"net/http"

	"github.com/querypilot/querypilot/internal/copilot"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

type translateRequest struct {
	Prompt string `json:"prompt"`
}

type askRequest struct {
	Prompt   string `json:"prompt"`
	Execute  bool   `json:"execute"`
	RowLimit int    `json:"row_limit"`
}

type translateResponse struct {
	SQL      string          `json:"sql"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Tables   []string        `json:"tables"`
	Verdict  verdictResponse `json:"verdict"`
}

type askResponse struct {
	translateResponse
	Result *queryResponse `json:"result,omitempty"`
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request translateRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	generation, err := deps.Copilot.Generate(r.Context(), request.Prompt)
	if err != nil {
		writeTranslateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTranslateResponse(generation))
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request askRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must not be negative", false, nil)
		return
	}

	answer, err := deps.Copilot.Ask(r.Context(), request.Prompt, request.Execute, request.RowLimit)
	if err != nil {
		if answer.Generation.SQL == "" {
			writeTranslateError(w, r, err)
			return
		}
		writeExecutionError(w, r, err)
		return
	}

	response := askResponse{translateResponse: toTranslateResponse(answer.Generation)}
	if answer.Execution != nil {
		result := toQueryResponse(*answer.Execution)
		response.Result = &result
	}
	writeJSON(w, http.StatusOK, response)
}

func writeTranslateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, copilot.ErrQuestionRequired):
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
	case errors.Is(err, copilot.ErrTranslatorNotConfigured):
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
	case errors.Is(err, nl2sql.ErrRateLimited):
		writeError(r.Context(), w, http.StatusTooManyRequests, "TRANSLATE_RATE_LIMITED", "language model rate limit exceeded", true, nil)
	case errors.Is(err, nl2sql.ErrAuthentication):
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_UNAUTHORIZED", "language model rejected the configured credentials", false, nil)
	default:
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate query", true, map[string]any{"details": err.Error()})
	}
}

func toTranslateResponse(generation copilot.Generation) translateResponse {
	return translateResponse{
		SQL:      generation.SQL,
		Provider: generation.Provider,
		Model:    generation.Model,
		Tables:   generation.Tables,
		Verdict:  toVerdictResponse(generation.Verdict),
	}
}
