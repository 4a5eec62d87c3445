package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/querypilot/querypilot/internal/schemaindex"
)

type schemaDocument struct {
	ID        string            `json:"id"`
	TableName string            `json:"table_name"`
	Tags      map[string]string `json:"tags"`
	Position  int               `json:"position"`
}

type putSchemaRequest struct {
	Schema string `json:"schema"`
}

type retrieveRequest struct {
	Query string `json:"query"`
	// TopK defaults to the index's configured value when omitted.
	TopK *int `json:"top_k"`
}

type schemaMatch struct {
	schemaDocument
	RawText string  `json:"raw_text"`
	Score   float64 `json:"score"`
}

type contextRequest struct {
	Query string `json:"query"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	index := deps.Copilot.Index()
	documents := index.Documents()
	response := make([]schemaDocument, 0, len(documents))
	for _, document := range documents {
		response = append(response, toSchemaDocument(document))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": index.Generation(),
		"count":      len(response),
		"documents":  response,
	})
}

func handlePutSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request putSchemaRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	summary, err := deps.Copilot.LoadText(r.Context(), request.Schema)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "SCHEMA_LOAD_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "loaded",
		"source":     summary.Source,
		"documents":  summary.Documents,
		"generation": summary.Generation,
	})
}

func handleReloadSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.SchemaSource == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_SOURCE_NOT_CONFIGURED", "no schema path or object key is configured", false, nil)
		return
	}
	summary, err := deps.Copilot.LoadSchema(r.Context(), deps.SchemaSource)
	if err != nil {
		if errors.Is(err, schemaindex.ErrNoTables) || errors.Is(err, schemaindex.ErrSchemaTooLarge) {
			writeError(r.Context(), w, http.StatusBadRequest, "SCHEMA_LOAD_FAILED", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_SOURCE_FAILED", err.Error(), true, map[string]any{"source": deps.SchemaSource.Describe()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "loaded",
		"source":     summary.Source,
		"documents":  summary.Documents,
		"generation": summary.Generation,
	})
}

func handleResetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	deps.Copilot.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reset",
		"generation": deps.Copilot.Index().Generation(),
	})
}

func handleRetrieve(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request retrieveRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	topK := deps.Copilot.Index().DefaultTopK()
	if request.TopK != nil {
		topK = *request.TopK
	}
	if topK < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TOP_K", "top_k must not be negative", false, nil)
		return
	}
	result := deps.Copilot.Retrieve(request.Query, topK)
	matches := make([]schemaMatch, 0, result.Len())
	for _, match := range result.Matches {
		matches = append(matches, schemaMatch{
			schemaDocument: toSchemaDocument(match.Document),
			RawText:        match.Document.RawText,
			Score:          finiteScore(match.Score),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(matches),
		"matches": matches,
	})
}

func handleSchemaContext(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request contextRequest
	if !decodeJSON(deps, w, r, &request) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": deps.Copilot.BuildContext(request.Query)})
}

func toSchemaDocument(document schemaindex.Document) schemaDocument {
	return schemaDocument{
		ID:        document.ID,
		TableName: document.TableName,
		Tags:      document.Tags,
		Position:  document.Position,
	}
}

// finiteScore keeps scores from custom scorers JSON-encodable.
func finiteScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}
