// Package copilot turns questions into guarded SQL. It retrieves the
// relevant table definitions, asks the translator for a statement, checks it
// with the query guard and optionally runs it on the configured engine.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/queryguard"
	"github.com/querypilot/querypilot/internal/schemaindex"
	"github.com/querypilot/querypilot/internal/schemasource"
)

var (
	ErrQuestionRequired        = errors.New("question is required")
	ErrTranslatorNotConfigured = errors.New("query translation is not configured")
	ErrEngineNotConfigured     = errors.New("query engine is not configured")
)

// RejectedError reports a statement the query guard refused to run.
type RejectedError struct {
	SQL     string
	Verdict queryguard.Verdict
}

func (e *RejectedError) Error() string {
	return "query rejected: " + e.Verdict.Reason
}

type Config struct {
	Index      *schemaindex.Index
	Translator nl2sql.Translator
	Engine     query.Engine
	// EngineName labels query metrics and logs.
	EngineName string
	Dialect    string
	// RowLimit is applied when a caller passes none and caps larger requests.
	RowLimit int
	Logger   *slog.Logger
}

type Service struct {
	index      *schemaindex.Index
	translator nl2sql.Translator
	engine     query.Engine
	engineName string
	dialect    string
	rowLimit   int
	logger     *slog.Logger
}

type LoadSummary struct {
	Source     string
	Documents  int
	Generation uint64
}

type Generation struct {
	Question string
	SQL      string
	Provider string
	Model    string
	Tables   []string
	Context  string
	Verdict  queryguard.Verdict
}

type Execution struct {
	SQL      string
	Columns  []string
	Rows     [][]any
	RowCount int
	RowLimit int
	// Truncated means the statement had more rows than RowLimit.
	Truncated bool
	Message   string
	Duration  time.Duration
}

type Answer struct {
	Generation Generation
	// Execution is nil unless execution was requested and the SQL was safe.
	Execution *Execution
}

func New(cfg Config) (*Service, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("schema index is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	engineName := strings.TrimSpace(cfg.EngineName)
	if engineName == "" {
		engineName = "unknown"
	}
	if cfg.RowLimit < 0 {
		return nil, fmt.Errorf("row limit must not be negative")
	}
	return &Service{
		index:      cfg.Index,
		translator: cfg.Translator,
		engine:     cfg.Engine,
		engineName: engineName,
		dialect:    strings.TrimSpace(cfg.Dialect),
		rowLimit:   cfg.RowLimit,
		logger:     logger,
	}, nil
}

func (s *Service) Index() *schemaindex.Index {
	return s.index
}

func (s *Service) TranslationEnabled() bool {
	return s.translator != nil
}

func (s *Service) ExecutionEnabled() bool {
	return s.engine != nil
}

// LoadSchema replaces the indexed schema with the DDL read from src. A failed
// load leaves the previous schema in place.
func (s *Service) LoadSchema(ctx context.Context, src schemasource.Source) (LoadSummary, error) {
	if src == nil {
		return LoadSummary{}, fmt.Errorf("schema source is required")
	}
	summary, err := s.loadSchema(ctx, src)
	observability.ObserveSchemaLoad(err, summary.Documents)
	if err != nil {
		s.logger.WarnContext(ctx, "schema load failed",
			slog.String("source", src.Describe()),
			slog.String("error", err.Error()),
		)
		return LoadSummary{}, err
	}
	s.logger.InfoContext(ctx, "schema loaded",
		slog.String("source", summary.Source),
		slog.Int("documents", summary.Documents),
		slog.Uint64("generation", summary.Generation),
	)
	return summary, nil
}

func (s *Service) loadSchema(ctx context.Context, src schemasource.Source) (LoadSummary, error) {
	reader, err := src.Open(ctx)
	if err != nil {
		return LoadSummary{}, &schemaindex.SchemaLoadError{Reason: "open schema source " + src.Describe(), Err: err}
	}
	defer func() { _ = reader.Close() }()

	loaded, err := s.index.ReplaceFrom(reader)
	if err != nil {
		return LoadSummary{}, err
	}
	return LoadSummary{
		Source:     src.Describe(),
		Documents:  loaded.Documents,
		Generation: loaded.Generation,
	}, nil
}

func (s *Service) LoadText(ctx context.Context, schemaText string) (LoadSummary, error) {
	return s.LoadSchema(ctx, schemasource.Text(schemaText))
}

func (s *Service) Reset(ctx context.Context) {
	s.index.Reset()
	observability.SetSchemaDocuments(0)
	s.logger.InfoContext(ctx, "schema reset",
		slog.Uint64("generation", s.index.Generation()),
	)
}

func (s *Service) Retrieve(queryText string, topK int) schemaindex.Result {
	result := s.index.Retrieve(queryText, topK)
	observability.ObserveRetrieval(result.Len())
	return result
}

func (s *Service) BuildContext(queryText string) string {
	return schemaindex.RenderContext(s.Retrieve(queryText, s.index.DefaultTopK()))
}

func (s *Service) Check(sqlText string) queryguard.Verdict {
	verdict := queryguard.Check(sqlText)
	observability.ObserveGuardVerdict(verdict.Safe, verdict.Rule)
	return verdict
}

// Generate translates a question into SQL using the most relevant table
// definitions as context and reports the guard verdict for the result.
func (s *Service) Generate(ctx context.Context, question string) (Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Generation{}, ErrQuestionRequired
	}
	if s.translator == nil {
		return Generation{}, ErrTranslatorNotConfigured
	}

	retrieval := s.Retrieve(question, s.index.DefaultTopK())
	schemaContext := schemaindex.RenderContext(retrieval)

	start := time.Now()
	translated, err := s.translator.Translate(ctx, nl2sql.Request{
		Question:      question,
		SchemaContext: schemaContext,
		Dialect:       s.dialect,
	})
	observability.ObserveTranslate(err, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "translation failed",
			slog.String("error", err.Error()),
		)
		return Generation{}, fmt.Errorf("translate question: %w", err)
	}

	verdict := s.Check(translated.SQL)
	s.logger.InfoContext(ctx, "sql generated",
		slog.String("provider", translated.Provider),
		slog.String("model", translated.Model),
		slog.Int("total_tokens", translated.Usage.TotalTokens),
		slog.Any("tables", retrieval.TableNames()),
		slog.Bool("safe", verdict.Safe),
		slog.String("rule", verdict.Rule),
		slog.String("sql", queryguard.Sanitize(translated.SQL)),
	)

	return Generation{
		Question: question,
		SQL:      translated.SQL,
		Provider: translated.Provider,
		Model:    translated.Model,
		Tables:   retrieval.TableNames(),
		Context:  schemaContext,
		Verdict:  verdict,
	}, nil
}

// Execute runs sqlText only when the query guard accepts it. A rejection is
// returned as *RejectedError.
func (s *Service) Execute(ctx context.Context, sqlText string, rowLimit int) (Execution, error) {
	verdict := s.Check(sqlText)
	if !verdict.Safe {
		s.logger.WarnContext(ctx, "query rejected",
			slog.String("rule", verdict.Rule),
			slog.String("reason", verdict.Reason),
			slog.String("sql", queryguard.Sanitize(sqlText)),
		)
		return Execution{}, &RejectedError{SQL: sqlText, Verdict: verdict}
	}
	return s.run(ctx, sqlText, rowLimit)
}

// run executes a statement the guard has already accepted.
func (s *Service) run(ctx context.Context, sqlText string, rowLimit int) (Execution, error) {
	if s.engine == nil {
		return Execution{}, ErrEngineNotConfigured
	}

	limit := s.effectiveRowLimit(rowLimit)
	start := time.Now()
	result, err := s.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: limit})
	elapsed := time.Since(start)
	observability.ObserveQuery(s.engineName, err, elapsed)
	if err != nil {
		s.logger.WarnContext(ctx, "query failed",
			slog.String("engine", s.engineName),
			slog.String("error", err.Error()),
		)
		return Execution{}, fmt.Errorf("execute query: %w", err)
	}

	s.logger.InfoContext(ctx, "query executed",
		slog.String("engine", s.engineName),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.String("duration", elapsed.String()),
	)
	message := fmt.Sprintf("Query executed successfully. %d rows returned.", len(result.Rows))
	if result.Truncated {
		message = fmt.Sprintf("Query executed successfully. First %d rows returned; the result was truncated at the row limit.", len(result.Rows))
	}
	return Execution{
		SQL:       sqlText,
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  len(result.Rows),
		RowLimit:  limit,
		Truncated: result.Truncated,
		Message:   message,
		Duration:  elapsed,
	}, nil
}

// Ask generates SQL for a question and, when execute is set and the guard
// accepts the statement, runs it. An unsafe statement is reported through the
// generation verdict rather than as an error.
func (s *Service) Ask(ctx context.Context, question string, execute bool, rowLimit int) (Answer, error) {
	generation, err := s.Generate(ctx, question)
	if err != nil {
		return Answer{}, err
	}
	answer := Answer{Generation: generation}
	if !execute || !generation.Verdict.Safe {
		return answer, nil
	}
	execution, err := s.run(ctx, generation.SQL, rowLimit)
	if err != nil {
		return answer, err
	}
	answer.Execution = &execution
	return answer, nil
}

func (s *Service) effectiveRowLimit(requested int) int {
	if requested <= 0 {
		return s.rowLimit
	}
	if s.rowLimit > 0 && requested > s.rowLimit {
		return s.rowLimit
	}
	return requested
}
