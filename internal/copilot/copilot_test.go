package copilot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/queryguard"
	"github.com/querypilot/querypilot/internal/schemaindex"
	"github.com/querypilot/querypilot/internal/schemasource"
)

const shopSchema = `CREATE TABLE customers (
    customer_id INTEGER PRIMARY KEY,
    name TEXT,
    country TEXT
);

CREATE TABLE orders (
    order_id INTEGER PRIMARY KEY,
    customer_id INTEGER REFERENCES customers(customer_id),
    order_date DATE,
    total_amount DECIMAL(10, 2)
);

CREATE TABLE products (
    product_id INTEGER PRIMARY KEY,
    product_name TEXT,
    category TEXT,
    unit_price DECIMAL(10, 2)
);
`

func TestNewRequiresIndex(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without index")
	}
	if _, err := New(Config{Index: schemaindex.New(schemaindex.Config{}), RowLimit: -1}); err == nil {
		t.Fatal("expected error for negative row limit")
	}
}

func TestLoadSchemaFromFile(t *testing.T) {
	service := newTestService(t, Config{})
	path := filepath.Join(t.TempDir(), "schema.sql")
	if err := os.WriteFile(path, []byte(shopSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	summary, err := service.LoadSchema(context.Background(), schemasource.File{Path: path})
	if err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if summary.Documents != 3 || summary.Generation != 1 || summary.Source != "file:"+path {
		t.Fatalf("summary = %#v", summary)
	}
}

func TestLoadSchemaFailureKeepsPreviousGeneration(t *testing.T) {
	service := newTestService(t, Config{})
	if _, err := service.LoadText(context.Background(), shopSchema); err != nil {
		t.Fatalf("LoadText() error = %v", err)
	}

	_, err := service.LoadSchema(context.Background(), schemasource.File{Path: filepath.Join(t.TempDir(), "missing.sql")})
	var loadErr *schemaindex.SchemaLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("LoadSchema() error = %v, want *SchemaLoadError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadSchema() error = %v, want wrapped os.ErrNotExist", err)
	}

	_, err = service.LoadText(context.Background(), "-- nothing here")
	if !errors.Is(err, schemaindex.ErrNoTables) {
		t.Fatalf("LoadText() error = %v, want ErrNoTables", err)
	}
	if service.Index().Len() != 3 || service.Index().Generation() != 1 {
		t.Fatalf("index changed after failed loads: len=%d generation=%d", service.Index().Len(), service.Index().Generation())
	}
}

func TestResetClearsSchema(t *testing.T) {
	service := newTestService(t, Config{})
	if _, err := service.LoadText(context.Background(), shopSchema); err != nil {
		t.Fatalf("LoadText() error = %v", err)
	}
	service.Reset(context.Background())
	if service.Index().Len() != 0 {
		t.Fatalf("Len() = %d after reset", service.Index().Len())
	}
	if got := service.BuildContext("customers"); got != "# Relevant Database Schema\n\n" {
		t.Fatalf("BuildContext() = %q", got)
	}
}

func TestGenerateSendsRetrievedContextToTranslator(t *testing.T) {
	translator := &fakeTranslator{result: nl2sql.Result{
		SQL:      "SELECT name FROM customers WHERE country = 'DE'",
		Provider: "fake",
		Model:    "fake-model",
	}}
	service := newTestService(t, Config{
		Index:      schemaindex.New(schemaindex.Config{DefaultTopK: 1}),
		Translator: translator,
		Dialect:    "DuckDB",
	})
	if _, err := service.LoadText(context.Background(), shopSchema); err != nil {
		t.Fatalf("LoadText() error = %v", err)
	}

	generation, err := service.Generate(context.Background(), "  customers by country ")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(translator.requests) != 1 {
		t.Fatalf("translator requests = %d", len(translator.requests))
	}
	request := translator.requests[0]
	if request.Question != "customers by country" || request.Dialect != "DuckDB" {
		t.Fatalf("request = %#v", request)
	}
	if !strings.HasPrefix(request.SchemaContext, "# Relevant Database Schema\n\n```sql\nCREATE TABLE customers (") {
		t.Fatalf("SchemaContext = %q", request.SchemaContext)
	}
	if strings.Contains(request.SchemaContext, "CREATE TABLE orders") {
		t.Fatalf("SchemaContext includes tables beyond top k: %q", request.SchemaContext)
	}
	if len(generation.Tables) != 1 || generation.Tables[0] != "customers" {
		t.Fatalf("Tables = %v", generation.Tables)
	}
	if !generation.Verdict.Safe || generation.Provider != "fake" || generation.Model != "fake-model" {
		t.Fatalf("generation = %#v", generation)
	}
	if generation.Context != request.SchemaContext {
		t.Fatal("generation context differs from translator context")
	}
}

func TestGenerateReportsUnsafeSQLAsVerdict(t *testing.T) {
	service := newTestService(t, Config{
		Translator: &fakeTranslator{result: nl2sql.Result{SQL: "DELETE FROM customers"}},
	})
	generation, err := service.Generate(context.Background(), "remove every customer")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if generation.Verdict.Safe || generation.Verdict.Rule != queryguard.RuleForbiddenOperation {
		t.Fatalf("Verdict = %#v", generation.Verdict)
	}
}

func TestGenerateErrors(t *testing.T) {
	service := newTestService(t, Config{})
	if _, err := service.Generate(context.Background(), "anything"); !errors.Is(err, ErrTranslatorNotConfigured) {
		t.Fatalf("Generate() error = %v, want ErrTranslatorNotConfigured", err)
	}

	translateErr := errors.New("upstream unavailable")
	service = newTestService(t, Config{Translator: &fakeTranslator{err: translateErr}})
	if _, err := service.Generate(context.Background(), " "); !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Generate() error = %v, want ErrQuestionRequired", err)
	}
	if _, err := service.Generate(context.Background(), "anything"); !errors.Is(err, translateErr) {
		t.Fatalf("Generate() error = %v, want wrapped translator error", err)
	}
}

func TestExecuteRunsSafeSQL(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"Ada"}, {"Linus"}},
	}}
	service := newTestService(t, Config{Engine: engine, RowLimit: 100})

	execution, err := service.Execute(context.Background(), "SELECT name FROM customers", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if execution.RowCount != 2 || execution.Message != "Query executed successfully. 2 rows returned." {
		t.Fatalf("execution = %#v", execution)
	}
	if len(engine.requests) != 1 || engine.requests[0].RowLimit != 100 || engine.requests[0].SQL != "SELECT name FROM customers" {
		t.Fatalf("engine requests = %#v", engine.requests)
	}
}

func TestExecuteReportsTruncatedResult(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns:   []string{"id"},
		Rows:      [][]any{{int64(1)}, {int64(2)}},
		Truncated: true,
	}}
	service := newTestService(t, Config{Engine: engine, RowLimit: 2})

	execution, err := service.Execute(context.Background(), "SELECT id FROM orders", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !execution.Truncated || !strings.Contains(execution.Message, "truncated") {
		t.Fatalf("execution = %#v", execution)
	}
}

func TestExecuteRowLimit(t *testing.T) {
	cases := []struct {
		configured int
		requested  int
		want       int
	}{
		{configured: 100, requested: 0, want: 100},
		{configured: 100, requested: 10, want: 10},
		{configured: 100, requested: 500, want: 100},
		{configured: 0, requested: 500, want: 500},
		{configured: 0, requested: 0, want: 0},
	}
	for _, tc := range cases {
		engine := &fakeEngine{}
		service := newTestService(t, Config{Engine: engine, RowLimit: tc.configured})
		execution, err := service.Execute(context.Background(), "SELECT 1", tc.requested)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if execution.RowLimit != tc.want || engine.requests[0].RowLimit != tc.want {
			t.Fatalf("configured=%d requested=%d: limit = %d, want %d", tc.configured, tc.requested, execution.RowLimit, tc.want)
		}
	}
}

func TestExecuteRejectsUnsafeSQLWithoutCallingEngine(t *testing.T) {
	engine := &fakeEngine{}
	service := newTestService(t, Config{Engine: engine})

	for _, sqlText := range []string{"DROP TABLE customers", "", "SHOW TABLES", "UPDATE orders SET total_amount = 0"} {
		_, err := service.Execute(context.Background(), sqlText, 10)
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("Execute(%q) error = %v, want *RejectedError", sqlText, err)
		}
		if rejected.Verdict.Safe || rejected.Verdict.Reason == "" {
			t.Fatalf("Execute(%q) verdict = %#v", sqlText, rejected.Verdict)
		}
	}
	if len(engine.requests) != 0 {
		t.Fatalf("engine called %d times for rejected statements", len(engine.requests))
	}
}

func TestExecuteErrors(t *testing.T) {
	service := newTestService(t, Config{})
	if _, err := service.Execute(context.Background(), "SELECT 1", 0); !errors.Is(err, ErrEngineNotConfigured) {
		t.Fatalf("Execute() error = %v, want ErrEngineNotConfigured", err)
	}

	engineErr := errors.New(`table "missing" does not exist`)
	service = newTestService(t, Config{Engine: &fakeEngine{err: engineErr}})
	if _, err := service.Execute(context.Background(), "SELECT * FROM missing", 0); !errors.Is(err, engineErr) {
		t.Fatalf("Execute() error = %v, want wrapped engine error", err)
	}
}

func TestAsk(t *testing.T) {
	engine := &fakeEngine{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}}
	service := newTestService(t, Config{
		Translator: &fakeTranslator{result: nl2sql.Result{SQL: "SELECT COUNT(*) AS n FROM orders"}},
		Engine:     engine,
	})

	answer, err := service.Ask(context.Background(), "how many orders", false, 0)
	if err != nil {
		t.Fatalf("Ask(execute=false) error = %v", err)
	}
	if answer.Execution != nil || len(engine.requests) != 0 {
		t.Fatal("Ask(execute=false) ran the query")
	}

	answer, err = service.Ask(context.Background(), "how many orders", true, 0)
	if err != nil {
		t.Fatalf("Ask(execute=true) error = %v", err)
	}
	if answer.Execution == nil || answer.Execution.RowCount != 1 {
		t.Fatalf("Execution = %#v", answer.Execution)
	}
}

func TestAskChecksGeneratedSQLOnce(t *testing.T) {
	engine := &fakeEngine{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}}
	service := newTestService(t, Config{
		Translator: &fakeTranslator{result: nl2sql.Result{SQL: "SELECT COUNT(*) AS n FROM orders"}},
		Engine:     engine,
	})

	before := guardVerdictCount(t)
	if _, err := service.Ask(context.Background(), "how many orders", true, 0); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got := guardVerdictCount(t) - before; got != 1 {
		t.Fatalf("guard verdicts recorded = %v, want 1", got)
	}
	if len(engine.requests) != 1 {
		t.Fatalf("engine requests = %d", len(engine.requests))
	}
}

func guardVerdictCount(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != "querypilot_guard_verdicts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestAskDoesNotExecuteUnsafeSQL(t *testing.T) {
	engine := &fakeEngine{}
	service := newTestService(t, Config{
		Translator: &fakeTranslator{result: nl2sql.Result{SQL: "TRUNCATE orders"}},
		Engine:     engine,
	})
	answer, err := service.Ask(context.Background(), "clear the orders", true, 0)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Generation.Verdict.Safe || answer.Execution != nil || len(engine.requests) != 0 {
		t.Fatalf("answer = %#v, engine requests = %d", answer, len(engine.requests))
	}
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Index == nil {
		cfg.Index = schemaindex.New(schemaindex.Config{})
	}
	service, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return service
}

type fakeTranslator struct {
	requests []nl2sql.Request
	result   nl2sql.Result
	err      error
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return f.result, nil
}

type fakeEngine struct {
	requests []query.Request
	result   query.Result
	err      error
}

func (f *fakeEngine) Execute(_ context.Context, req query.Request) (query.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}
