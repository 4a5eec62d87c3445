package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/storage"
)

const warehouseAlias = "warehouse"

type Config struct {
	// DatabasePath is attached read-only. Empty means an in-memory database.
	DatabasePath string
	// Tables are Parquet objects registered as views on every query.
	Tables []query.TableFile
	Store  storage.ObjectStore
}

type Engine struct {
	databasePath string
	tables       []query.TableFile
	store        storage.ObjectStore
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		databasePath: strings.TrimSpace(cfg.DatabasePath),
		tables:       append([]query.TableFile(nil), cfg.Tables...),
		store:        cfg.Store,
	}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText, err := query.PrepareSQL(request.SQL, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	files := append(append([]query.TableFile(nil), e.tables...), request.Files...)
	if len(files) > 0 && e.store == nil {
		return query.Result{}, fmt.Errorf("object store is required for parquet tables")
	}

	start := time.Now()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()
	// Temp views and the attached database must share one connection.
	db.SetMaxOpenConns(1)

	if e.databasePath != "" {
		attachSQL := fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", quoteString(e.databasePath), warehouseAlias)
		if _, err := db.ExecContext(ctx, attachSQL); err != nil {
			return query.Result{}, fmt.Errorf("attach database %q: %w", e.databasePath, err)
		}
		if _, err := db.ExecContext(ctx, "USE "+warehouseAlias); err != nil {
			return query.Result{}, fmt.Errorf("use attached database: %w", err)
		}
	}

	var scannedBytes int64
	if len(files) > 0 {
		workDir, err := os.MkdirTemp("", "querypilot-query-")
		if err != nil {
			return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		files, err = e.resolveFiles(ctx, files)
		if err != nil {
			return query.Result{}, err
		}

		groupedPaths := map[string][]string{}
		for index, file := range files {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
			written, err := e.download(ctx, file.ObjectPath, localPath)
			if err != nil {
				return query.Result{}, err
			}
			groupedPaths[file.TableName] = append(groupedPaths[file.TableName], localPath)
			scannedBytes += written
		}

		for tableName, localPaths := range groupedPaths {
			viewSQL := fmt.Sprintf(`CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM read_parquet(%s)`, query.QuoteIdent(tableName), quoteStringArray(localPaths))
			if _, err := db.ExecContext(ctx, viewSQL); err != nil {
				return query.Result{}, fmt.Errorf("create view for table %q: %w", tableName, err)
			}
		}
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scanned, err := query.ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:      scanned.Columns,
		Rows:         scanned.Values,
		Truncated:    scanned.Truncated,
		ScannedFiles: len(files),
		ScannedBytes: scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

// ParseTableFiles parses "table=objectKey,table=objectKey" into table files.
func ParseTableFiles(raw string) ([]query.TableFile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var files []query.TableFile
	for _, entry := range strings.Split(raw, ",") {
		tableName, objectPath, ok := strings.Cut(strings.TrimSpace(entry), "=")
		tableName = strings.TrimSpace(tableName)
		objectPath = strings.TrimSpace(objectPath)
		if !ok || tableName == "" || objectPath == "" {
			return nil, fmt.Errorf("invalid parquet table entry %q: expected table=objectKey", entry)
		}
		files = append(files, query.TableFile{TableName: tableName, ObjectPath: objectPath})
	}
	return files, nil
}
