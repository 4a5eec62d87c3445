// Package sqlite runs guarded statements against a SQLite database file
// opened read-only.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/querypilot/querypilot/internal/query"
)

type Config struct {
	Path             string
	StatementTimeout time.Duration
}

type Engine struct {
	db               *sql.DB
	path             string
	statementTimeout time.Duration
}

// Open opens path with mode=ro and query_only set on every connection. The
// file must already exist.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return &Engine{db: db, path: path, statementTimeout: cfg.StatementTimeout}, nil
}

func readOnlyDSN(path string) string {
	params := url.Values{}
	params.Set("mode", "ro")
	params.Add("_pragma", "query_only(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + params.Encode()
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if len(request.Files) > 0 {
		return query.Result{}, fmt.Errorf("sqlite engine does not read parquet tables")
	}
	sqlText, err := query.PrepareSQL(request.SQL, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scanned, err := query.ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:   scanned.Columns,
		Rows:      scanned.Values,
		Truncated: scanned.Truncated,
		Duration:  time.Since(start),
	}, nil
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	return e.db.Close()
}
