package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/query"
)

// Engine runs statements inside a read-only transaction that is always
// rolled back.
type Engine struct {
	db               *sql.DB
	statementTimeout time.Duration
}

func NewEngine(db *sql.DB, statementTimeout time.Duration) *Engine {
	return &Engine{db: db, statementTimeout: statementTimeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.db == nil {
		return query.Result{}, fmt.Errorf("warehouse db is required")
	}
	if len(request.Files) > 0 {
		return query.Result{}, fmt.Errorf("postgres engine does not read parquet tables")
	}
	sqlText, err := query.PrepareSQL(request.SQL, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.statementTimeout > 0 {
		timeoutSQL := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, timeoutSQL); err != nil {
			return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, sqlText)
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
	if e.db == nil {
		return fmt.Errorf("warehouse db is required")
	}
	return e.db.PingContext(ctx)
}
