package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TableFile is a Parquet object exposed to the engine as a table.
type TableFile struct {
	TableName  string
	ObjectPath string
}

type Request struct {
	SQL      string
	RowLimit int
	Files    []TableFile
}

type Result struct {
	Columns []string
	Rows    [][]any
	// Truncated is set when the statement produced more rows than the
	// request's RowLimit.
	Truncated    bool
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// PrepareSQL strips trailing semicolons. A positive rowLimit wraps the
// statement in an outer LIMIT of rowLimit+1 so that ScanRows can tell a
// complete result from a cut one. The statement sits on its own lines so a
// trailing line comment cannot swallow the wrapper.
func PrepareSQL(sqlText string, rowLimit int) (string, error) {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	if trimmed == "" {
		return "", fmt.Errorf("sql is required")
	}
	if rowLimit > 0 {
		trimmed = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", trimmed, rowLimit+1)
	}
	return trimmed, nil
}

// Rows is the scanned form of a result set.
type Rows struct {
	Columns   []string
	Values    [][]any
	Truncated bool
}

// ScanRows reads at most maxRows rows (all rows when maxRows <= 0). []byte
// values are returned as strings.
func ScanRows(rows *sql.Rows, maxRows int) (Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Rows{}, fmt.Errorf("query columns: %w", err)
	}

	scanned := Rows{Columns: columns, Values: make([][]any, 0)}
	for rows.Next() {
		if maxRows > 0 && len(scanned.Values) == maxRows {
			scanned.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Rows{}, fmt.Errorf("scan row: %w", err)
		}
		scanned.Values = append(scanned.Values, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Rows{}, fmt.Errorf("iterate rows: %w", err)
	}
	return scanned, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
