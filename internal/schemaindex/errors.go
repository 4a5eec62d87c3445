package schemaindex

import (
	"errors"
	"fmt"
)

var (
	ErrNoTables       = errors.New("no table definitions found")
	ErrSchemaTooLarge = errors.New("schema exceeds size limit")
)

// SchemaLoadError reports input that could not be read or contained no tables.
// The previous index generation is left in place.
type SchemaLoadError struct {
	Reason string
	Err    error
}

func (e *SchemaLoadError) Error() string {
	if e.Err == nil {
		return "schema load failed: " + e.Reason
	}
	return fmt.Sprintf("schema load failed: %s: %v", e.Reason, e.Err)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Err
}
