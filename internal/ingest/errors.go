package ingest

import (
	"fmt"
	"strings"
)

// SchemaError reports required columns absent from an uploaded dataset.
// It aborts ingestion before any row is processed.
type SchemaError struct {
	Missing []string // sorted canonical column names
}

func (e *SchemaError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// ParseError reports a cell value that cannot be coerced to its canonical
// type. Line is the 1-based data row number (header excluded).
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: field %s: cannot parse %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
