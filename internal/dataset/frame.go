// Package dataset holds the tabular representation shared by every stage of the churn
// engine. A Frame is an ordered set of named string columns; typing happens later, in the
// schema and preprocess packages, so the raw cells of a customer record are never coerced
// silently on load.
//
// The package also owns the only I/O the engine performs: reading CSV sources from local
// paths or HTTP(S) locations and atomically persisting scored datasets.
package dataset

import (
	"fmt"
	"strings"

	"churn-engine/internal/common"
)

// Frame is an immutable table of raw string cells. Callers must not modify the slices
// returned by its accessors.
type Frame struct {
	columns []string
	rows    [][]string
	index   map[string]int
}

// New builds a frame from a header and rows. Every row must have exactly one cell per
// column and header names must be unique.
func New(columns []string, rows [][]string) (*Frame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("frame has no columns")
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		index[name] = i
	}

	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(columns))
		}
	}

	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = strings.TrimSpace(c)
	}

	return &Frame{columns: cols, rows: rows, index: index}, nil
}

// Columns returns the header in file order.
func (f *Frame) Columns() []string {
	return f.columns
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rows)
}

// Has reports whether the named column exists.
func (f *Frame) Has(column string) bool {
	_, ok := f.index[column]
	return ok
}

// ColumnIndex returns the position of a column.
func (f *Frame) ColumnIndex(column string) (int, bool) {
	i, ok := f.index[column]
	return i, ok
}

// Row returns the raw cells of one row.
func (f *Frame) Row(i int) []string {
	return f.rows[i]
}

// Value returns one cell, or "" when the column does not exist.
func (f *Frame) Value(row int, column string) string {
	i, ok := f.index[column]
	if !ok {
		return ""
	}
	return f.rows[row][i]
}

// Column copies one column out of the frame.
func (f *Frame) Column(column string) ([]string, error) {
	i, ok := f.index[column]
	if !ok {
		return nil, fmt.Errorf("column %q not found", column)
	}
	out := make([]string, len(f.rows))
	for r, row := range f.rows {
		out[r] = row[i]
	}
	return out, nil
}

// WithColumn returns a new frame with one column appended. If the column already exists
// its values are replaced in place of the old column, keeping the layout stable for
// consumers that re-score a previously scored file.
func (f *Frame) WithColumn(name string, values []string) (*Frame, error) {
	if len(values) != len(f.rows) {
		return nil, fmt.Errorf("column %q has %d values, frame has %d rows", name, len(values), len(f.rows))
	}

	pos, exists := f.index[name]
	columns := f.columns
	if !exists {
		columns = append(append([]string{}, f.columns...), name)
		pos = len(f.columns)
	}

	rows := make([][]string, len(f.rows))
	for i, row := range f.rows {
		out := make([]string, len(columns))
		copy(out, row)
		out[pos] = values[i]
		rows[i] = out
	}

	return New(columns, rows)
}

// IsMissing reports whether a raw cell denotes an absent value.
func IsMissing(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, tok := range common.MissingTokens {
		if v == tok {
			return true
		}
	}
	return false
}
