package dataset

import (
	"fmt"
	"time"

	"github.com/rendis/dataflow/pkg/schema"
)

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
	TypeNull    ColumnType = "null"
)

// Metadata holds facts derived from a dataset's columns and rows.
type Metadata struct {
	RowCount    int                   `json:"rowCount"`
	ColumnCount int                   `json:"columnCount"`
	Types       map[string]ColumnType `json:"types"`
	Nullable    map[string]bool       `json:"nullable"`
	Unique      map[string]bool       `json:"unique"`
	Created     time.Time             `json:"created"`
	Modified    time.Time             `json:"modified"`
}

// Dataset is the tabular value exchanged between nodes.
// Rows are positionally aligned to Columns. Transforms build a new Dataset
// instead of mutating one they received.
type Dataset struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Metadata Metadata `json:"metadata"`
}

// New builds a dataset and infers its metadata.
func New(columns []string, rows [][]any) *Dataset {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = [][]any{}
	}
	now := time.Now().UTC()
	d := &Dataset{Columns: columns, Rows: rows}
	d.Metadata = InferMetadata(columns, rows)
	d.Metadata.Created = now
	d.Metadata.Modified = now
	return d
}

// Refresh recomputes metadata from the current columns and rows.
func (d *Dataset) Refresh() {
	created := d.Metadata.Created
	d.Metadata = InferMetadata(d.Columns, d.Rows)
	if created.IsZero() {
		created = time.Now().UTC()
	}
	d.Metadata.Created = created
	d.Metadata.Modified = time.Now().UTC()
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of a column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the dataset has the named column.
func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

// Column returns a copy of all values in the named column.
func (d *Dataset) Column(name string) ([]any, bool) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]any, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = cell(row, idx)
	}
	return out, true
}

// Records returns each row as a column-keyed map.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, len(d.Rows))
	for i, row := range d.Rows {
		rec := make(map[string]any, len(d.Columns))
		for j, c := range d.Columns {
			rec[c] = cell(row, j)
		}
		out[i] = rec
	}
	return out
}

// Clone returns a copy that shares no slices or maps with d. Cell values are
// copied shallowly.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	cols := append([]string{}, d.Columns...)
	rows := make([][]any, len(d.Rows))
	for i, row := range d.Rows {
		rows[i] = append([]any{}, row...)
	}
	md := d.Metadata
	md.Types = copyMap(d.Metadata.Types)
	md.Nullable = copyMap(d.Metadata.Nullable)
	md.Unique = copyMap(d.Metadata.Unique)
	return &Dataset{Columns: cols, Rows: rows, Metadata: md}
}

// Validate checks the structural invariants of the dataset. Metadata drift is
// reported as a warning; structural problems are errors.
func (d *Dataset) Validate() *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if d == nil {
		result.AddError("dataset", schema.ErrCodeValidation, "dataset is nil")
		return result
	}
	if len(d.Columns) == 0 {
		result.AddError("columns", schema.ErrCodeValidation, "dataset has no columns")
	}

	seen := make(map[string]bool, len(d.Columns))
	for i, c := range d.Columns {
		if seen[c] {
			result.AddError(fmt.Sprintf("columns[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate column name %q", c))
		}
		seen[c] = true
	}

	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			result.AddError(fmt.Sprintf("rows[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("row has %d values, expected %d", len(row), len(d.Columns)))
		}
	}

	if d.Metadata.RowCount != len(d.Rows) {
		result.AddWarning("metadata.rowCount", schema.ErrCodeValidation,
			fmt.Sprintf("metadata rowCount %d does not match %d rows", d.Metadata.RowCount, len(d.Rows)))
	}
	if d.Metadata.ColumnCount != len(d.Columns) {
		result.AddWarning("metadata.columnCount", schema.ErrCodeValidation,
			fmt.Sprintf("metadata columnCount %d does not match %d columns", d.Metadata.ColumnCount, len(d.Columns)))
	}
	return result
}

func cell(row []any, idx int) any {
	if idx < len(row) {
		return row[idx]
	}
	return nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
