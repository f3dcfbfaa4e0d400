package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const selectConfigSchema = `{
  "type": "object",
  "properties": {
    "columns": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "rename": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "required": ["columns"]
}`

// SelectExecutor projects, reorders and renames columns.
type SelectExecutor struct{}

// NewSelectExecutor creates a select executor.
func NewSelectExecutor() *SelectExecutor { return &SelectExecutor{} }

func (e *SelectExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "select",
		Name:         "Select Columns",
		Category:     CategoryTransform,
		Description:  "Keep the listed columns in the given order, optionally renaming them.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(selectConfigSchema),
	}
}

func (e *SelectExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ds := requireInput(ec, result)

	columns := stringListParam(ec.Config, "columns")
	if len(columns) == 0 {
		result.AddError("config.columns", schema.ErrCodeValidation, "At least one column is required")
	}
	seen := map[string]bool{}
	for i, c := range columns {
		requireColumn(ds, c, fmt.Sprintf("config.columns[%d]", i), result)
		if seen[c] {
			result.AddError(fmt.Sprintf("config.columns[%d]", i), schema.ErrCodeValidation, fmt.Sprintf("Column %q selected twice", c))
		}
		seen[c] = true
	}

	names := map[string]bool{}
	rename := stringMapParam(ec.Config, "rename")
	for _, c := range columns {
		name := c
		if to, ok := rename[c]; ok && to != "" {
			name = to
		}
		if names[name] {
			result.AddError("config.rename", schema.ErrCodeValidation, fmt.Sprintf("Duplicate output column %q", name))
		}
		names[name] = true
	}
	return result
}

func (e *SelectExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	selected := stringListParam(ec.Config, "columns")
	rename := stringMapParam(ec.Config, "rename")

	columns := make([]string, len(selected))
	idx := make([]int, len(selected))
	for i, c := range selected {
		idx[i] = in.ColumnIndex(c)
		columns[i] = c
		if to, ok := rename[c]; ok && to != "" {
			columns[i] = to
		}
	}

	rows := make([][]any, len(in.Rows))
	for r, row := range in.Rows {
		out := make([]any, len(idx))
		for i, j := range idx {
			out[i] = cellAt(row, j)
		}
		rows[r] = out
	}
	return Succeeded(dataset.New(columns, rows)), nil
}
