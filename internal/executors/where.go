package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/dataflow/internal/expressions"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const whereConfigSchema = `{
  "type": "object",
  "properties": {
    "condition": {"type": "string"}
  },
  "required": ["condition"]
}`

// WhereExecutor keeps rows for which a CEL predicate holds. The predicate
// sees row, index and columns.
type WhereExecutor struct {
	engine *expressions.CELEngine
}

// NewWhereExecutor creates a where executor.
func NewWhereExecutor() (*WhereExecutor, error) {
	engine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &WhereExecutor{engine: engine}, nil
}

func (e *WhereExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "where",
		Name:         "Where",
		Category:     CategoryTransform,
		Description:  `Keep rows matching a CEL condition, e.g. row.salary > 60000 && row.active.`,
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(whereConfigSchema),
	}
}

func (e *WhereExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	requireInput(ec, result)

	condition := stringParam(ec.Config, "condition", "")
	if condition == "" {
		result.AddError("config.condition", schema.ErrCodeValidation, "Condition is required")
	} else if err := e.engine.Compile(condition); err != nil {
		result.AddError("config.condition", schema.ErrCodeValidation, fmt.Sprintf("Invalid condition: %v", err))
	}
	return result
}

func (e *WhereExecutor) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	condition := stringParam(ec.Config, "condition", "")
	columns := append([]string{}, in.Columns...)

	rows := make([][]any, 0, len(in.Rows))
	for i, row := range in.Rows {
		record := make(map[string]any, len(in.Columns))
		for j, c := range in.Columns {
			record[c] = cellAt(row, j)
		}
		keep, err := e.engine.EvaluateBool(ctx, condition, map[string]any{
			"row":     record,
			"index":   i,
			"columns": columns,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "row %d: %v", i, err).
				WithNode(ec.NodeID).WithCause(err)
		}
		if keep {
			rows = append(rows, append([]any{}, row...))
		}
	}
	return Succeeded(dataset.New(columns, rows)), nil
}
