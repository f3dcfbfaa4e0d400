package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/dataflow/internal/expressions"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const calculateConfigSchema = `{
  "type": "object",
  "properties": {
    "column": {"type": "string"},
    "expression": {"type": "string"}
  },
  "required": ["column", "expression"]
}`

// CalculateExecutor adds or overwrites a column computed per row with an
// expr-lang expression. Row fields are variables; index is the row number.
type CalculateExecutor struct {
	engine *expressions.ExprEngine
}

// NewCalculateExecutor creates a calculate executor.
func NewCalculateExecutor() *CalculateExecutor {
	return &CalculateExecutor{engine: expressions.NewExprEngine()}
}

func (e *CalculateExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "calculate",
		Name:         "Calculate",
		Category:     CategoryTransform,
		Description:  "Compute a column from an expression over each row, e.g. price * units.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(calculateConfigSchema),
	}
}

func (e *CalculateExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	requireInput(ec, result)

	if stringParam(ec.Config, "column", "") == "" {
		result.AddError("config.column", schema.ErrCodeValidation, "Column name is required")
	}
	expression := stringParam(ec.Config, "expression", "")
	if expression == "" {
		result.AddError("config.expression", schema.ErrCodeValidation, "Expression is required")
	} else if err := e.engine.Compile(expression); err != nil {
		result.AddError("config.expression", schema.ErrCodeValidation, fmt.Sprintf("Invalid expression: %v", err))
	}
	return result
}

func (e *CalculateExecutor) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	column := stringParam(ec.Config, "column", "")
	expression := stringParam(ec.Config, "expression", "")

	columns := append([]string{}, in.Columns...)
	target := in.ColumnIndex(column)
	if target < 0 {
		columns = append(columns, column)
		target = len(columns) - 1
	}

	rows := make([][]any, len(in.Rows))
	for i, row := range in.Rows {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "calculation cancelled").
				WithNode(ec.NodeID).WithCause(err)
		}
		env := make(map[string]any, len(in.Columns)+1)
		for j, c := range in.Columns {
			env[c] = cellAt(row, j)
		}
		env["index"] = i

		v, err := e.engine.Evaluate(ctx, expression, env)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "row %d: %v", i, err).
				WithNode(ec.NodeID).WithCause(err)
		}
		if f, ok := dataset.ToFloat(v); ok {
			v = f
		}

		out := make([]any, len(columns))
		copy(out, row)
		out[target] = v
		rows[i] = out
	}
	return Succeeded(dataset.New(columns, rows)), nil
}
