package executors

import (
	"context"
	"encoding/json"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const limitConfigSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 0},
    "offset": {"type": "integer", "minimum": 0, "default": 0}
  },
  "required": ["limit"]
}`

// LimitExecutor keeps a window of rows.
type LimitExecutor struct{}

// NewLimitExecutor creates a limit executor.
func NewLimitExecutor() *LimitExecutor { return &LimitExecutor{} }

func (e *LimitExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "limit",
		Name:         "Limit",
		Category:     CategoryTransform,
		Description:  "Keep at most limit rows after skipping offset rows.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(limitConfigSchema),
	}
}

func (e *LimitExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	requireInput(ec, result)

	if _, ok := ec.Config["limit"]; !ok {
		result.AddError("config.limit", schema.ErrCodeValidation, "Limit is required")
	} else if intParam(ec.Config, "limit", -1) < 0 {
		result.AddError("config.limit", schema.ErrCodeValidation, "Limit must be a non-negative number")
	}
	if intParam(ec.Config, "offset", 0) < 0 {
		result.AddError("config.offset", schema.ErrCodeValidation, "Offset must be a non-negative number")
	}
	return result
}

func (e *LimitExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	limit := intParam(ec.Config, "limit", 0)
	offset := intParam(ec.Config, "offset", 0)

	start := min(offset, len(in.Rows))
	end := min(start+limit, len(in.Rows))

	rows := make([][]any, 0, end-start)
	for _, row := range in.Rows[start:end] {
		rows = append(rows, append([]any{}, row...))
	}
	return Succeeded(dataset.New(append([]string{}, in.Columns...), rows)), nil
}
