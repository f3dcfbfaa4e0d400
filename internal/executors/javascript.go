package executors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/dataflow/internal/sandbox"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const javascriptConfigSchema = `{
  "type": "object",
  "properties": {
    "code": {"type": "string"},
    "timeout": {"type": "integer", "minimum": 100, "maximum": 30000, "default": 5000},
    "enableConsole": {"type": "boolean", "default": true}
  },
  "required": ["code"]
}`

// JavaScriptExecutor runs user code against the input dataset. The code sees
// the input as `data` and may define process(data) or main(data).
type JavaScriptExecutor struct{}

// NewJavaScriptExecutor creates a javascript executor.
func NewJavaScriptExecutor() *JavaScriptExecutor { return &JavaScriptExecutor{} }

func (e *JavaScriptExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "javascript",
		Name:         "JavaScript",
		Category:     CategoryCode,
		Description:  "Transform the input with sandboxed JavaScript. Define process(data) or main(data).",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(javascriptConfigSchema),
	}
}

func (e *JavaScriptExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	code := stringParam(ec.Config, "code", "")
	if code == "" {
		result.AddError("config.code", schema.ErrCodeValidation, "Code is required")
		return result
	}
	if err := sandbox.Screen(code); err != nil {
		result.AddError("config.code", schema.ErrorCode(err), err.Error())
	}
	if err := sandbox.ValidateTimeout(jsTimeout(ec.Config)); err != nil {
		result.AddError("config.timeout", schema.ErrCodeValidation, err.Error())
	}
	return result
}

func (e *JavaScriptExecutor) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}

	in := ec.PrimaryInput()
	var input any
	if in != nil {
		input = in
	}

	out, err := sandbox.Run(ctx, sandbox.Request{
		Code:    stringParam(ec.Config, "code", ""),
		Input:   input,
		Timeout: jsTimeout(ec.Config),
		Console: boolParam(ec.Config, "enableConsole", true),
	})
	if err != nil {
		if de, ok := err.(*schema.DataflowError); ok {
			return nil, de.WithNode(ec.NodeID)
		}
		return nil, err
	}

	var output *dataset.Dataset
	switch {
	case out.Called():
		output = dataset.FromValue(out.Value)
	case in != nil:
		output = in.Clone()
	default:
		output = dataset.New(nil, nil)
	}

	res := Succeeded(output)
	res.Logs = out.Logs
	return res, nil
}

func jsTimeout(config map[string]any) time.Duration {
	return time.Duration(intParam(config, "timeout", int(sandbox.DefaultTimeout.Milliseconds()))) * time.Millisecond
}
