package executors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Executor implements the processing logic of one node type.
type Executor interface {
	Definition() NodeDefinition
	// Validate inspects inputs and config without side effects.
	Validate(ec *ExecutionContext) *schema.ValidationResult
	Execute(ctx context.Context, ec *ExecutionContext) (*Result, error)
}

// Category groups node types in listings.
type Category string

const (
	CategoryInput     Category = "input"
	CategoryTransform Category = "transform"
	CategoryOutput    Category = "output"
	CategoryCode      Category = "code"
)

// NodeDefinition describes a node type: its ports and config contract.
type NodeDefinition struct {
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Category     Category        `json:"category"`
	Description  string          `json:"description,omitempty"`
	Inputs       []string        `json:"inputs,omitempty"`
	Outputs      []string        `json:"outputs,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
}

// ExecutionMetadata identifies the run a node executes within.
type ExecutionMetadata struct {
	ExecutionID string    `json:"execution_id"`
	StartTime   time.Time `json:"start_time"`
}

// ExecutionContext is built fresh for every node execution.
type ExecutionContext struct {
	NodeID   string
	NodeType string
	// Inputs holds upstream outputs keyed by target handle.
	Inputs   map[string]*dataset.Dataset
	Config   map[string]any
	Metadata ExecutionMetadata
}

// Input returns the dataset on a handle, or nil.
func (ec *ExecutionContext) Input(handle string) *dataset.Dataset {
	if ec == nil || ec.Inputs == nil {
		return nil
	}
	return ec.Inputs[handle]
}

// PrimaryInput returns the dataset on the default handle, falling back to the
// only input when exactly one is connected.
func (ec *ExecutionContext) PrimaryInput() *dataset.Dataset {
	if ds := ec.Input(schema.DefaultHandle); ds != nil {
		return ds
	}
	if ec != nil && len(ec.Inputs) == 1 {
		for _, ds := range ec.Inputs {
			return ds
		}
	}
	return nil
}

// Result is the outcome of one node execution.
type Result struct {
	Success bool             `json:"success"`
	Output  *dataset.Dataset `json:"output,omitempty"`
	// Artifact carries a non-tabular product such as a chart configuration.
	Artifact any      `json:"artifact,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Logs     []string `json:"logs,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(output *dataset.Dataset, warnings ...string) *Result {
	return &Result{Success: true, Output: output, Warnings: warnings}
}
