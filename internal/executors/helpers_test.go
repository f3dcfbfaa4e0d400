package executors

import (
	"context"
	"testing"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/require"
)

// stubExecutor is a minimal Executor for registry tests.
type stubExecutor struct {
	nodeType string
	desc     string
}

func (s *stubExecutor) Definition() NodeDefinition {
	return NodeDefinition{Type: s.nodeType, Name: s.nodeType, Category: CategoryTransform, Description: s.desc}
}
func (s *stubExecutor) Validate(_ *ExecutionContext) *schema.ValidationResult {
	return &schema.ValidationResult{}
}
func (s *stubExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	return Succeeded(ec.PrimaryInput()), nil
}

func newContext(input *dataset.Dataset, config map[string]any) *ExecutionContext {
	ec := &ExecutionContext{NodeID: "node-1", Config: config}
	if input != nil {
		ec.Inputs = map[string]*dataset.Dataset{schema.DefaultHandle: input}
	}
	if ec.Config == nil {
		ec.Config = map[string]any{}
	}
	return ec
}

func staff() *dataset.Dataset {
	return dataset.New([]string{"name", "dept", "salary"}, [][]any{
		{"Ana", "tech", 8000},
		{"Ben", "tech", 9000},
		{"Cy", "hr", 6500},
		{"Di", "sales", nil},
	})
}

func execute(t *testing.T, ex Executor, ec *ExecutionContext) *Result {
	t.Helper()
	res, err := ex.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Output)
	return res
}

func column(t *testing.T, ds *dataset.Dataset, name string) []any {
	t.Helper()
	vals, ok := ds.Column(name)
	require.True(t, ok, "column %q missing", name)
	return vals
}
