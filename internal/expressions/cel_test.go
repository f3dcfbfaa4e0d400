package expressions

import (
	"context"
	"testing"

	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_RowPredicate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := e.EvaluateBool(ctx, `row.dept == "tech" && row.salary > 8000`,
		map[string]any{"row": map[string]any{"dept": "tech", "salary": 9000.0}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(ctx, `row.dept == "tech" && row.salary > 8000`,
		map[string]any{"row": map[string]any{"dept": "tech", "salary": 7800}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_IndexAndColumns(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), `index < 2 && "dept" in columns`,
		map[string]any{"index": 1, "columns": []string{"dept", "salary"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_HasMacro(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), `has(row.bonus)`,
		map[string]any{"row": map[string]any{"salary": 1}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_NonBoolResult(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), `1 + 2`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile(`row.salary >`)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	err = e.Compile(`unknown_var == 1`)
	require.Error(t, err, "undeclared variables are rejected at compile time")
}
