package executors

import (
	"testing"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleData_Default(t *testing.T) {
	out := execute(t, NewExampleDataExecutor(), newContext(nil, nil)).Output
	assert.Equal(t, []string{"id", "name", "department", "salary", "hire_date", "active"}, out.Columns)
	assert.Equal(t, 10, out.Len())
	assert.Equal(t, dataset.TypeDate, out.Metadata.Types["hire_date"])
	assert.Equal(t, dataset.TypeBoolean, out.Metadata.Types["active"])
}

func TestExampleData_RowCountAndDeterminism(t *testing.T) {
	cfg := map[string]any{"dataset": "weather", "rowCount": 3}
	a := execute(t, NewExampleDataExecutor(), newContext(nil, cfg)).Output
	b := execute(t, NewExampleDataExecutor(), newContext(nil, cfg)).Output
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, a.Rows, b.Rows)

	// Outputs do not share row storage with the built-in tables.
	a.Rows[0][1] = "changed"
	c := execute(t, NewExampleDataExecutor(), newContext(nil, cfg)).Output
	assert.Equal(t, "Lisbon", c.Rows[0][1])
}

func TestExampleData_UnknownDataset(t *testing.T) {
	res := NewExampleDataExecutor().Validate(newContext(nil, map[string]any{"dataset": "nope"}))
	assert.False(t, res.Valid())
	assert.Equal(t, []string{"employees", "products", "sales", "weather"}, SampleDatasetNames())
}

func TestPasteData_CSVWithInference(t *testing.T) {
	out := execute(t, NewPasteDataExecutor(), newContext(nil, map[string]any{
		"data": "name,age,member\nAna,31,true\nBen,,false\n",
	})).Output

	assert.Equal(t, []string{"name", "age", "member"}, out.Columns)
	assert.Equal(t, [][]any{{"Ana", 31.0, true}, {"Ben", nil, false}}, out.Rows)
	assert.True(t, out.Metadata.Nullable["age"])
}

func TestPasteData_TSVDetected(t *testing.T) {
	out := execute(t, NewPasteDataExecutor(), newContext(nil, map[string]any{
		"data": "a\tb\n1\tx\n",
	})).Output
	assert.Equal(t, []string{"a", "b"}, out.Columns)
	assert.Equal(t, [][]any{{1.0, "x"}}, out.Rows)
}

func TestPasteData_NoHeaderNoInference(t *testing.T) {
	out := execute(t, NewPasteDataExecutor(), newContext(nil, map[string]any{
		"data":       "1,2\n3,4",
		"format":     "csv",
		"hasHeader":  false,
		"inferTypes": false,
	})).Output
	assert.Equal(t, []string{"column_1", "column_2"}, out.Columns)
	assert.Equal(t, [][]any{{"1", "2"}, {"3", "4"}}, out.Rows)
}

func TestPasteData_JSONKeepsKeyOrder(t *testing.T) {
	out := execute(t, NewPasteDataExecutor(), newContext(nil, map[string]any{
		"data": `[{"z": 1, "a": "x"}, {"z": 2, "a": "y"}]`,
	})).Output
	assert.Equal(t, []string{"z", "a"}, out.Columns)
	assert.Equal(t, [][]any{{1.0, "x"}, {2.0, "y"}}, out.Rows)
}

func TestPasteData_DuplicateHeaders(t *testing.T) {
	out := execute(t, NewPasteDataExecutor(), newContext(nil, map[string]any{
		"data": "a,a,\n1,2,3",
	})).Output
	assert.Equal(t, []string{"a", "a_2", "column_3"}, out.Columns)
}

func TestPasteData_Errors(t *testing.T) {
	res := NewPasteDataExecutor().Validate(newContext(nil, map[string]any{"data": "  "}))
	assert.Equal(t, []string{"Pasted data is required"}, res.ErrorMessages())

	_, err := NewPasteDataExecutor().Execute(t.Context(), newContext(nil, map[string]any{
		"data": `[{"a": 1}`, "format": "json",
	}))
	require.Error(t, err)
}
