package executors

import (
	"context"
	"testing"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(column, op string, value any) map[string]any {
	return map[string]any{"column": column, "operator": op, "value": value}
}

func TestFilter_EqualsAndNotEqualsPartition(t *testing.T) {
	in := staff()
	ex := NewFilterExecutor()

	eq := execute(t, ex, newContext(in, map[string]any{
		"conditions": []any{cond("dept", OpEquals, "tech")},
	})).Output
	ne := execute(t, ex, newContext(in, map[string]any{
		"conditions": []any{cond("dept", OpNotEquals, "tech")},
	})).Output

	assert.Equal(t, 2, eq.Len())
	assert.Equal(t, 2, ne.Len())
	assert.Equal(t, in.Len(), eq.Len()+ne.Len())

	seen := map[string]bool{}
	for _, n := range append(column(t, eq, "name"), column(t, ne, "name")...) {
		name := n.(string)
		assert.False(t, seen[name], "row %s appears in both partitions", name)
		seen[name] = true
	}
}

func TestFilter_NumericEquality(t *testing.T) {
	out := execute(t, NewFilterExecutor(), newContext(staff(), map[string]any{
		"conditions": []any{cond("salary", OpEquals, "9000.0")},
	})).Output
	assert.Equal(t, []any{"Ben"}, column(t, out, "name"))
}

func TestFilter_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond map[string]any
		want []any
	}{
		{"greater_than", cond("salary", OpGreaterThan, 7000), []any{"Ana", "Ben"}},
		{"less_than_or_equal", cond("salary", OpLessThanOrEqual, 8000), []any{"Ana", "Cy"}},
		{"contains", cond("name", OpContains, "n"), []any{"Ana", "Ben"}},
		{"starts_with", cond("dept", OpStartsWith, "sa"), []any{"Di"}},
		{"ends_with", cond("dept", OpEndsWith, "ch"), []any{"Ana", "Ben"}},
		{"in", cond("dept", OpIn, "hr, sales"), []any{"Cy", "Di"}},
		{"not_in", cond("dept", OpNotIn, []any{"hr", "sales"}), []any{"Ana", "Ben"}},
		{"is_null", map[string]any{"column": "salary", "operator": OpIsNull}, []any{"Di"}},
		{"is_not_null", map[string]any{"column": "salary", "operator": OpIsNotNull}, []any{"Ana", "Ben", "Cy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := execute(t, NewFilterExecutor(), newContext(staff(), map[string]any{
				"conditions": []any{tt.cond},
			})).Output
			assert.Equal(t, tt.want, column(t, out, "name"))
		})
	}
}

func TestFilter_LogicalOr(t *testing.T) {
	out := execute(t, NewFilterExecutor(), newContext(staff(), map[string]any{
		"conditions": []any{
			cond("dept", OpEquals, "hr"),
			cond("salary", OpGreaterThan, 8500),
		},
		"logicalOperator": "or",
	})).Output
	assert.Equal(t, []any{"Ben", "Cy"}, column(t, out, "name"))
}

func TestFilter_CaseInsensitive(t *testing.T) {
	out := execute(t, NewFilterExecutor(), newContext(staff(), map[string]any{
		"conditions":    []any{cond("dept", OpEquals, "TECH")},
		"caseSensitive": false,
	})).Output
	assert.Equal(t, 2, out.Len())
}

func TestFilter_DateComparison(t *testing.T) {
	in := dataset.New([]string{"day"}, [][]any{{"2024-01-05"}, {"2024-03-01"}})
	out := execute(t, NewFilterExecutor(), newContext(in, map[string]any{
		"conditions": []any{cond("day", OpGreaterThan, "2024-02-01")},
	})).Output
	assert.Equal(t, []any{"2024-03-01"}, column(t, out, "day"))
}

func TestFilter_Validation(t *testing.T) {
	ex := NewFilterExecutor()

	res := ex.Validate(newContext(nil, map[string]any{}))
	assert.Contains(t, res.ErrorMessages(), "Input dataset is required")
	assert.Contains(t, res.ErrorMessages(), "At least one filter condition is required")

	res = ex.Validate(newContext(staff(), map[string]any{
		"conditions": []any{cond("missing", OpEquals, "x")},
	}))
	assert.Contains(t, res.ErrorMessages(), `Column "missing" not found in input dataset`)

	res = ex.Validate(newContext(staff(), map[string]any{
		"conditions": []any{map[string]any{"column": "dept", "operator": "like"}},
	}))
	assert.False(t, res.Valid())

	_, err := ex.Execute(context.Background(), newContext(staff(), map[string]any{}))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestMatchCondition(t *testing.T) {
	assert.True(t, MatchCondition(OpEquals, 10, "10", true))
	assert.False(t, MatchCondition(OpNotEquals, 10, "10", true))
	assert.True(t, MatchCondition(OpIsNull, "", "", true))
	assert.False(t, MatchCondition(OpGreaterThan, nil, "1", true))
	assert.True(t, MatchCondition(OpLessThan, "apple", "banana", true))
}
