package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Filter operators.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
	OpIn                 = "in"
	OpNotIn              = "not_in"
	OpIsNull             = "is_null"
	OpIsNotNull          = "is_not_null"
)

var filterOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpGreaterThanOrEqual: true,
	OpLessThan: true, OpLessThanOrEqual: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpIn: true, OpNotIn: true,
	OpIsNull: true, OpIsNotNull: true,
}

const filterConfigSchema = `{
  "type": "object",
  "properties": {
    "conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "column": {"type": "string"},
          "operator": {"type": "string", "enum": ["equals","not_equals","greater_than","greater_than_or_equal","less_than","less_than_or_equal","contains","not_contains","starts_with","ends_with","in","not_in","is_null","is_not_null"]},
          "value": {}
        },
        "required": ["column", "operator"]
      }
    },
    "logicalOperator": {"type": "string", "enum": ["and", "or"], "default": "and"},
    "caseSensitive": {"type": "boolean", "default": true},
    "column": {"type": "string"},
    "operator": {"type": "string"},
    "value": {}
  }
}`

type filterCondition struct {
	Column   string
	Operator string
	Value    string
	HasValue bool
}

// FilterExecutor keeps rows matching a set of column conditions.
type FilterExecutor struct{}

// NewFilterExecutor creates a filter executor.
func NewFilterExecutor() *FilterExecutor { return &FilterExecutor{} }

func (e *FilterExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "filter",
		Name:         "Filter",
		Category:     CategoryTransform,
		Description:  "Keep rows that satisfy column conditions combined with and/or.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(filterConfigSchema),
	}
}

func (e *FilterExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ds := requireInput(ec, result)

	conds := parseConditions(ec.Config)
	if len(conds) == 0 {
		result.AddError("config.conditions", schema.ErrCodeValidation, "At least one filter condition is required")
	}
	for i, c := range conds {
		path := fmt.Sprintf("config.conditions[%d]", i)
		requireColumn(ds, c.Column, path+".column", result)
		if !filterOperators[c.Operator] {
			result.AddError(path+".operator", schema.ErrCodeValidation, fmt.Sprintf("Invalid filter operator %q", c.Operator))
			continue
		}
		if c.Operator != OpIsNull && c.Operator != OpIsNotNull && !c.HasValue {
			result.AddError(path+".value", schema.ErrCodeValidation, fmt.Sprintf("Value is required for operator %q", c.Operator))
		}
	}

	switch stringParam(ec.Config, "logicalOperator", "and") {
	case "and", "or":
	default:
		result.AddError("config.logicalOperator", schema.ErrCodeValidation, "Logical operator must be 'and' or 'or'")
	}
	return result
}

func (e *FilterExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	conds := parseConditions(ec.Config)
	useOr := stringParam(ec.Config, "logicalOperator", "and") == "or"
	caseSensitive := boolParam(ec.Config, "caseSensitive", true)

	idx := make([]int, len(conds))
	for i, c := range conds {
		idx[i] = in.ColumnIndex(c.Column)
	}

	rows := make([][]any, 0, len(in.Rows))
	for _, row := range in.Rows {
		keep := !useOr
		for i, c := range conds {
			match := MatchCondition(c.Operator, cellAt(row, idx[i]), c.Value, caseSensitive)
			if useOr && match {
				keep = true
				break
			}
			if !useOr && !match {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, append([]any{}, row...))
		}
	}

	out := dataset.New(append([]string{}, in.Columns...), rows)
	return Succeeded(out), nil
}

// parseConditions reads conditions[], falling back to a single top-level
// column/operator/value condition.
func parseConditions(config map[string]any) []filterCondition {
	var conds []filterCondition
	for _, raw := range objectListParam(config, "conditions") {
		_, hasValue := raw["value"]
		conds = append(conds, filterCondition{
			Column:   stringParam(raw, "column", ""),
			Operator: stringParam(raw, "operator", ""),
			Value:    valueParam(raw, "value"),
			HasValue: hasValue && raw["value"] != nil,
		})
	}
	if len(conds) == 0 && stringParam(config, "column", "") != "" {
		_, hasValue := config["value"]
		conds = append(conds, filterCondition{
			Column:   stringParam(config, "column", ""),
			Operator: stringParam(config, "operator", OpEquals),
			Value:    valueParam(config, "value"),
			HasValue: hasValue && config["value"] != nil,
		})
	}
	return conds
}

// MatchCondition evaluates one filter operator against a cell value.
// Negated operators are the exact complement of their positive form.
func MatchCondition(op string, cell any, value string, caseSensitive bool) bool {
	switch op {
	case OpEquals:
		return valuesEqual(cell, value, caseSensitive)
	case OpNotEquals:
		return !valuesEqual(cell, value, caseSensitive)
	case OpGreaterThan:
		c, ok := compareCell(cell, value)
		return ok && c > 0
	case OpGreaterThanOrEqual:
		c, ok := compareCell(cell, value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := compareCell(cell, value)
		return ok && c < 0
	case OpLessThanOrEqual:
		c, ok := compareCell(cell, value)
		return ok && c <= 0
	case OpContains:
		return strings.Contains(fold(dataset.String(cell), caseSensitive), fold(value, caseSensitive))
	case OpNotContains:
		return !strings.Contains(fold(dataset.String(cell), caseSensitive), fold(value, caseSensitive))
	case OpStartsWith:
		return strings.HasPrefix(fold(dataset.String(cell), caseSensitive), fold(value, caseSensitive))
	case OpEndsWith:
		return strings.HasSuffix(fold(dataset.String(cell), caseSensitive), fold(value, caseSensitive))
	case OpIn:
		return inList(cell, value, caseSensitive)
	case OpNotIn:
		return !inList(cell, value, caseSensitive)
	case OpIsNull:
		return isBlank(cell)
	case OpIsNotNull:
		return !isBlank(cell)
	}
	return false
}

func valuesEqual(cell any, value string, caseSensitive bool) bool {
	if a, ok := dataset.AsNumber(cell); ok {
		if b, ok := dataset.AsNumber(value); ok {
			return a == b
		}
	}
	return fold(dataset.String(cell), caseSensitive) == fold(value, caseSensitive)
}

// compareCell orders a cell against a value: numerically when both are
// numbers, by timestamp when both are dates, otherwise as strings. Null cells
// are not comparable.
func compareCell(cell any, value string) (int, bool) {
	if cell == nil {
		return 0, false
	}
	if a, ok := dataset.AsNumber(cell); ok {
		if b, ok := dataset.AsNumber(value); ok {
			return cmpFloat(a, b), true
		}
	}
	if a, ok := dataset.ToTime(cell); ok {
		if b, ok := dataset.ToTime(value); ok {
			return a.Compare(b), true
		}
	}
	return strings.Compare(dataset.String(cell), value), true
}

func inList(cell any, list string, caseSensitive bool) bool {
	for _, item := range strings.Split(list, ",") {
		if valuesEqual(cell, strings.TrimSpace(item), caseSensitive) {
			return true
		}
	}
	return false
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cellAt(row []any, idx int) any {
	if idx >= 0 && idx < len(row) {
		return row[idx]
	}
	return nil
}
