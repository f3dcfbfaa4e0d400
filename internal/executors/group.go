package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Aggregation functions.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggFirst = "first"
	AggLast  = "last"
)

var aggregationFunctions = map[string]bool{
	AggCount: true, AggSum: true, AggAvg: true, AggMin: true, AggMax: true, AggFirst: true, AggLast: true,
}

const groupConfigSchema = `{
  "type": "object",
  "properties": {
    "groupColumns": {"type": "array", "items": {"type": "string"}},
    "aggregations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "column": {"type": "string"},
          "function": {"type": "string"},
          "alias": {"type": "string"}
        },
        "required": ["function"]
      }
    },
    "sortGroups": {"type": "boolean", "default": false}
  }
}`

type aggregation struct {
	Column   string
	Function string
	Alias    string
}

func (a aggregation) outputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Column == "" {
		return a.Function
	}
	return a.Function + "_" + a.Column
}

// GroupExecutor groups rows by the combined key of one or more columns and
// computes aggregations per group.
type GroupExecutor struct{}

// NewGroupExecutor creates a group executor.
func NewGroupExecutor() *GroupExecutor { return &GroupExecutor{} }

func (e *GroupExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "group",
		Name:         "Group",
		Category:     CategoryTransform,
		Description:  "Group rows and aggregate with count, sum, avg, min, max, first or last.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(groupConfigSchema),
	}
}

func (e *GroupExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ds := ec.PrimaryInput()
	if ds == nil {
		result.AddError("inputs."+schema.DefaultHandle, schema.ErrCodeValidation, "Input dataset is required")
	}

	groupCols := stringListParam(ec.Config, "groupColumns")
	if len(groupCols) == 0 {
		result.AddError("config.groupColumns", schema.ErrCodeValidation, "At least one group column is required")
	}
	for i, c := range groupCols {
		if ds != nil && !ds.HasColumn(c) {
			result.AddError(fmt.Sprintf("config.groupColumns[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("Group column %q not found in input dataset", c))
		}
	}

	seen := map[string]bool{}
	for _, c := range groupCols {
		seen[c] = true
	}
	for i, agg := range parseAggregations(ec.Config) {
		path := fmt.Sprintf("config.aggregations[%d]", i)
		if !aggregationFunctions[agg.Function] {
			result.AddError(path+".function", schema.ErrCodeValidation, "Invalid aggregation function")
			continue
		}
		if agg.Function != AggCount || agg.Column != "" {
			requireColumn(ds, agg.Column, path+".column", result)
		}
		name := agg.outputName()
		if seen[name] {
			result.AddWarning(path+".alias", schema.ErrCodeValidation,
				fmt.Sprintf("Output column %q is produced more than once", name))
		}
		seen[name] = true
	}
	return result
}

func (e *GroupExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	groupCols := stringListParam(ec.Config, "groupColumns")
	aggs := parseAggregations(ec.Config)

	groupIdx := make([]int, len(groupCols))
	for i, c := range groupCols {
		groupIdx[i] = in.ColumnIndex(c)
	}

	type group struct {
		key  []any
		rows [][]any
	}
	var order []*group
	byKey := map[string]*group{}
	for _, row := range in.Rows {
		parts := make([]string, len(groupIdx))
		key := make([]any, len(groupIdx))
		for i, idx := range groupIdx {
			key[i] = cellAt(row, idx)
			parts[i] = dataset.Key(key[i])
		}
		k := strings.Join(parts, "\x1f")
		g, ok := byKey[k]
		if !ok {
			g = &group{key: key}
			byKey[k] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, row)
	}

	coll := collate.New(language.English)
	if boolParam(ec.Config, "sortGroups", false) {
		types := make([]dataset.ColumnType, len(groupCols))
		for i, c := range groupCols {
			types[i] = in.Metadata.Types[c]
		}
		sort.SliceStable(order, func(i, j int) bool {
			for k := range groupCols {
				if c := compareForSort(order[i].key[k], order[j].key[k], types[k], coll); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	columns := append([]string{}, groupCols...)
	for _, agg := range aggs {
		columns = append(columns, agg.outputName())
	}

	rows := make([][]any, 0, len(order))
	for _, g := range order {
		row := append([]any{}, g.key...)
		for _, agg := range aggs {
			idx := -1
			if agg.Column != "" {
				idx = in.ColumnIndex(agg.Column)
			}
			row = append(row, aggregate(agg.Function, g.rows, idx, in.Metadata.Types[agg.Column], coll))
		}
		rows = append(rows, row)
	}

	return Succeeded(dataset.New(columns, rows)), nil
}

func parseAggregations(config map[string]any) []aggregation {
	var aggs []aggregation
	for _, raw := range objectListParam(config, "aggregations") {
		aggs = append(aggs, aggregation{
			Column:   stringParam(raw, "column", ""),
			Function: stringParam(raw, "function", ""),
			Alias:    stringParam(raw, "alias", ""),
		})
	}
	return aggs
}

// aggregate computes one function over a group's rows. idx is -1 when the
// aggregation has no target column (count only). Sums and averages consider
// numeric cells only; count with a column counts non-null cells.
func aggregate(fn string, rows [][]any, idx int, typ dataset.ColumnType, coll *collate.Collator) any {
	switch fn {
	case AggCount:
		if idx < 0 {
			return len(rows)
		}
		n := 0
		for _, row := range rows {
			if cellAt(row, idx) != nil {
				n++
			}
		}
		return n

	case AggSum, AggAvg:
		sum, n := 0.0, 0
		for _, row := range rows {
			if f, ok := dataset.AsNumber(cellAt(row, idx)); ok {
				sum += f
				n++
			}
		}
		if fn == AggSum {
			return sum
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)

	case AggMin, AggMax:
		var best any
		for _, row := range rows {
			v := cellAt(row, idx)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareForSort(v, best, typ, coll)
			if (fn == AggMin && c < 0) || (fn == AggMax && c > 0) {
				best = v
			}
		}
		return best

	case AggFirst:
		if len(rows) == 0 {
			return nil
		}
		return cellAt(rows[0], idx)

	case AggLast:
		if len(rows) == 0 {
			return nil
		}
		return cellAt(rows[len(rows)-1], idx)
	}
	return nil
}
