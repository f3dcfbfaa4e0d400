package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/dataflow/internal/expressions"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const jqConfigSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string"}
  },
  "required": ["query"]
}`

// JQExecutor reshapes the input with a jq query. The query receives the
// records as an array of objects; its output is coerced back to a dataset.
type JQExecutor struct {
	engine *expressions.GoJQEngine
}

// NewJQExecutor creates a jq executor.
func NewJQExecutor() *JQExecutor {
	return &JQExecutor{engine: expressions.NewGoJQEngine()}
}

func (e *JQExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "jq",
		Name:         "jq",
		Category:     CategoryTransform,
		Description:  `Reshape records with a jq query, e.g. map(select(.active)) | map({name, salary}).`,
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(jqConfigSchema),
	}
}

func (e *JQExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	requireInput(ec, result)

	query := stringParam(ec.Config, "query", "")
	if query == "" {
		result.AddError("config.query", schema.ErrCodeValidation, "Query is required")
	} else if err := e.engine.Compile(query); err != nil {
		result.AddError("config.query", schema.ErrCodeValidation, fmt.Sprintf("Invalid query: %v", err))
	}
	return result
}

func (e *JQExecutor) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()

	results, err := e.engine.Run(ctx, stringParam(ec.Config, "query", ""), in.Records())
	if err != nil {
		if de, ok := err.(*schema.DataflowError); ok {
			return nil, de.WithNode(ec.NodeID)
		}
		return nil, err
	}

	for i, r := range results {
		results[i] = expressions.Normalize(r)
	}
	var out *dataset.Dataset
	if len(results) == 1 {
		out = dataset.FromValue(results[0])
	} else {
		out = dataset.FromValue(results)
	}
	return Succeeded(orderLike(out, in.Columns)), nil
}

// orderLike reorders columns that also exist in ref to follow ref's order.
// jq objects carry no key order, so without this every projection would come
// back alphabetized. Unknown columns keep their relative order at the end.
func orderLike(ds *dataset.Dataset, ref []string) *dataset.Dataset {
	pos := make(map[string]int, len(ref))
	for i, c := range ref {
		pos[c] = i
	}
	perm := make([]int, len(ds.Columns))
	for i := range perm {
		perm[i] = i
	}
	rank := func(col string) int {
		if p, ok := pos[col]; ok {
			return p
		}
		return len(ref)
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return rank(ds.Columns[perm[a]]) < rank(ds.Columns[perm[b]])
	})

	columns := make([]string, len(perm))
	for i, p := range perm {
		columns[i] = ds.Columns[p]
	}
	rows := make([][]any, len(ds.Rows))
	for r, row := range ds.Rows {
		out := make([]any, len(perm))
		for i, p := range perm {
			out[i] = cellAt(row, p)
		}
		rows[r] = out
	}
	return dataset.New(columns, rows)
}
