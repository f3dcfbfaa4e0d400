package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Merge input handles.
const (
	HandleLeft  = "left"
	HandleRight = "right"
)

const mergeConfigSchema = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["append", "join"], "default": "append"},
    "joinType": {"type": "string", "enum": ["inner", "left"], "default": "inner"},
    "leftKey": {"type": "string"},
    "rightKey": {"type": "string"}
  }
}`

// MergeExecutor combines the datasets on its left and right handles, either
// stacking rows or joining on a key.
type MergeExecutor struct{}

// NewMergeExecutor creates a merge executor.
func NewMergeExecutor() *MergeExecutor { return &MergeExecutor{} }

func (e *MergeExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "merge",
		Name:         "Merge",
		Category:     CategoryTransform,
		Description:  "Append the right dataset below the left one, or join them on key columns.",
		Inputs:       []string{HandleLeft, HandleRight},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(mergeConfigSchema),
	}
}

func (e *MergeExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	left, right := ec.Input(HandleLeft), ec.Input(HandleRight)
	if left == nil {
		result.AddError("inputs.left", schema.ErrCodeValidation, "Left input dataset is required")
	}
	if right == nil {
		result.AddError("inputs.right", schema.ErrCodeValidation, "Right input dataset is required")
	}

	switch stringParam(ec.Config, "mode", "append") {
	case "append":
	case "join":
		switch stringParam(ec.Config, "joinType", "inner") {
		case "inner", "left":
		default:
			result.AddError("config.joinType", schema.ErrCodeValidation, "Join type must be 'inner' or 'left'")
		}
		requireColumn(left, stringParam(ec.Config, "leftKey", ""), "config.leftKey", result)
		requireColumn(right, stringParam(ec.Config, "rightKey", ""), "config.rightKey", result)
	default:
		result.AddError("config.mode", schema.ErrCodeValidation, "Merge mode must be 'append' or 'join'")
	}
	return result
}

func (e *MergeExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	left, right := ec.Input(HandleLeft), ec.Input(HandleRight)

	if stringParam(ec.Config, "mode", "append") == "join" {
		return Succeeded(join(left, right,
			stringParam(ec.Config, "leftKey", ""),
			stringParam(ec.Config, "rightKey", ""),
			stringParam(ec.Config, "joinType", "inner") == "left")), nil
	}
	return Succeeded(appendRows(left, right)), nil
}

// appendRows stacks right below left over the union of their columns, left
// columns first. Cells a side lacks are null.
func appendRows(left, right *dataset.Dataset) *dataset.Dataset {
	columns := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if !left.HasColumn(c) {
			columns = append(columns, c)
		}
	}

	rows := make([][]any, 0, len(left.Rows)+len(right.Rows))
	for _, src := range []*dataset.Dataset{left, right} {
		idx := make([]int, len(columns))
		for i, c := range columns {
			idx[i] = src.ColumnIndex(c)
		}
		for _, row := range src.Rows {
			out := make([]any, len(columns))
			for i, j := range idx {
				out[i] = cellAt(row, j)
			}
			rows = append(rows, out)
		}
	}
	return dataset.New(columns, rows)
}

// join matches rows on leftKey = rightKey. Right columns follow the left ones;
// the right key is dropped when it shares the left key's name and other name
// clashes get a _right suffix. Left join keeps unmatched left rows with nulls.
func join(left, right *dataset.Dataset, leftKey, rightKey string, keepUnmatched bool) *dataset.Dataset {
	li, ri := left.ColumnIndex(leftKey), right.ColumnIndex(rightKey)

	columns := append([]string{}, left.Columns...)
	var rightIdx []int
	for j, c := range right.Columns {
		if j == ri && c == leftKey {
			continue
		}
		name := c
		for left.HasColumn(name) || slices.Contains(columns, name) {
			name = fmt.Sprintf("%s_right", name)
		}
		columns = append(columns, name)
		rightIdx = append(rightIdx, j)
	}

	index := make(map[string][]int, len(right.Rows))
	for r, row := range right.Rows {
		v := cellAt(row, ri)
		if dataset.IsNull(v) {
			continue
		}
		k := dataset.Key(v)
		index[k] = append(index[k], r)
	}

	rows := make([][]any, 0, len(left.Rows))
	for _, lrow := range left.Rows {
		v := cellAt(lrow, li)
		var matches []int
		if !dataset.IsNull(v) {
			matches = index[dataset.Key(v)]
		}
		if len(matches) == 0 {
			if keepUnmatched {
				out := make([]any, len(columns))
				copy(out, lrow)
				rows = append(rows, out)
			}
			continue
		}
		for _, r := range matches {
			out := make([]any, len(columns))
			copy(out, lrow)
			for i, j := range rightIdx {
				out[len(left.Columns)+i] = cellAt(right.Rows[r], j)
			}
			rows = append(rows, out)
		}
	}
	return dataset.New(columns, rows)
}
