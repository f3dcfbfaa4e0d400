package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const sortConfigSchema = `{
  "type": "object",
  "properties": {
    "sortColumns": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "column": {"type": "string"},
          "direction": {"type": "string", "enum": ["asc", "desc"], "default": "asc"}
        },
        "required": ["column"]
      }
    },
    "column": {"type": "string"},
    "direction": {"type": "string", "enum": ["asc", "desc"]},
    "locale": {"type": "string", "default": "en"}
  }
}`

type sortKey struct {
	Column    string
	Direction string
}

// SortExecutor orders rows by one or more columns. Sorting is stable; ties on
// earlier keys fall through to later keys. Nulls sort first ascending.
type SortExecutor struct{}

// NewSortExecutor creates a sort executor.
func NewSortExecutor() *SortExecutor { return &SortExecutor{} }

func (e *SortExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "sort",
		Name:         "Sort",
		Category:     CategoryTransform,
		Description:  "Order rows by one or more columns.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(sortConfigSchema),
	}
}

func (e *SortExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ds := requireInput(ec, result)

	keys := parseSortKeys(ec.Config)
	if len(keys) == 0 {
		result.AddError("config.sortColumns", schema.ErrCodeValidation, "At least one sort column is required")
	}
	for i, k := range keys {
		path := fmt.Sprintf("config.sortColumns[%d]", i)
		requireColumn(ds, k.Column, path+".column", result)
		if k.Direction != "asc" && k.Direction != "desc" {
			result.AddError(path+".direction", schema.ErrCodeValidation, fmt.Sprintf("Invalid sort direction %q", k.Direction))
		}
	}
	if loc := stringParam(ec.Config, "locale", ""); loc != "" {
		if _, err := language.Parse(loc); err != nil {
			result.AddError("config.locale", schema.ErrCodeValidation, fmt.Sprintf("Invalid locale %q", loc))
		}
	}
	return result
}

func (e *SortExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	keys := parseSortKeys(ec.Config)

	tag := language.English
	if loc := stringParam(ec.Config, "locale", ""); loc != "" {
		tag = language.MustParse(loc)
	}
	coll := collate.New(tag)

	type boundKey struct {
		idx  int
		typ  dataset.ColumnType
		desc bool
	}
	bound := make([]boundKey, len(keys))
	for i, k := range keys {
		bound[i] = boundKey{
			idx:  in.ColumnIndex(k.Column),
			typ:  in.Metadata.Types[k.Column],
			desc: k.Direction == "desc",
		}
	}

	rows := make([][]any, len(in.Rows))
	for i, row := range in.Rows {
		rows[i] = append([]any{}, row...)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range bound {
			c := compareForSort(cellAt(rows[i], k.idx), cellAt(rows[j], k.idx), k.typ, coll)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	return Succeeded(dataset.New(append([]string{}, in.Columns...), rows)), nil
}

func parseSortKeys(config map[string]any) []sortKey {
	var keys []sortKey
	for _, raw := range objectListParam(config, "sortColumns") {
		keys = append(keys, sortKey{
			Column:    stringParam(raw, "column", ""),
			Direction: stringParam(raw, "direction", "asc"),
		})
	}
	if len(keys) == 0 && stringParam(config, "column", "") != "" {
		keys = append(keys, sortKey{
			Column:    stringParam(config, "column", ""),
			Direction: stringParam(config, "direction", "asc"),
		})
	}
	return keys
}

// compareForSort orders two cells in ascending sense. Nulls come first.
// Number columns compare numerically, date columns by timestamp, and the rest
// by locale collation; values that fail conversion fall back to collation.
func compareForSort(a, b any, typ dataset.ColumnType, coll *collate.Collator) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch typ {
	case dataset.TypeNumber:
		if x, ok := dataset.AsNumber(a); ok {
			if y, ok := dataset.AsNumber(b); ok {
				return cmpFloat(x, y)
			}
		}
	case dataset.TypeDate:
		if x, ok := dataset.ToTime(a); ok {
			if y, ok := dataset.ToTime(b); ok {
				return x.Compare(y)
			}
		}
	case dataset.TypeBoolean:
		x, xok := a.(bool)
		y, yok := b.(bool)
		if xok && yok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return coll.CompareString(dataset.String(a), dataset.String(b))
}
