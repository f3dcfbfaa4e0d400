package executors

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Param helpers used by all executor files. Configs arrive decoded from JSON
// (float64 numbers) or YAML (int numbers), or built directly in Go.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// valueParam renders a config value as a string; filter values may be typed
// as numbers or booleans in the document, and lists join with commas.
func valueParam(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if list, isList := v.([]string); isList {
		return strings.Join(list, ",")
	}
	if items, isList := v.([]any); isList {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = dataset.String(item)
		}
		return strings.Join(parts, ",")
	}
	return dataset.String(v)
}

// stringListParam accepts a list of strings, or a single string.
func stringListParam(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []string:
		return append([]string{}, x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// objectListParam accepts a list of objects.
func objectListParam(m map[string]any, key string) []map[string]any {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case []map[string]any:
		return x
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, e := range x {
			if obj, ok := e.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

// stringMapParam accepts an object whose values are rendered as strings.
func stringMapParam(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	out := map[string]string{}
	switch x := v.(type) {
	case map[string]string:
		for k, s := range x {
			out[k] = s
		}
	case map[string]any:
		for k, s := range x {
			out[k] = fmt.Sprintf("%v", s)
		}
	}
	return out
}

// Validation helpers shared by transforms.

// requireInput records the canonical missing-input error and returns the
// primary input.
func requireInput(ec *ExecutionContext, result *schema.ValidationResult) *dataset.Dataset {
	ds := ec.PrimaryInput()
	if ds == nil {
		result.AddError("inputs."+schema.DefaultHandle, schema.ErrCodeValidation, "Input dataset is required")
		return nil
	}
	if len(ds.Columns) == 0 {
		result.AddError("inputs."+schema.DefaultHandle, schema.ErrCodeValidation, "Input dataset has no columns")
		return nil
	}
	return ds
}

// requireColumn records an error when column is empty or absent from ds.
func requireColumn(ds *dataset.Dataset, column, path string, result *schema.ValidationResult) {
	if column == "" {
		result.AddError(path, schema.ErrCodeValidation, "Column selection is required")
		return
	}
	if ds != nil && !ds.HasColumn(column) {
		result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("Column %q not found in input dataset", column))
	}
}

// failed converts a validation result into the error returned by Execute.
func failed(nodeID string, result *schema.ValidationResult) error {
	err := result.ToError()
	if de, ok := err.(*schema.DataflowError); ok {
		return de.WithNode(nodeID)
	}
	return err
}
