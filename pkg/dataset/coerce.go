package dataset

import (
	"sort"
)

// Single-column names used when coercing non-tabular values.
const (
	ValueColumn  = "value"
	ResultColumn = "result"
)

// FromRecords builds a dataset from row maps. With nil columns the sorted
// key set of the first record is used.
func FromRecords(columns []string, records []map[string]any) *Dataset {
	if columns == nil {
		if len(records) > 0 {
			columns = sortedKeys(records[0])
		} else {
			columns = []string{}
		}
	}
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = plain(rec[c])
		}
		rows[i] = row
	}
	return New(columns, rows)
}

// FromValue coerces an arbitrary value into a dataset:
//   - a *Dataset or a dataset-shaped object ({columns, rows}) passes through;
//   - an array of objects becomes one row per object, columns taken from the
//     first object's keys;
//   - any other array becomes a single "value" column;
//   - anything else becomes a single "result" cell.
//
// Metadata is always re-inferred.
func FromValue(v any) *Dataset {
	switch x := v.(type) {
	case *Dataset:
		if x == nil {
			return New([]string{ResultColumn}, [][]any{{nil}})
		}
		out := x.Clone()
		out.Refresh()
		return out
	case Dataset:
		out := x.Clone()
		out.Refresh()
		return out
	case []any:
		return fromArray(x)
	case []map[string]any:
		items := make([]any, len(x))
		for i, m := range x {
			items[i] = m
		}
		return fromArray(items)
	}
	if ds, ok := datasetShaped(v); ok {
		return ds
	}
	return New([]string{ResultColumn}, [][]any{{plain(v)}})
}

func fromArray(items []any) *Dataset {
	if len(items) > 0 {
		if keys, ok := objectKeys(items[0]); ok {
			rows := make([][]any, len(items))
			for i, item := range items {
				row := make([]any, len(keys))
				for j, k := range keys {
					row[j] = plain(objectField(item, k))
				}
				rows[i] = row
			}
			return New(keys, rows)
		}
	}
	rows := make([][]any, len(items))
	for i, item := range items {
		rows[i] = []any{plain(item)}
	}
	return New([]string{ValueColumn}, rows)
}

// datasetShaped recognizes {columns: [string...], rows: [[...]...]}.
func datasetShaped(v any) (*Dataset, bool) {
	colsRaw := objectField(v, "columns")
	rowsRaw := objectField(v, "rows")
	if colsRaw == nil || rowsRaw == nil {
		return nil, false
	}
	colList, ok := colsRaw.([]any)
	if !ok {
		if ss, isStrings := colsRaw.([]string); isStrings {
			colList = make([]any, len(ss))
			for i, s := range ss {
				colList[i] = s
			}
		} else {
			return nil, false
		}
	}
	columns := make([]string, len(colList))
	for i, c := range colList {
		s, isStr := c.(string)
		if !isStr {
			return nil, false
		}
		columns[i] = s
	}

	var rows [][]any
	switch rr := rowsRaw.(type) {
	case [][]any:
		rows = make([][]any, len(rr))
		for i, r := range rr {
			rows[i] = plainRow(r)
		}
	case []any:
		rows = make([][]any, len(rr))
		for i, r := range rr {
			row, isRow := r.([]any)
			if !isRow {
				return nil, false
			}
			rows[i] = plainRow(row)
		}
	default:
		return nil, false
	}
	return New(columns, rows), true
}

func plainRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = plain(v)
	}
	return out
}

func objectKeys(v any) ([]string, bool) {
	switch x := v.(type) {
	case *Object:
		return x.Keys(), true
	case map[string]any:
		return sortedKeys(x), true
	}
	return nil, false
}

func objectField(v any, key string) any {
	switch x := v.(type) {
	case *Object:
		val, _ := x.Get(key)
		return val
	case map[string]any:
		return x[key]
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
