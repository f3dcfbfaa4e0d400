package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are the string layouts recognized as dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// InferMetadata derives counts, types, nullability and uniqueness.
// Timestamps are left zero.
func InferMetadata(columns []string, rows [][]any) Metadata {
	md := Metadata{
		RowCount:    len(rows),
		ColumnCount: len(columns),
		Types:       make(map[string]ColumnType, len(columns)),
		Nullable:    make(map[string]bool, len(columns)),
		Unique:      make(map[string]bool, len(columns)),
	}
	for idx, col := range columns {
		colType := TypeNull
		nullable := false
		unique := true
		seen := make(map[string]struct{}, len(rows))

		for _, row := range rows {
			v := cell(row, idx)
			if IsNull(v) {
				nullable = true
			} else {
				t := InferType(v)
				switch {
				case colType == TypeNull:
					colType = t
				case colType != t:
					colType = TypeString
				}
			}
			if unique {
				k := Key(v)
				if _, dup := seen[k]; dup {
					unique = false
				}
				seen[k] = struct{}{}
			}
		}
		md.Types[col] = colType
		md.Nullable[col] = nullable
		md.Unique[col] = unique
	}
	return md
}

// InferType classifies a single non-null value.
func InferType(v any) ColumnType {
	switch x := v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeDate
	case string:
		if _, ok := parseDate(x); ok {
			return TypeDate
		}
		return TypeString
	}
	if _, ok := ToFloat(v); ok {
		return TypeNumber
	}
	return TypeString
}

// IsNull reports whether v is a missing value.
func IsNull(v any) bool {
	return v == nil
}

// ToFloat converts a Go numeric value to float64. Strings are not parsed.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsNumber is ToFloat extended to numeric strings. Booleans are not numbers.
func AsNumber(v any) (float64, bool) {
	if f, ok := ToFloat(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ToTime converts time.Time or a date-formatted string to a time.
func ToTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseDate(x)
	}
	return time.Time{}, false
}

// String renders a cell value for display and string comparison.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Key identifies a value for uniqueness and grouping; numerically equal
// values share a key regardless of Go type.
func Key(v any) string {
	if v == nil {
		return "nil"
	}
	if f, ok := ToFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch x := v.(type) {
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("x:%v", v)
	}
	return "j:" + string(b)
}
