package dataset

import (
	"bytes"
	"encoding/json"
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	errInvalidJSON = errors.New("invalid JSON document")
	errNotObject   = errors.New("JSON value is not an object")
)

// ParseJSON decodes a JSON document keeping object key order: objects become
// *Object, arrays []any, numbers float64.
func ParseJSON(data []byte) (any, error) {
	if !json.Valid(data) {
		// Run the std decoder for a positioned syntax error.
		var discard any
		if err := json.Unmarshal(data, &discard); err != nil {
			return nil, err
		}
		return nil, errInvalidJSON
	}
	return decodeOrdered(data)
}

// orderedValue lets go-ordered-map and encoding/json recurse into nested
// objects and arrays without losing key order.
type orderedValue struct {
	v any
}

func (ov *orderedValue) UnmarshalJSON(data []byte) error {
	v, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	ov.v = v
	return nil
}

func decodeOrdered(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errInvalidJSON
	}
	switch data[0] {
	case '{':
		om := orderedmap.New[string, orderedValue]()
		if err := om.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		obj := NewObject()
		for p := om.Oldest(); p != nil; p = p.Next() {
			obj.Set(p.Key, p.Value.v)
		}
		return obj, nil
	case '[':
		var items []orderedValue
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		arr := make([]any, len(items))
		for i, it := range items {
			arr[i] = it.v
		}
		return arr, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
