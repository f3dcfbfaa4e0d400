package dataset

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a string-keyed map that remembers insertion order. Values
// produced by script or JSON sources keep their key order through it, so
// "columns follow the first record's keys" is deterministic.
type Object struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{m: orderedmap.New[string, any]()}
}

// Set stores a value. A new key goes last; an existing one keeps its place.
func (o *Object) Set(key string, v any) {
	if o.m == nil {
		o.m = orderedmap.New[string, any]()
	}
	o.m.Set(key, v)
}

// Get returns the value under key.
func (o *Object) Get(key string) (any, bool) {
	if o.m == nil {
		return nil, false
	}
	return o.m.Get(key)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o.m == nil {
		return 0
	}
	return o.m.Len()
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	if o.m == nil {
		return keys
	}
	for p := o.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Map returns the values as a plain map, converting nested Objects.
func (o *Object) Map() map[string]any {
	out := make(map[string]any, o.Len())
	if o.m == nil {
		return out
	}
	for p := o.m.Oldest(); p != nil; p = p.Next() {
		out[p.Key] = plain(p.Value)
	}
	return out
}

// MarshalJSON encodes the object with keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o.m == nil {
		return []byte("{}"), nil
	}
	return o.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping key order at every depth.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	obj, ok := v.(*Object)
	if !ok {
		return errNotObject
	}
	*o = *obj
	return nil
}

// plain converts Objects nested anywhere in v into plain maps.
func plain(v any) any {
	switch x := v.(type) {
	case *Object:
		return x.Map()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	}
	return v
}
