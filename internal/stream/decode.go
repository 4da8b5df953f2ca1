package stream

import (
	"encoding/json"
	"maps"
	"strconv"
)

// Value is a decoded frame payload. Accessors never fail: an absent or
// mistyped key yields the documented zero value.
type Value map[string]any

// Decode parses payload as a JSON object. Anything else, invalid JSON
// included, becomes {"message": payload}.
func Decode(payload string) Value {
	var v map[string]any
	if err := json.Unmarshal([]byte(payload), &v); err != nil || v == nil {
		return Value{"message": payload}
	}
	return Value(v)
}

// Has reports whether key is present with a non-null value.
func (v Value) Has(key string) bool {
	raw, ok := v[key]
	return ok && raw != nil
}

// String returns the value at key coerced to a string. Numbers and bools are
// formatted; absent, null, arrays and objects yield "".
func (v Value) String(key string) string {
	return coerceString(v[key])
}

func coerceString(raw any) string {
	switch x := raw.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// StringOr is String with a fallback for absent or empty values.
func (v Value) StringOr(key, fallback string) string {
	if s := v.String(key); s != "" {
		return s
	}
	return fallback
}

// Float returns the number at key, parsing numeric strings. Defaults to 0.
func (v Value) Float(key string) float64 {
	switch x := v[key].(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Int returns the number at key truncated to an int. Defaults to 0.
func (v Value) Int(key string) int {
	return int(v.Float(key))
}

// Bool returns the bool at key. Defaults to false.
func (v Value) Bool(key string) bool {
	b, _ := v[key].(bool)
	return b
}

// Strings returns the string elements of the array at key. Non-string
// elements are coerced like String; a missing array yields nil.
func (v Value) Strings(key string) []string {
	arr, ok := v[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		out = append(out, coerceString(el))
	}
	return out
}

// Object returns the object at key, or nil.
func (v Value) Object(key string) Value {
	obj, ok := v[key].(map[string]any)
	if !ok {
		return nil
	}
	return Value(obj)
}

// Objects returns the object elements of the array at key, skipping
// anything that is not an object.
func (v Value) Objects(key string) []Value {
	arr, ok := v[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Value, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			out = append(out, Value(obj))
		}
	}
	return out
}

// Merge shallow-merges src into a copy of v; keys in src win.
func (v Value) Merge(src Value) Value {
	out := make(Value, len(v)+len(src))
	maps.Copy(out, v)
	maps.Copy(out, src)
	return out
}

// Clone returns a deep copy so snapshots never alias live state.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	for k, el := range v {
		out[k] = cloneAny(el)
	}
	return out
}

func cloneAny(x any) any {
	switch t := x.(type) {
	case map[string]any:
		return map[string]any(Value(t).Clone())
	case Value:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneAny(el)
		}
		return out
	default:
		return t
	}
}
