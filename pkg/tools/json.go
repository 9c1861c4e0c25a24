package tools

import (
	"encoding/json"
	"reflect"
)

func JSONRoundtrip(params, v any) error {
	buf, err := json.Marshal(params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return err
	}

	return nil
}

// IsEmpty reports whether an executor returned nothing, including typed nil
// pointers, maps and slices.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Normalize turns a result into the structured payload sent back to the
// model. Maps pass through; structs are converted through JSON; anything
// else is wrapped as {"result": v}.
func Normalize(v any) map[string]any {
	switch r := v.(type) {
	case map[string]any:
		if r == nil {
			return map[string]any{"result": nil}
		}
		return r
	case nil, string, bool, int, int32, int64, float32, float64:
		return map[string]any{"result": r}
	}

	if IsEmpty(v) {
		return map[string]any{"result": nil}
	}

	var decoded any
	if err := JSONRoundtrip(v, &decoded); err != nil {
		return map[string]any{"result": v}
	}
	if m, ok := decoded.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": decoded}
}
