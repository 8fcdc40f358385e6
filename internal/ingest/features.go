package ingest

import (
	"fmt"
	"reflect"
	"strings"
)

// NormalizeFeatures flattens application side-data into a string-keyed
// map of primitive values.
//
// Accepted inputs are maps with any key type and slices or arrays of
// two-element pairs. Keys are stringified and trimmed; nil or blank keys
// are dropped, as are pairs that are not two elements long. Strings,
// booleans, numbers and nil are kept as-is; every other value is
// rendered with fmt.Sprint. An empty result is nil.
func NormalizeFeatures(v any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any)
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			addFeature(out, iter.Key(), iter.Value())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			pair := indirect(rv.Index(i))
			if pair.Kind() != reflect.Slice && pair.Kind() != reflect.Array {
				continue
			}
			if pair.Len() != 2 {
				continue
			}
			addFeature(out, pair.Index(0), pair.Index(1))
		}
	default:
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func addFeature(out map[string]any, key, value reflect.Value) {
	key = indirect(key)
	if !key.IsValid() {
		return
	}
	name := strings.TrimSpace(fmt.Sprint(key.Interface()))
	if name == "" {
		return
	}
	if value.IsValid() && value.CanInterface() {
		switch s := value.Interface().(type) {
		case error:
			if s != nil && !isNilPointer(value) {
				out[name] = s.Error()
				return
			}
		case fmt.Stringer:
			if s != nil && !isNilPointer(value) {
				out[name] = s.String()
				return
			}
		}
	}
	out[name] = primitive(indirect(value))
}

func isNilPointer(v reflect.Value) bool {
	v = reflect.ValueOf(v.Interface())
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func primitive(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	if !v.CanInterface() {
		return nil
	}
	return fmt.Sprint(v.Interface())
}

// indirect unwraps interfaces and pointers; nil yields the zero Value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
