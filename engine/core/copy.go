package core

import (
	"fmt"
	"maps"
	"reflect"
)

// Merge combines two maps, with source values overriding destination values.
// Slice values are appended rather than replaced.
func Merge[D, S ~map[string]any](dst D, src S, kind string) (D, error) {
	return merge2[D](dst, src, kind)
}

// CloneMap creates a shallow copy of any map type with comparable keys.
// Returns an empty initialized map when src is nil to prevent nil map panics.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return make(map[K]V)
	}
	return maps.Clone(src)
}

// CopyMaps safely merges multiple maps into a new map, with later maps
// overriding earlier ones. Handles nil maps gracefully by skipping them.
func CopyMaps[K comparable, V any](srcs ...map[K]V) map[K]V {
	result := make(map[K]V)
	for _, src := range srcs {
		if src != nil {
			maps.Copy(result, src)
		}
	}
	return result
}

// DeepCopy creates a deep copy of v, preserving concrete Input/Output types
// (and their pointer forms). For all other types it falls back to a generic
// reflection-based deep copy.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	switch src := any(v).(type) {
	case Input:
		if src == nil {
			return zero, nil
		}
		dst := Input(deepCopyValue(map[string]any(src)).(map[string]any))
		result, ok := any(dst).(T)
		if !ok {
			return zero, fmt.Errorf("failed to cast Input to type %T", zero)
		}
		return result, nil
	case Output:
		if src == nil {
			return zero, nil
		}
		dst := Output(deepCopyValue(map[string]any(src)).(map[string]any))
		result, ok := any(dst).(T)
		if !ok {
			return zero, fmt.Errorf("failed to cast Output to type %T", zero)
		}
		return result, nil
	case *Input:
		if src == nil || *src == nil {
			return zero, nil
		}
		dst := Input(deepCopyValue(map[string]any(*src)).(map[string]any))
		result, ok := any(&dst).(T)
		if !ok {
			return zero, fmt.Errorf("failed to cast *Input to type %T", zero)
		}
		return result, nil
	case *Output:
		if src == nil || *src == nil {
			return zero, nil
		}
		dst := Output(deepCopyValue(map[string]any(*src)).(map[string]any))
		result, ok := any(&dst).(T)
		if !ok {
			return zero, fmt.Errorf("failed to cast *Output to type %T", zero)
		}
		return result, nil
	default:
		copied := deepCopyValue(v)
		result, ok := copied.(T)
		if !ok {
			return zero, fmt.Errorf("failed to cast copied value to type %T", zero)
		}
		return result, nil
	}
}

// deepCopyValue recursively copies maps, slices, arrays, and pointers so the
// returned value shares no mutable backing storage with v. Primitives and
// unsupported kinds (channels, funcs) are returned as-is.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	copied := deepCopyReflect(rv)
	return copied.Interface()
}

func deepCopyReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopyReflect(iter.Value()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}
		return out
	case reflect.Ptr:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type().Elem())
		out.Elem().Set(deepCopyReflect(rv.Elem()))
		return out
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		inner := deepCopyReflect(rv.Elem())
		out := reflect.New(rv.Type()).Elem()
		out.Set(inner)
		return out
	case reflect.Struct:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.NumField(); i++ {
			if !out.Field(i).CanSet() {
				continue
			}
			out.Field(i).Set(deepCopyReflect(rv.Field(i)))
		}
		return out
	default:
		return rv
	}
}

func merge2[D ~map[string]any, S ~map[string]any](dst D, src S, kind string) (D, error) {
	var zero D
	dstClone := D(CloneMap(map[string]any(dst)))
	srcClone := CloneMap(map[string]any(src))
	if len(srcClone) == 0 {
		return dstClone, nil
	}
	merged, err := merge(map[string]any(dstClone), srcClone, kind)
	if err != nil {
		return zero, err
	}
	return D(merged), nil
}
