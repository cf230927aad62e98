package persistence

import (
	"io"
	"net"
	"reflect"
	"time"

	log "github.com/sirupsen/logrus"
)

// Persistable is implemented by entities that declare the fields they store.
// The returned map may alias entity state; Snapshot copies it.
type Persistable interface {
	PersistentFields() map[string]any
}

// persistTag renames a struct field in the snapshot, "-" excludes it.
const persistTag = "persist"

var (
	timeType   = reflect.TypeOf(time.Time{})
	bytesType  = reflect.TypeOf([]byte(nil))
	closerType = reflect.TypeOf((*io.Closer)(nil)).Elem()
	connType   = reflect.TypeOf((*net.Conn)(nil)).Elem()
)

// visit identifies a pointer, map or slice being walked. The type is part of
// the key because a struct and its first field share an address.
type visit struct {
	ptr uintptr
	typ reflect.Type
}

// Snapshot projects entity onto a flat, store-safe field map.
//
// Fields come from PersistentFields when entity is Persistable, from the
// exported fields of a struct, or from a string-keyed map. Values are
// rebuilt as plain data (bool, int64, uint64, float64, string, time.Time,
// []byte, []any, map[string]any) so the result shares nothing with entity.
// Functions, channels, complex numbers, unsafe pointers and live handles
// (io.Closer, net.Conn) are omitted, as are pointer cycles.
func Snapshot(entity any) map[string]any {
	if p, ok := entity.(Persistable); ok {
		return snapshotMap(reflect.ValueOf(p.PersistentFields()))
	}

	path := make(map[visit]bool)
	v := reflect.ValueOf(entity)
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return map[string]any{}
		}
		path[visit{v.Pointer(), v.Type()}] = true
		v = v.Elem()
	}
	if !v.IsValid() {
		return map[string]any{}
	}

	switch v.Kind() {
	case reflect.Struct:
		if !isLiveHandle(v.Type()) && v.Type() != timeType {
			return structFields(v, path)
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return snapshotMap(v)
		}
	}

	log.Debugf("Persistence: %T has no persistent fields", entity)
	return map[string]any{}
}

func snapshotMap(v reflect.Value) map[string]any {
	out, ok := normalize(v, make(map[visit]bool))
	if m, isMap := out.(map[string]any); ok && isMap && m != nil {
		return m
	}
	return map[string]any{}
}

func structFields(v reflect.Value, path map[visit]bool) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup(persistTag); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if value, ok := normalize(v.Field(i), path); ok {
			out[name] = value
		} else {
			log.Debugf("Persistence: omitting field %s.%s of type %s", t.Name(), field.Name, field.Type)
		}
	}
	return out
}

func isLiveHandle(t reflect.Type) bool {
	return t.Implements(closerType) || t.Implements(connType) ||
		(t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface &&
			(reflect.PointerTo(t).Implements(closerType) || reflect.PointerTo(t).Implements(connType)))
}

// normalize returns a plain copy of v and whether v is storable at all.
// path holds the pointers, maps and slices currently being walked.
func normalize(v reflect.Value, path map[visit]bool) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	t := v.Type()
	if t == timeType {
		return v.Interface(), true
	}
	if isLiveHandle(t) {
		return nil, false
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.String:
		return v.String(), true

	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return normalize(v.Elem(), path)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		key := visit{v.Pointer(), t}
		if path[key] {
			return nil, false
		}
		path[key] = true
		defer delete(path, key)
		return normalize(v.Elem(), path)

	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if t == bytesType || t.Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), true
		}
		if ptr := v.Pointer(); ptr != 0 {
			key := visit{ptr, t}
			if path[key] {
				return nil, false
			}
			path[key] = true
			defer delete(path, key)
		}
		return normalizeList(v, path), true

	case reflect.Array:
		return normalizeList(v, path), true

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, false
		}
		if v.IsNil() {
			return nil, true
		}
		key := visit{v.Pointer(), t}
		if path[key] {
			return nil, false
		}
		path[key] = true
		defer delete(path, key)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if value, ok := normalize(iter.Value(), path); ok {
				out[iter.Key().String()] = value
			}
		}
		return out, true

	case reflect.Struct:
		return structFields(v, path), true
	}

	// Chan, Func, Complex64, Complex128, UnsafePointer
	return nil, false
}

func normalizeList(v reflect.Value, path map[visit]bool) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if value, ok := normalize(v.Index(i), path); ok {
			out = append(out, value)
		}
	}
	return out
}
