package datum

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// From converts a native Go value into a Datum.
//
// Maps are emitted with their keys sorted, []Pair and structs keep their
// declaration order. Two entries resolving to the same key are rejected with
// ErrMalformedValue, as are channels, functions and complex numbers.
func From(v interface{}) (Datum, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Datum:
		return x, nil
	case *Datum:
		if x == nil {
			return Null(), nil
		}
		return *x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case []byte:
		return String(base64.StdEncoding.EncodeToString(x)), nil
	case time.Time:
		return String(x.Format(time.RFC3339Nano)), nil
	case []Pair:
		fields := make([]Field, 0, len(x))
		for _, p := range x {
			val, err := From(p.Value)
			if err != nil {
				return Null(), fmt.Errorf("key %q: %w", p.Key, err)
			}
			fields = append(fields, Field{Key: p.Key, Value: val})
		}
		return NewObject(fields...)
	case []Field:
		return NewObject(x...)
	}
	return fromReflect(reflect.ValueOf(v))
}

// MustFrom is From for literals known to be representable.
func MustFrom(v interface{}) Datum {
	d, err := From(v)
	if err != nil {
		panic(err)
	}
	return d
}

func fromReflect(rv reflect.Value) (Datum, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return Null(), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return From(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		fallthrough
	case reflect.Array:
		items := make([]Datum, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := From(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = item
		}
		return Datum{kind: KindArray, arr: items}, nil
	case reflect.Map:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromMap(rv)
	case reflect.Struct:
		fields, err := structFields(rv)
		if err != nil {
			return Null(), err
		}
		return NewObject(fields...)
	default:
		return Null(), fmt.Errorf("%w: unsupported type %s", ErrMalformedValue, rv.Type())
	}
}

func fromMap(rv reflect.Value) (Datum, error) {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		var key string
		if k.Kind() == reflect.String {
			key = k.String()
		} else {
			key = fmt.Sprint(k.Interface())
		}
		entries = append(entries, entry{key: key, val: iter.Value()})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	fields := make([]Field, 0, len(entries))
	for _, e := range entries {
		val, err := From(e.val.Interface())
		if err != nil {
			return Null(), fmt.Errorf("key %q: %w", e.key, err)
		}
		fields = append(fields, Field{Key: e.key, Value: val})
	}
	return NewObject(fields...)
}

func structFields(rv reflect.Value) ([]Field, error) {
	rt := rv.Type()
	var fields []Field
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		fv := rv.Field(i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.Tag.Get("json") == "" {
			nested, err := structFields(fv)
			if err != nil {
				return nil, err
			}
			fields = append(fields, nested...)
			continue
		}
		if !sf.IsExported() || !fv.CanInterface() {
			continue
		}

		name, omitEmpty, skip := parseTag(sf)
		if skip {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		val, err := From(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		fields = append(fields, Field{Key: name, Value: val})
	}
	return fields, nil
}

func parseTag(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = sf.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
