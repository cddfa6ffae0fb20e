// Package datum implements the immutable value model shared by the query
// builder, the driver and the reference server.
package datum

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedValue is returned when a native value cannot be represented as a
// Datum, for example when an input mapping carries the same key twice.
var ErrMalformedValue = errors.New("malformed value")

// Kind identifies the variant held by a Datum.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOL"
	case KindNumber:
		return "NUMBER"
	case KindString:
		return "STRING"
	case KindArray:
		return "ARRAY"
	case KindObject:
		return "OBJECT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Datum is a query-time value. The zero value is null. A Datum is never
// mutated once built; every accessor that exposes children returns a copy.
type Datum struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Datum
	obj  *object
}

// object keeps keys in insertion order.
type object struct {
	keys []string
	vals map[string]Datum
}

// Field is one key/value entry of an object.
type Field struct {
	Key   string
	Value Datum
}

// Pair is an ordered native key/value entry accepted by From.
type Pair struct {
	Key   string
	Value interface{}
}

// Null returns the null datum.
func Null() Datum { return Datum{} }

// Bool wraps a boolean.
func Bool(b bool) Datum { return Datum{kind: KindBool, b: b} }

// Number wraps a number.
func Number(n float64) Datum { return Datum{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Datum { return Datum{kind: KindString, s: s} }

// NewArray builds an array datum from the given items.
func NewArray(items ...Datum) Datum {
	cp := make([]Datum, len(items))
	copy(cp, items)
	return Datum{kind: KindArray, arr: cp}
}

// NewObject builds an object datum keeping field order. A repeated key is
// rejected with ErrMalformedValue.
func NewObject(fields ...Field) (Datum, error) {
	obj := &object{
		keys: make([]string, 0, len(fields)),
		vals: make(map[string]Datum, len(fields)),
	}
	for _, f := range fields {
		if _, dup := obj.vals[f.Key]; dup {
			return Null(), fmt.Errorf("%w: duplicate key %q", ErrMalformedValue, f.Key)
		}
		obj.keys = append(obj.keys, f.Key)
		obj.vals[f.Key] = f.Value
	}
	return Datum{kind: KindObject, obj: obj}, nil
}

// MustObject is NewObject for literals known to be well formed.
func MustObject(fields ...Field) Datum {
	d, err := NewObject(fields...)
	if err != nil {
		panic(err)
	}
	return d
}

// EmptyObject returns an object with no fields.
func EmptyObject() Datum {
	return Datum{kind: KindObject, obj: &object{vals: map[string]Datum{}}}
}

// Kind reports the variant.
func (d Datum) Kind() Kind { return d.kind }

// IsNull reports whether d is null.
func (d Datum) IsNull() bool { return d.kind == KindNull }

// AsBool returns the boolean value and whether d is a boolean.
func (d Datum) AsBool() (bool, bool) { return d.b, d.kind == KindBool }

// AsNumber returns the numeric value and whether d is a number.
func (d Datum) AsNumber() (float64, bool) { return d.n, d.kind == KindNumber }

// AsString returns the string value and whether d is a string.
func (d Datum) AsString() (string, bool) { return d.s, d.kind == KindString }

// Truthy follows query semantics: everything except false and null is true.
func (d Datum) Truthy() bool {
	switch d.kind {
	case KindNull:
		return false
	case KindBool:
		return d.b
	default:
		return true
	}
}

// Len returns the number of items of an array or fields of an object.
func (d Datum) Len() int {
	switch d.kind {
	case KindArray:
		return len(d.arr)
	case KindObject:
		return len(d.obj.keys)
	default:
		return 0
	}
}

// Index returns the i-th array item.
func (d Datum) Index(i int) (Datum, bool) {
	if d.kind != KindArray || i < 0 || i >= len(d.arr) {
		return Null(), false
	}
	return d.arr[i], true
}

// Items returns a copy of the array items, or nil if d is not an array.
func (d Datum) Items() []Datum {
	if d.kind != KindArray {
		return nil
	}
	cp := make([]Datum, len(d.arr))
	copy(cp, d.arr)
	return cp
}

// Get returns an object field.
func (d Datum) Get(key string) (Datum, bool) {
	if d.kind != KindObject {
		return Null(), false
	}
	v, ok := d.obj.vals[key]
	return v, ok
}

// Has reports whether an object carries key.
func (d Datum) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the object keys in insertion order.
func (d Datum) Keys() []string {
	if d.kind != KindObject {
		return nil
	}
	cp := make([]string, len(d.obj.keys))
	copy(cp, d.obj.keys)
	return cp
}

// Fields returns the object entries in insertion order.
func (d Datum) Fields() []Field {
	if d.kind != KindObject {
		return nil
	}
	out := make([]Field, len(d.obj.keys))
	for i, k := range d.obj.keys {
		out[i] = Field{Key: k, Value: d.obj.vals[k]}
	}
	return out
}

// WithField returns a copy of the object with key set to v. An existing key
// keeps its position.
func (d Datum) WithField(key string, v Datum) Datum {
	fields := d.Fields()
	for i := range fields {
		if fields[i].Key == key {
			fields[i].Value = v
			return MustObject(fields...)
		}
	}
	return MustObject(append(fields, Field{Key: key, Value: v})...)
}

// Without returns a copy of the object lacking the given keys.
func (d Datum) Without(keys ...string) Datum {
	if d.kind != KindObject {
		return d
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := make([]Field, 0, d.Len())
	for _, f := range d.Fields() {
		if !drop[f.Key] {
			out = append(out, f)
		}
	}
	return MustObject(out...)
}

// Merge overlays other onto d. Nested objects merge recursively; any other
// value in other replaces the value in d. Merging a non-object returns other.
func (d Datum) Merge(other Datum) Datum {
	if d.kind != KindObject || other.kind != KindObject {
		return other
	}
	out := d
	for _, f := range other.Fields() {
		if cur, ok := out.Get(f.Key); ok && cur.kind == KindObject && f.Value.kind == KindObject {
			out = out.WithField(f.Key, cur.Merge(f.Value))
			continue
		}
		out = out.WithField(f.Key, f.Value)
	}
	return out
}

// Append returns a copy of the array with v added at the end.
func (d Datum) Append(v Datum) Datum {
	items := d.Items()
	return Datum{kind: KindArray, arr: append(items, v)}
}

// Native converts d into plain Go values: nil, bool, float64, string,
// []interface{} and map[string]interface{}.
func (d Datum) Native() interface{} {
	switch d.kind {
	case KindBool:
		return d.b
	case KindNumber:
		return d.n
	case KindString:
		return d.s
	case KindArray:
		out := make([]interface{}, len(d.arr))
		for i, item := range d.arr {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(d.obj.keys))
		for _, k := range d.obj.keys {
			out[k] = d.obj.vals[k].Native()
		}
		return out
	default:
		return nil
	}
}

// String renders d as JSON with object keys in insertion order.
func (d Datum) String() string {
	var sb strings.Builder
	d.writeJSON(&sb)
	return sb.String()
}

// MarshalJSON implements json.Marshaler.
func (d Datum) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Datum) writeJSON(sb *strings.Builder) {
	switch d.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(d.b))
	case KindNumber:
		sb.WriteString(formatNumber(d.n))
	case KindString:
		sb.WriteString(strconv.Quote(d.s))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range d.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.writeJSON(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range d.obj.keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			d.obj.vals[k].writeJSON(sb)
		}
		sb.WriteByte('}')
	}
}

func formatNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
