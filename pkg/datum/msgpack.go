package datum

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	_ msgpack.CustomEncoder = Datum{}
	_ msgpack.CustomDecoder = (*Datum)(nil)
)

// maxExactInt is the largest integer a float64 holds without loss.
const maxExactInt = 1 << 53

// EncodeMsgpack writes d keeping object key order. Integral numbers are
// written as integers.
func (d Datum) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch d.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(d.b)
	case KindNumber:
		if d.n == math.Trunc(d.n) && math.Abs(d.n) <= maxExactInt {
			return enc.EncodeInt(int64(d.n))
		}
		return enc.EncodeFloat64(d.n)
	case KindString:
		return enc.EncodeString(d.s)
	case KindArray:
		if err := enc.EncodeArrayLen(len(d.arr)); err != nil {
			return err
		}
		for _, item := range d.arr {
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		if err := enc.EncodeMapLen(len(d.obj.keys)); err != nil {
			return err
		}
		for _, k := range d.obj.keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := d.obj.vals[k].EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode datum of kind %s", d.kind)
	}
}

// DecodeMsgpack reads a datum keeping the encoded object key order.
func (d *Datum) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}

	switch {
	case code == msgpcode.Nil:
		*d = Null()
		return dec.DecodeNil()

	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		if n < 0 {
			*d = Null()
			return nil
		}
		fields := make([]Field, 0, n)
		for i := 0; i < n; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return fmt.Errorf("failed to decode object key: %w", err)
			}
			var val Datum
			if err := val.DecodeMsgpack(dec); err != nil {
				return err
			}
			fields = append(fields, Field{Key: key, Value: val})
		}
		obj, err := NewObject(fields...)
		if err != nil {
			return err
		}
		*d = obj
		return nil

	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if n < 0 {
			*d = Null()
			return nil
		}
		items := make([]Datum, n)
		for i := range items {
			if err := items[i].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		*d = Datum{kind: KindArray, arr: items}
		return nil
	}

	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case int64:
		*d = Number(float64(x))
	case uint64:
		*d = Number(float64(x))
	case float64:
		*d = Number(x)
	case []byte:
		*d = String(string(x))
	default:
		val, err := From(x)
		if err != nil {
			return err
		}
		*d = val
	}
	return nil
}

// Decode copies d into dst, which must be a pointer. Struct fields are matched
// by their json tag, as From emits them.
func (d Datum) Decode(dst interface{}) error {
	if p, ok := dst.(*Datum); ok {
		*p = d
		return nil
	}
	raw, err := msgpack.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode datum: %w", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode datum into %T: %w", dst, err)
	}
	return nil
}
