package proto

import (
	"fmt"
	"sort"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ msgpack.CustomEncoder = (*Term)(nil)
	_ msgpack.CustomDecoder = (*Term)(nil)
)

// maxTermDepth bounds recursion when decoding untrusted query trees.
const maxTermDepth = 512

// Term is the serialized form of a query tree node. A TermDatum node carries
// Datum and nothing else; every other node carries ordered Args and optional
// named Opts.
type Term struct {
	Type  TermType
	Datum datum.Datum
	Args  []*Term
	Opts  map[string]*Term
}

// NewDatumTerm wraps a value as a leaf.
func NewDatumTerm(d datum.Datum) *Term {
	return &Term{Type: TermDatum, Datum: d}
}

// Opt returns the named option, or nil.
func (t *Term) Opt(name string) *Term {
	if t == nil || t.Opts == nil {
		return nil
	}
	return t.Opts[name]
}

// EncodeMsgpack writes [type, [args...], {opts}] or [DATUM, [value]].
func (t *Term) EncodeMsgpack(enc *msgpack.Encoder) error {
	if t.Type == TermDatum {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt(int64(TermDatum)); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return t.Datum.EncodeMsgpack(enc)
	}

	n := 2
	if len(t.Opts) > 0 {
		n = 3
	}
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(t.Type)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(t.Args)); err != nil {
		return err
	}
	for i, arg := range t.Args {
		if arg == nil {
			return fmt.Errorf("%s: argument %d is nil", t.Type, i)
		}
		if err := arg.EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	if n == 2 {
		return nil
	}

	keys := make([]string, 0, len(t.Opts))
	for k := range t.Opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := t.Opts[k].EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads a term written by EncodeMsgpack.
func (t *Term) DecodeMsgpack(dec *msgpack.Decoder) error {
	return t.decode(dec, 0)
}

func (t *Term) decode(dec *msgpack.Decoder, depth int) error {
	if depth > maxTermDepth {
		return fmt.Errorf("%w: term nested deeper than %d", ErrMalformedFrame, maxTermDepth)
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("%w: term is not an array: %v", ErrMalformedFrame, err)
	}
	if n < 2 || n > 3 {
		return fmt.Errorf("%w: term has %d elements", ErrMalformedFrame, n)
	}
	typ, err := dec.DecodeInt32()
	if err != nil {
		return fmt.Errorf("%w: term type: %v", ErrMalformedFrame, err)
	}
	t.Type = TermType(typ)

	nargs, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("%w: %s arguments: %v", ErrMalformedFrame, t.Type, err)
	}

	if t.Type == TermDatum {
		if nargs != 1 || n != 2 {
			return fmt.Errorf("%w: datum term must hold exactly one value", ErrMalformedFrame)
		}
		return t.Datum.DecodeMsgpack(dec)
	}

	if nargs > 0 {
		t.Args = make([]*Term, nargs)
		for i := range t.Args {
			arg := &Term{}
			if err := arg.decode(dec, depth+1); err != nil {
				return err
			}
			t.Args[i] = arg
		}
	}
	if n == 2 {
		return nil
	}

	nopts, err := dec.DecodeMapLen()
	if err != nil {
		return fmt.Errorf("%w: %s options: %v", ErrMalformedFrame, t.Type, err)
	}
	if nopts > 0 {
		t.Opts = make(map[string]*Term, nopts)
	}
	for i := 0; i < nopts; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return fmt.Errorf("%w: %s option name: %v", ErrMalformedFrame, t.Type, err)
		}
		opt := &Term{}
		if err := opt.decode(dec, depth+1); err != nil {
			return err
		}
		t.Opts[key] = opt
	}
	return nil
}

// String renders the tree in a compact functional notation, used in logs and
// error messages.
func (t *Term) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Type == TermDatum {
		return t.Datum.String()
	}
	s := t.Type.String() + "("
	for i, arg := range t.Args {
		if i > 0 {
			s += ", "
		}
		s += arg.String()
	}
	if len(t.Opts) > 0 {
		keys := make([]string, 0, len(t.Opts))
		for k := range t.Opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 || len(t.Args) > 0 {
				s += ", "
			}
			s += k + "=" + t.Opts[k].String()
		}
	}
	return s + ")"
}
