package eval

import (
	"errors"
	"math"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

func (r *run) compare(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, -1); err != nil {
		return value{}, err
	}
	vals := make([]datum.Datum, len(t.Args))
	for i, a := range t.Args {
		d, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		vals[i] = d
	}

	if t.Type == proto.TermNe {
		return datumValue(datum.Bool(!allEqual(vals))), nil
	}
	if t.Type == proto.TermEq {
		return datumValue(datum.Bool(allEqual(vals))), nil
	}
	for i := 1; i < len(vals); i++ {
		c := datum.Compare(vals[i-1], vals[i])
		var ok bool
		switch t.Type {
		case proto.TermLt:
			ok = c < 0
		case proto.TermLe:
			ok = c <= 0
		case proto.TermGt:
			ok = c > 0
		case proto.TermGe:
			ok = c >= 0
		}
		if !ok {
			return datumValue(datum.Bool(false)), nil
		}
	}
	return datumValue(datum.Bool(true)), nil
}

func allEqual(vals []datum.Datum) bool {
	for i := 1; i < len(vals); i++ {
		if !datum.Equal(vals[0], vals[i]) {
			return false
		}
	}
	return true
}

func (r *run) not(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	d, err := r.evalDatum(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	return datumValue(datum.Bool(!d.Truthy())), nil
}

// and returns the first falsy argument, or the last one.
func (r *run) and(sc *scope, t *proto.Term) (value, error) {
	last := datum.Bool(true)
	for _, a := range t.Args {
		d, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		if !d.Truthy() {
			return datumValue(d), nil
		}
		last = d
	}
	return datumValue(last), nil
}

// or returns the first truthy argument, or the last one.
func (r *run) or(sc *scope, t *proto.Term) (value, error) {
	last := datum.Bool(false)
	for _, a := range t.Args {
		d, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		if d.Truthy() {
			return datumValue(d), nil
		}
		last = d
	}
	return datumValue(last), nil
}

func (r *run) branch(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 3, 3); err != nil {
		return value{}, err
	}
	cond, err := r.evalDatum(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if cond.Truthy() {
		return r.eval(sc, t.Args[1])
	}
	return r.eval(sc, t.Args[2])
}

// add sums numbers, concatenates strings or concatenates arrays, depending
// on the type of the first argument.
func (r *run) add(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	acc, err := r.evalDatum(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	for _, a := range t.Args[1:] {
		d, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		if acc.Kind() != d.Kind() {
			return value{}, typeError(kindName(acc), kindName(d))
		}
		switch acc.Kind() {
		case datum.KindNumber:
			x, _ := acc.AsNumber()
			y, _ := d.AsNumber()
			acc = datum.Number(x + y)
		case datum.KindString:
			x, _ := acc.AsString()
			y, _ := d.AsString()
			acc = datum.String(x + y)
		case datum.KindArray:
			acc = datum.NewArray(append(acc.Items(), d.Items()...)...)
		default:
			return value{}, typeError("NUMBER, STRING or ARRAY", kindName(acc))
		}
	}
	return datumValue(acc), nil
}

func (r *run) arith(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, -1); err != nil {
		return value{}, err
	}
	acc, err := r.evalNumber(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	for _, a := range t.Args[1:] {
		n, err := r.evalNumber(sc, a)
		if err != nil {
			return value{}, err
		}
		switch t.Type {
		case proto.TermSub:
			acc -= n
		case proto.TermMul:
			acc *= n
		case proto.TermDiv:
			if n == 0 {
				return value{}, domain.NewQueryError(domain.CodeDivisionByZero, "cannot divide by zero")
			}
			acc /= n
		case proto.TermMod:
			if n == 0 {
				return value{}, domain.NewQueryError(domain.CodeDivisionByZero, "cannot take a number modulo 0")
			}
			acc = math.Mod(acc, n)
		}
	}
	return datumValue(datum.Number(acc)), nil
}

// perDocument applies fn to an object, or to every item of a sequence.
// Items for which fn reports false are dropped from a sequence; a single
// object is passed through fn's error.
func (r *run) perDocument(sc *scope, target *proto.Term, fn func(doc datum.Datum) (datum.Datum, bool, error)) (value, error) {
	v, err := r.eval(sc, target)
	if err != nil {
		return value{}, err
	}
	if v.kind == kindGrouped {
		return value{}, typeError("SEQUENCE or OBJECT", v.typeName())
	}
	if v.kind == kindDatum && v.d.Kind() != datum.KindArray {
		out, _, err := fn(v.d)
		if err != nil {
			return value{}, err
		}
		return datumValue(out), nil
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, err
	}
	out := make([]datum.Datum, 0, len(seq.items))
	for _, doc := range seq.items {
		d, keep, err := fn(doc)
		if err != nil {
			return value{}, err
		}
		if keep {
			out = append(out, d)
		}
	}
	return seqValue(out), nil
}

func getField(doc datum.Datum, field string) (datum.Datum, error) {
	if doc.Kind() != datum.KindObject {
		return datum.Null(), typeError("OBJECT", kindName(doc))
	}
	v, ok := doc.Get(field)
	if !ok {
		return datum.Null(), domain.NewQueryError(domain.CodeMissingField, "no attribute `%s` in object: %s", field, doc)
	}
	return v, nil
}

func (r *run) bracket(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	key, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	if _, ok := key.AsNumber(); ok {
		return r.nthOf(sc, t.Args[0], key)
	}
	field, ok := key.AsString()
	if !ok {
		return value{}, typeError("STRING or NUMBER", kindName(key))
	}

	v, err := r.eval(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if v.kind == kindDatum && v.d.Kind() == datum.KindObject {
		f, err := getField(v.d, field)
		if err != nil {
			return value{}, err
		}
		return datumValue(f), nil
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, typeError("OBJECT or SEQUENCE", v.typeName())
	}
	var out []datum.Datum
	for _, doc := range seq.items {
		if f, ok := doc.Get(field); ok {
			out = append(out, f)
		}
	}
	return seqValue(out), nil
}

func (r *run) fieldNames(sc *scope, args []*proto.Term) ([]string, error) {
	names := make([]string, len(args))
	for i, a := range args {
		s, err := r.evalString(sc, a)
		if err != nil {
			return nil, err
		}
		names[i] = s
	}
	return names, nil
}

func hasAll(doc datum.Datum, fields []string) bool {
	for _, f := range fields {
		v, ok := doc.Get(f)
		if !ok || v.IsNull() {
			return false
		}
	}
	return true
}

func (r *run) hasFields(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	fields, err := r.fieldNames(sc, t.Args[1:])
	if err != nil {
		return value{}, err
	}
	v, err := r.eval(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if v.kind == kindDatum && v.d.Kind() == datum.KindObject {
		return datumValue(datum.Bool(hasAll(v.d, fields))), nil
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for _, doc := range seq.items {
		if hasAll(doc, fields) {
			out = append(out, doc)
		}
	}
	seq.items = out
	return seq, nil
}

func pluck(doc datum.Datum, fields []string) datum.Datum {
	out := make([]datum.Field, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		if v, ok := doc.Get(f); ok {
			out = append(out, datum.Field{Key: f, Value: v})
		}
	}
	return datum.MustObject(out...)
}

// project handles pluck and without.
func (r *run) project(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	fields, err := r.fieldNames(sc, t.Args[1:])
	if err != nil {
		return value{}, err
	}
	return r.perDocument(sc, t.Args[0], func(doc datum.Datum) (datum.Datum, bool, error) {
		if doc.Kind() != datum.KindObject {
			return datum.Null(), false, typeError("OBJECT", kindName(doc))
		}
		if t.Type == proto.TermPluck {
			return pluck(doc, fields), true, nil
		}
		return doc.Without(fields...), true, nil
	})
}

func (r *run) withFields(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	fields, err := r.fieldNames(sc, t.Args[1:])
	if err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for _, doc := range seq.items {
		if hasAll(doc, fields) {
			out = append(out, pluck(doc, fields))
		}
	}
	return seqValue(out), nil
}

func (r *run) merge(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	return r.perDocument(sc, t.Args[0], func(doc datum.Datum) (datum.Datum, bool, error) {
		out := doc
		for _, a := range t.Args[1:] {
			other, err := r.call(sc, a, doc)
			if err != nil {
				return datum.Null(), false, err
			}
			out = out.Merge(other)
		}
		return out, true, nil
	})
}

// defaultValue substitutes its second argument when the first is null or
// fails on a missing field or out-of-range index.
func (r *run) defaultValue(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	v, err := r.eval(sc, t.Args[0])
	if err == nil && !(v.kind == kindDatum && v.d.IsNull()) {
		return v, nil
	}
	msg := datum.Null()
	if err != nil {
		var qe *domain.QueryError
		if !errors.As(err, &qe) || (qe.Code != domain.CodeMissingField && qe.Code != domain.CodeNotFound) {
			return value{}, err
		}
		msg = datum.String(qe.Msg)
	}
	return r.callValue(sc, t.Args[1], msg)
}

func (r *run) appendValue(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	arr, err := r.evalDatum(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if arr.Kind() != datum.KindArray {
		return value{}, typeError("ARRAY", kindName(arr))
	}
	item, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	return datumValue(arr.Append(item)), nil
}

func (r *run) contains(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	for _, want := range t.Args[1:] {
		match, err := r.matcher(sc, want)
		if err != nil {
			return value{}, err
		}
		found := false
		for _, item := range seq.items {
			ok, err := match(item)
			if err != nil {
				return value{}, err
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return datumValue(datum.Bool(false)), nil
		}
	}
	return datumValue(datum.Bool(true)), nil
}

// matcher builds a test from a predicate argument: functions are called,
// any other value is compared for equality.
func (r *run) matcher(sc *scope, arg *proto.Term) (func(datum.Datum) (bool, error), error) {
	if arg.Type == proto.TermFunc {
		return func(item datum.Datum) (bool, error) {
			d, err := r.call(sc, arg, item)
			if err != nil {
				return false, err
			}
			return d.Truthy(), nil
		}, nil
	}
	want, err := r.evalDatum(sc, arg)
	if err != nil {
		return nil, err
	}
	return func(item datum.Datum) (bool, error) {
		return datum.Equal(item, want), nil
	}, nil
}
