// Package rql builds query trees. Every builder method returns a new node
// that references its receiver; no node is modified after construction, so
// partial queries can be shared and extended in several directions.
package rql

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// ErrInvalidArgument is recorded on a node built from an argument the query
// language cannot express. It surfaces when the query is run.
var ErrInvalidArgument = errors.New("invalid query argument")

// Term is an immutable query tree node together with the first construction
// error found anywhere below it.
type Term struct {
	node *proto.Term
	err  error
}

// Termer is implemented by every composable builder type.
type Termer interface {
	Term() Term
}

// Build returns the wire form of the tree. The returned node is shared and
// must not be modified.
func (t Term) Build() (*proto.Term, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.node, nil
}

// Err returns the construction error, if any.
func (t Term) Err() error {
	return t.err
}

func (t Term) String() string {
	return t.node.String()
}

// Type returns the operator of the root node.
func (t Term) Type() proto.TermType {
	if t.node == nil {
		return 0
	}
	return t.node.Type
}

func newTerm(typ proto.TermType, args []Term, opts map[string]Term) Term {
	node := &proto.Term{Type: typ, Args: make([]*proto.Term, len(args))}
	var err error
	for i, a := range args {
		node.Args[i] = a.node
		if err == nil && a.err != nil {
			err = a.err
		}
	}
	if len(opts) > 0 {
		node.Opts = make(map[string]*proto.Term, len(opts))
		for k, o := range opts {
			node.Opts[k] = o.node
			if err == nil && o.err != nil {
				err = o.err
			}
		}
	}
	return Term{node: node, err: err}
}

func datumTerm(d datum.Datum) Term {
	return Term{node: proto.NewDatumTerm(d)}
}

func stringTerm(s string) Term {
	return datumTerm(datum.String(s))
}

func errTerm(err error) Term {
	return Term{node: proto.NewDatumTerm(datum.Null()), err: err}
}

// expr converts a Go value into a node. Values holding builder nodes or
// functions anywhere inside become MAKE_ARRAY / MAKE_OBJ nodes; plain data
// becomes a single DATUM leaf.
func expr(v interface{}) Term {
	switch x := v.(type) {
	case Termer:
		return x.Term()
	case Term:
		return x
	case datum.Datum:
		return datumTerm(x)
	case []datum.Pair:
		if !hasNested(x) {
			break
		}
		args := make([]Term, 0, 2*len(x))
		seen := make(map[string]bool, len(x))
		for _, p := range x {
			if seen[p.Key] {
				return errTerm(fmt.Errorf("%w: duplicate key %q", datum.ErrMalformedValue, p.Key))
			}
			seen[p.Key] = true
			args = append(args, stringTerm(p.Key), expr(p.Value))
		}
		return newTerm(proto.TermMakeObj, args, nil)
	}

	if isFunc(v) {
		return funcTerm(v)
	}
	if hasNested(v) {
		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			args := make([]Term, rv.Len())
			for i := range args {
				args[i] = expr(rv.Index(i).Interface())
			}
			return newTerm(proto.TermMakeArray, args, nil)
		case reflect.Map:
			return mapTerm(rv)
		}
	}

	d, err := datum.From(v)
	if err != nil {
		return errTerm(err)
	}
	return datumTerm(d)
}

func mapTerm(rv reflect.Value) Term {
	keys := make([]string, 0, rv.Len())
	vals := make(map[string]reflect.Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := fmt.Sprint(iter.Key().Interface())
		if _, dup := vals[k]; dup {
			return errTerm(fmt.Errorf("%w: duplicate key %q", datum.ErrMalformedValue, k))
		}
		keys = append(keys, k)
		vals[k] = iter.Value()
	}
	sort.Strings(keys)
	args := make([]Term, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, stringTerm(k), expr(vals[k].Interface()))
	}
	return newTerm(proto.TermMakeObj, args, nil)
}

// hasNested reports whether v contains a builder node or a function.
func hasNested(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case Termer, Term:
		return true
	case datum.Datum:
		return false
	case []datum.Pair:
		for _, p := range x {
			if hasNested(p.Value) {
				return true
			}
		}
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return true
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil() && hasNested(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if hasNested(rv.Index(i).Interface()) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if hasNested(iter.Value().Interface()) {
				return true
			}
		}
	}
	return false
}

func isFunc(v interface{}) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

var lastVarID atomic.Int64

func newVar() (int64, Expr) {
	id := lastVarID.Add(1)
	return id, Expr{newTerm(proto.TermVar, []Term{datumTerm(datum.Number(float64(id)))}, nil)}
}

// lambda builds FUNC([ids...], body).
func lambda(arity int, body func(params []Expr) Term) Term {
	ids := make([]datum.Datum, arity)
	params := make([]Expr, arity)
	for i := range params {
		id, v := newVar()
		ids[i] = datum.Number(float64(id))
		params[i] = v
	}
	return newTerm(proto.TermFunc, []Term{datumTerm(datum.NewArray(ids...)), body(params)}, nil)
}

// funcTerm converts a Go function over expressions into a FUNC node.
func funcTerm(fn interface{}) Term {
	switch f := fn.(type) {
	case func(Expr) Expr:
		return lambda(1, func(p []Expr) Term { return f(p[0]).t })
	case func(Expr) Seq:
		return lambda(1, func(p []Expr) Term { return f(p[0]).t })
	case func(Expr) interface{}:
		return lambda(1, func(p []Expr) Term { return expr(f(p[0])) })
	case func(Expr, Expr) Expr:
		return lambda(2, func(p []Expr) Term { return f(p[0], p[1]).t })
	case func(Expr, Expr) interface{}:
		return lambda(2, func(p []Expr) Term { return expr(f(p[0], p[1])) })
	default:
		return errTerm(fmt.Errorf("%w: unsupported function type %T", ErrInvalidArgument, fn))
	}
}

// fnArg converts a predicate or transform argument. Go functions and
// expressions that use Row become FUNC nodes; anything else is passed as a
// value, which the server applies as a constant (or, for Filter, as an
// implicit equality match when it is an object).
func fnArg(v interface{}) Term {
	if isFunc(v) {
		return funcTerm(v)
	}
	t := expr(v)
	if usesRow(t.node) {
		id, _ := newVar()
		return newTerm(proto.TermFunc, []Term{datumTerm(datum.NewArray(datum.Number(float64(id)))), t}, nil)
	}
	return t
}

// usesRow reports whether node refers to Row outside any nested function.
func usesRow(node *proto.Term) bool {
	if node == nil {
		return false
	}
	switch node.Type {
	case proto.TermImplicitVar:
		return true
	case proto.TermFunc, proto.TermDatum:
		return false
	}
	for _, a := range node.Args {
		if usesRow(a) {
			return true
		}
	}
	for _, o := range node.Opts {
		if usesRow(o) {
			return true
		}
	}
	return false
}

func terms(vs []interface{}) []Term {
	out := make([]Term, len(vs))
	for i, v := range vs {
		out[i] = expr(v)
	}
	return out
}

func fnTerms(vs []interface{}) []Term {
	out := make([]Term, len(vs))
	for i, v := range vs {
		out[i] = fnArg(v)
	}
	return out
}

func stringTerms(ss []string) []Term {
	out := make([]Term, len(ss))
	for i, s := range ss {
		out[i] = stringTerm(s)
	}
	return out
}

// with returns args prefixed by head.
func with(head Term, rest ...Term) []Term {
	return append([]Term{head}, rest...)
}
