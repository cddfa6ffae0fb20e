package rql

import (
	"context"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// Expr is a node evaluating to a single value.
type Expr struct {
	t Term
}

// Row refers to the document currently being processed by the enclosing
// Filter, Map or similar operator.
var Row = Expr{Term{node: &proto.Term{Type: proto.TermImplicitVar}}}

// Value lifts a Go value into the query language. Values may contain
// expressions, e.g. map[string]interface{}{"total": Row.Field("a").Add(1)}.
func Value(v interface{}) Expr {
	return Expr{expr(v)}
}

// Branch evaluates to then when cond is truthy and to otherwise when not.
func Branch(cond, then, otherwise interface{}) Expr {
	return Expr{newTerm(proto.TermBranch, []Term{expr(cond), expr(then), expr(otherwise)}, nil)}
}

func (e Expr) Term() Term { return e.t }
func (e Expr) String() string { return e.t.String() }

func (e Expr) binary(typ proto.TermType, v interface{}) Expr {
	return Expr{newTerm(typ, []Term{e.t, expr(v)}, nil)}
}

func (e Expr) Eq(v interface{}) Expr { return e.binary(proto.TermEq, v) }
func (e Expr) Ne(v interface{}) Expr { return e.binary(proto.TermNe, v) }
func (e Expr) Gt(v interface{}) Expr { return e.binary(proto.TermGt, v) }
func (e Expr) Ge(v interface{}) Expr { return e.binary(proto.TermGe, v) }
func (e Expr) Lt(v interface{}) Expr { return e.binary(proto.TermLt, v) }
func (e Expr) Le(v interface{}) Expr { return e.binary(proto.TermLe, v) }
func (e Expr) And(v interface{}) Expr { return e.binary(proto.TermAnd, v) }
func (e Expr) Or(v interface{}) Expr { return e.binary(proto.TermOr, v) }

func (e Expr) Not() Expr {
	return Expr{newTerm(proto.TermNot, []Term{e.t}, nil)}
}

func (e Expr) Add(v interface{}) Expr { return e.binary(proto.TermAdd, v) }
func (e Expr) Sub(v interface{}) Expr { return e.binary(proto.TermSub, v) }
func (e Expr) Mul(v interface{}) Expr { return e.binary(proto.TermMul, v) }

// Div fails at run time with domain.ErrDivisionByZero for a zero divisor.
func (e Expr) Div(v interface{}) Expr { return e.binary(proto.TermDiv, v) }
func (e Expr) Mod(v interface{}) Expr { return e.binary(proto.TermMod, v) }

// Field reads one field of an object. Evaluation fails with
// domain.ErrMissingField when the field is absent, unless caught by Default.
func (e Expr) Field(name string) Expr {
	return Expr{newTerm(proto.TermBracket, []Term{e.t, stringTerm(name)}, nil)}
}

// HasFields reports whether the object has all the given fields.
func (e Expr) HasFields(fields ...string) Expr {
	return Expr{newTerm(proto.TermHasFields, with(e.t, stringTerms(fields)...), nil)}
}

func (e Expr) Pluck(fields ...string) Expr {
	return Expr{newTerm(proto.TermPluck, with(e.t, stringTerms(fields)...), nil)}
}

func (e Expr) Without(fields ...string) Expr {
	return Expr{newTerm(proto.TermWithout, with(e.t, stringTerms(fields)...), nil)}
}

// Merge overlays objects, or the results of functions of the receiver, left
// to right. Nested objects merge recursively.
func (e Expr) Merge(vs ...interface{}) Expr {
	return Expr{newTerm(proto.TermMerge, with(e.t, fnTerms(vs)...), nil)}
}

// Default substitutes v when evaluating the receiver yields null or fails on
// a missing field.
func (e Expr) Default(v interface{}) Expr {
	return e.binary(proto.TermDefault, v)
}

func (e Expr) Append(v interface{}) Expr {
	return e.binary(proto.TermAppend, v)
}

// Contains reports whether the array holds every given value, or for a
// function argument, some element satisfying it.
func (e Expr) Contains(vs ...interface{}) Expr {
	return Expr{newTerm(proto.TermContains, with(e.t, fnTerms(vs)...), nil)}
}

// AsSeq treats an array-valued expression as a sequence.
func (e Expr) AsSeq() Seq {
	return Seq{e.t}
}

// Update merges v (an object or a function of the selected document) into
// the selected document.
func (e Expr) Update(v interface{}, opts ...UpdateOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermUpdate, []Term{e.t, fnArg(v)}, firstOr(opts).opts()))
}

// Replace substitutes the selected document.
func (e Expr) Replace(v interface{}, opts ...UpdateOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermReplace, []Term{e.t, fnArg(v)}, firstOr(opts).opts()))
}

func (e Expr) Delete(opts ...DeleteOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermDelete, []Term{e.t}, firstOr(opts).opts()))
}

// Op finalizes the expression.
func (e Expr) Op() Operation[datum.Datum] {
	return newOperation(e.t, decodeDatum)
}

// Run evaluates the expression. A streamed result is drained into an array.
func (e Expr) Run(ctx context.Context, conn Querier, opts ...RunOpts) (datum.Datum, error) {
	return e.Op().Run(ctx, conn, opts...)
}

func (e Expr) RunAsync(ctx context.Context, conn Querier, opts ...RunOpts) *driver.Future[datum.Datum] {
	return e.Op().RunAsync(ctx, conn, opts...)
}

func (e Expr) RunCallback(ctx context.Context, conn Querier, cb func(datum.Datum, error), opts ...RunOpts) {
	e.Op().RunCallback(ctx, conn, cb, opts...)
}

func (e Expr) Exec(ctx context.Context, conn Querier, opts ...RunOpts) error {
	return e.Op().Exec(ctx, conn, opts...)
}
