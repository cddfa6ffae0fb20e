package rql

import (
	"context"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// Grouped is a sequence partitioned by Group. Reductions apply per group.
// Run yields an array of {group, reduction} objects ordered by group.
type Grouped struct {
	t Term
}

func (g Grouped) Term() Term { return g.t }
func (g Grouped) String() string { return g.t.String() }

func (g Grouped) reduce(typ proto.TermType, args ...Term) Grouped {
	return Grouped{newTerm(typ, with(g.t, args...), nil)}
}

func (g Grouped) Count(pred ...interface{}) Grouped {
	return g.reduce(proto.TermCount, fnTerms(pred)...)
}

func (g Grouped) Sum(field ...interface{}) Grouped {
	return g.reduce(proto.TermSum, fnTerms(field)...)
}

func (g Grouped) Avg(field ...interface{}) Grouped {
	return g.reduce(proto.TermAvg, fnTerms(field)...)
}

func (g Grouped) Min(field ...interface{}) Grouped {
	return g.reduce(proto.TermMin, fnTerms(field)...)
}

func (g Grouped) Max(field ...interface{}) Grouped {
	return g.reduce(proto.TermMax, fnTerms(field)...)
}

// Reduce folds every group with fn(acc, item).
func (g Grouped) Reduce(fn interface{}, base ...interface{}) Grouped {
	var o map[string]Term
	if len(base) > 0 {
		o = map[string]Term{"base": expr(base[0])}
	}
	return Grouped{newTerm(proto.TermReduce, []Term{g.t, fnArg(fn)}, o)}
}

// Map transforms the members of every group.
func (g Grouped) Map(fn interface{}) Grouped {
	return g.reduce(proto.TermMap, fnArg(fn))
}

func (g Grouped) Aggregate(a Aggregator) Grouped {
	return Grouped{a.apply(g.t)}
}

// Ungroup turns the groups into a sequence of {group, reduction} objects.
func (g Grouped) Ungroup() Seq {
	return Seq{newTerm(proto.TermUngroup, []Term{g.t}, nil)}
}

func (g Grouped) Op() Operation[datum.Datum] {
	return newOperation(g.t, decodeDatum)
}

func (g Grouped) Run(ctx context.Context, conn Querier, opts ...RunOpts) (datum.Datum, error) {
	return g.Op().Run(ctx, conn, opts...)
}

func (g Grouped) RunAsync(ctx context.Context, conn Querier, opts ...RunOpts) *driver.Future[datum.Datum] {
	return g.Op().RunAsync(ctx, conn, opts...)
}

func (g Grouped) RunCallback(ctx context.Context, conn Querier, cb func(datum.Datum, error), opts ...RunOpts) {
	g.Op().RunCallback(ctx, conn, cb, opts...)
}

func (g Grouped) Exec(ctx context.Context, conn Querier, opts ...RunOpts) error {
	return g.Op().Exec(ctx, conn, opts...)
}

// Aggregator is a reusable reduction.
type Aggregator struct {
	typ   proto.TermType
	field string
}

func CountAll() Aggregator { return Aggregator{typ: proto.TermCount} }
func SumOf(field string) Aggregator { return Aggregator{typ: proto.TermSum, field: field} }
func AvgOf(field string) Aggregator { return Aggregator{typ: proto.TermAvg, field: field} }
func MinOf(field string) Aggregator { return Aggregator{typ: proto.TermMin, field: field} }
func MaxOf(field string) Aggregator { return Aggregator{typ: proto.TermMax, field: field} }

func (a Aggregator) apply(src Term) Term {
	if a.field == "" {
		return newTerm(a.typ, []Term{src}, nil)
	}
	return newTerm(a.typ, []Term{src, stringTerm(a.field)}, nil)
}

// Ordering is a sort directive for OrderBy.
type Ordering struct {
	t Term
}

func (o Ordering) Term() Term { return o.t }

// Asc sorts ascending by a field name or function.
func Asc(key interface{}) Ordering {
	return Ordering{newTerm(proto.TermAsc, []Term{fnArg(key)}, nil)}
}

// Desc sorts descending by a field name or function.
func Desc(key interface{}) Ordering {
	return Ordering{newTerm(proto.TermDesc, []Term{fnArg(key)}, nil)}
}
