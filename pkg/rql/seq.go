package rql

import (
	"context"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// Seq is a node evaluating to an ordered sequence. Every sequence operator
// returns a new node whose first child is the receiver.
type Seq struct {
	t Term
}

// Array builds a literal sequence.
func Array(items ...interface{}) Seq {
	return Seq{newTerm(proto.TermMakeArray, terms(items), nil)}
}

func (s Seq) Term() Term { return s.t }
func (s Seq) String() string { return s.t.String() }

func (s Seq) seq(typ proto.TermType, args ...Term) Seq {
	return Seq{newTerm(typ, with(s.t, args...), nil)}
}

func (s Seq) expr(typ proto.TermType, args ...Term) Expr {
	return Expr{newTerm(typ, with(s.t, args...), nil)}
}

// Filter keeps the documents for which pred is truthy. pred is a function, an
// expression using Row, or an object matched field by field against each
// document. Documents missing a field the predicate reads are skipped.
func (s Seq) Filter(pred interface{}) Seq {
	return s.seq(proto.TermFilter, fnArg(pred))
}

func (s Seq) Map(fn interface{}) Seq {
	return s.seq(proto.TermMap, fnArg(fn))
}

// ConcatMap maps every document to a sequence and flattens the results.
func (s Seq) ConcatMap(fn interface{}) Seq {
	return s.seq(proto.TermConcatMap, fnArg(fn))
}

// WithFields plucks the given fields from the documents that have all of
// them and drops the others.
func (s Seq) WithFields(fields ...string) Seq {
	return s.seq(proto.TermWithFields, stringTerms(fields)...)
}

// OrderBy sorts by field names (ascending), Asc/Desc orderings or
// functions. The sort is stable.
func (s Seq) OrderBy(keys ...interface{}) Seq {
	args := make([]Term, len(keys))
	for i, k := range keys {
		args[i] = fnArg(k)
	}
	return s.seq(proto.TermOrderBy, args...)
}

func (s Seq) Skip(n interface{}) Seq { return s.seq(proto.TermSkip, expr(n)) }
func (s Seq) Limit(n interface{}) Seq { return s.seq(proto.TermLimit, expr(n)) }

// Slice returns the items in [start, end). Without end it runs to the end of
// the sequence.
func (s Seq) Slice(start interface{}, end ...interface{}) Seq {
	args := []Term{expr(start)}
	if len(end) > 0 {
		args = append(args, expr(end[0]))
	}
	return s.seq(proto.TermSlice, args...)
}

// Nth returns the n-th item; negative n counts from the end.
func (s Seq) Nth(n interface{}) Expr {
	return s.expr(proto.TermNth, expr(n))
}

// Distinct drops repeated values, keeping first occurrences in order.
func (s Seq) Distinct() Seq {
	return s.seq(proto.TermDistinct)
}

func (s Seq) Union(others ...Termer) Seq {
	args := make([]Term, len(others))
	for i, o := range others {
		args[i] = o.Term()
	}
	return s.seq(proto.TermUnion, args...)
}

// Sample returns n items chosen uniformly at random.
func (s Seq) Sample(n interface{}) Seq {
	return s.seq(proto.TermSample, expr(n))
}

// Field reads one field from every document, skipping those without it.
func (s Seq) Field(name string) Seq {
	return s.seq(proto.TermBracket, stringTerm(name))
}

// HasFields keeps the documents that have all the given fields.
func (s Seq) HasFields(fields ...string) Seq {
	return s.seq(proto.TermHasFields, stringTerms(fields)...)
}

func (s Seq) Pluck(fields ...string) Seq {
	return s.seq(proto.TermPluck, stringTerms(fields)...)
}

func (s Seq) Without(fields ...string) Seq {
	return s.seq(proto.TermWithout, stringTerms(fields)...)
}

func (s Seq) Merge(vs ...interface{}) Seq {
	return s.seq(proto.TermMerge, fnTerms(vs)...)
}

// InnerJoin pairs every left document with every right document satisfying
// pred(left, right), yielding {left, right} objects.
func (s Seq) InnerJoin(other Termer, pred interface{}) Seq {
	return s.seq(proto.TermInnerJoin, other.Term(), fnArg(pred))
}

// OuterJoin is InnerJoin that also yields {left, right: null} for left
// documents without any match.
func (s Seq) OuterJoin(other Termer, pred interface{}) Seq {
	return s.seq(proto.TermOuterJoin, other.Term(), fnArg(pred))
}

// EqJoin matches the value of left (a field name or function) against the
// primary key, or the given index, of right. A missing index is reported at
// run time with domain.ErrIndexNotFound.
func (s Seq) EqJoin(left interface{}, right TableRef, opts ...EqJoinOpts) Seq {
	var o map[string]Term
	if idx := firstOr(opts).Index; idx != "" {
		o = map[string]Term{"index": stringTerm(idx)}
	}
	return Seq{newTerm(proto.TermEqJoin, []Term{s.t, fnArg(left), right.t}, o)}
}

// Zip merges the right document of each join pair into the left one.
func (s Seq) Zip() Seq {
	return s.seq(proto.TermZip)
}

// Reduce folds the sequence with fn(acc, item). Without a base an empty
// sequence fails with domain.ErrEmptyReduce; with one it yields the base.
func (s Seq) Reduce(fn interface{}, base ...interface{}) Expr {
	var o map[string]Term
	if len(base) > 0 {
		o = map[string]Term{"base": expr(base[0])}
	}
	return Expr{newTerm(proto.TermReduce, []Term{s.t, fnArg(fn)}, o)}
}

// Count counts the items, or those matching pred (a value or predicate).
func (s Seq) Count(pred ...interface{}) Expr {
	return s.expr(proto.TermCount, fnTerms(pred)...)
}

// Sum adds up the items, or a field or function of them.
func (s Seq) Sum(field ...interface{}) Expr {
	return s.expr(proto.TermSum, fnTerms(field)...)
}

// Avg fails on an empty sequence.
func (s Seq) Avg(field ...interface{}) Expr {
	return s.expr(proto.TermAvg, fnTerms(field)...)
}

// Max returns the item with the largest value, of itself or of the given
// field or function.
func (s Seq) Max(field ...interface{}) Expr {
	return s.expr(proto.TermMax, fnTerms(field)...)
}

func (s Seq) Min(field ...interface{}) Expr {
	return s.expr(proto.TermMin, fnTerms(field)...)
}

// Aggregate applies a prebuilt aggregator.
func (s Seq) Aggregate(a Aggregator) Expr {
	return Expr{a.apply(s.t)}
}

// Group partitions the sequence by the value of one or more field names or
// functions. Group keys compare structurally.
func (s Seq) Group(keys ...interface{}) Grouped {
	return Grouped{newTerm(proto.TermGroup, with(s.t, fnTerms(keys)...), nil)}
}

// GroupedMapReduce groups by group, maps every member with mapFn and folds
// each group with reduceFn, yielding {group, reduction} objects ordered by
// group.
func (s Seq) GroupedMapReduce(group, mapFn, reduceFn interface{}, base ...interface{}) Expr {
	var o map[string]Term
	if len(base) > 0 {
		o = map[string]Term{"base": expr(base[0])}
	}
	return Expr{newTerm(proto.TermGroupedMR, []Term{s.t, fnArg(group), fnArg(mapFn), fnArg(reduceFn)}, o)}
}

func (s Seq) IsEmpty() Expr {
	return s.expr(proto.TermIsEmpty)
}

// IndexesOf returns the positions of items equal to v or satisfying v.
func (s Seq) IndexesOf(v interface{}) Seq {
	return s.seq(proto.TermIndexesOf, fnArg(v))
}

// Contains reports whether the sequence holds every given value, or items
// satisfying every given predicate.
func (s Seq) Contains(vs ...interface{}) Expr {
	return s.expr(proto.TermContains, fnTerms(vs)...)
}

// Update merges v into every selected document.
func (s Seq) Update(v interface{}, opts ...UpdateOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermUpdate, []Term{s.t, fnArg(v)}, firstOr(opts).opts()))
}

// Replace substitutes every selected document.
func (s Seq) Replace(v interface{}, opts ...UpdateOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermReplace, []Term{s.t, fnArg(v)}, firstOr(opts).opts()))
}

func (s Seq) Delete(opts ...DeleteOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermDelete, []Term{s.t}, firstOr(opts).opts()))
}

// Op finalizes the sequence.
func (s Seq) Op() Operation[*driver.Cursor] {
	op := newOperation(s.t, decodeCursor)
	op.noreply = emptyCursor
	return op
}

func emptyCursor() *driver.Cursor {
	return driver.NewArrayCursor(nil)
}

// Run starts the query and returns a cursor as soon as the first batch
// arrives.
func (s Seq) Run(ctx context.Context, conn Querier, opts ...RunOpts) (*driver.Cursor, error) {
	return s.Op().Run(ctx, conn, opts...)
}

func (s Seq) RunAsync(ctx context.Context, conn Querier, opts ...RunOpts) *driver.Future[*driver.Cursor] {
	return s.Op().RunAsync(ctx, conn, opts...)
}

func (s Seq) RunCallback(ctx context.Context, conn Querier, cb func(*driver.Cursor, error), opts ...RunOpts) {
	s.Op().RunCallback(ctx, conn, cb, opts...)
}

func (s Seq) Exec(ctx context.Context, conn Querier, opts ...RunOpts) error {
	return s.Op().Exec(ctx, conn, opts...)
}

// ToArray runs the query and drains its cursor.
func (s Seq) ToArray(ctx context.Context, conn Querier, opts ...RunOpts) ([]datum.Datum, error) {
	cur, err := s.Run(ctx, conn, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return cur.ToArray(ctx)
}
