// Package eval executes query trees against a storage engine.
package eval

import (
	"context"
	"fmt"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

// Evaluator runs queries against one storage engine. It is safe for
// concurrent use; each Run gets its own evaluation state.
type Evaluator struct {
	engine *storage.StorageEngine
}

// New returns an evaluator bound to engine.
func New(engine *storage.StorageEngine) *Evaluator {
	return &Evaluator{engine: engine}
}

// RunOptions carries the run options of a START query that affect
// evaluation.
type RunOptions struct {
	DB         string
	Durability string
	ReadMode   string
}

// Result is the outcome of a query: a single value, or a stream of values
// the caller delivers in batches.
type Result struct {
	Value  datum.Datum
	Stream []datum.Datum
	IsSeq  bool
}

// Run evaluates term.
func (ev *Evaluator) Run(ctx context.Context, term *proto.Term, opts RunOptions) (Result, error) {
	if term == nil {
		return Result{}, compileError("query has no term")
	}
	if opts.DB == "" {
		opts.DB = storage.DefaultDatabase
	}
	run := &run{ctx: ctx, engine: ev.engine, opts: opts}
	v, err := run.eval(&scope{}, term)
	if err != nil {
		return Result{}, err
	}
	switch v.kind {
	case kindSeq:
		return Result{Stream: v.items, IsSeq: true}, nil
	case kindGrouped:
		return Result{Value: v.groupedDatum()}, nil
	case kindDB:
		return Result{}, typeError("DATABASE", "DATUM")
	default:
		return Result{Value: v.d}, nil
	}
}

// run holds the state of one query evaluation.
type run struct {
	ctx     context.Context
	engine  *storage.StorageEngine
	opts    RunOptions
	inWrite bool
}

type valueKind int

const (
	kindDatum valueKind = iota
	kindSeq
	kindGrouped
	kindDB
)

// value is the result of evaluating a term. A sequence or a single document
// that still refers to its table is a selection and can be written to.
type value struct {
	kind  valueKind
	d     datum.Datum
	items []datum.Datum
	table *storage.Table

	// key is the requested primary key of a single selection, kept so a
	// replace on a missing document can insert it.
	key    datum.Datum
	single bool

	groups []*group
	db     string
}

func datumValue(d datum.Datum) value {
	return value{kind: kindDatum, d: d}
}

func seqValue(items []datum.Datum) value {
	return value{kind: kindSeq, items: items}
}

func selection(t *storage.Table, items []datum.Datum) value {
	return value{kind: kindSeq, items: items, table: t}
}

func (v value) typeName() string {
	switch v.kind {
	case kindSeq:
		if v.table != nil {
			return "SELECTION"
		}
		return "SEQUENCE"
	case kindGrouped:
		return "GROUPED_DATA"
	case kindDB:
		return "DATABASE"
	default:
		if v.single && v.table != nil {
			return "SINGLE_SELECTION"
		}
		return kindName(v.d)
	}
}

func kindName(d datum.Datum) string {
	switch d.Kind() {
	case datum.KindNull:
		return "NULL"
	case datum.KindBool:
		return "BOOL"
	case datum.KindNumber:
		return "NUMBER"
	case datum.KindString:
		return "STRING"
	case datum.KindArray:
		return "ARRAY"
	default:
		return "OBJECT"
	}
}

// scope binds function parameters. The implicit variable is the first
// argument of the innermost function call.
type scope struct {
	vars        map[int64]datum.Datum
	implicit    datum.Datum
	hasImplicit bool
}

func (s *scope) bind(ids []int64, args []datum.Datum) *scope {
	next := &scope{vars: make(map[int64]datum.Datum, len(s.vars)+len(ids))}
	for k, v := range s.vars {
		next.vars[k] = v
	}
	for i, id := range ids {
		if i < len(args) {
			next.vars[id] = args[i]
		} else {
			next.vars[id] = datum.Null()
		}
	}
	if len(args) > 0 {
		next.implicit = args[0]
		next.hasImplicit = true
	}
	return next
}

func compileError(format string, args ...interface{}) error {
	return domain.NewQueryError(domain.CodeCompile, format, args...)
}

func typeError(want, got string) error {
	return domain.NewQueryError(domain.CodeTypeMismatch, "expected type %s but found %s", want, got)
}

func opFailed(format string, args ...interface{}) error {
	return domain.NewQueryError(domain.CodeOpFailed, format, args...)
}

func arity(t *proto.Term, min, max int) error {
	n := len(t.Args)
	if n >= min && (max < 0 || n <= max) {
		return nil
	}
	switch {
	case max < 0:
		return compileError("%s expects at least %d arguments but found %d", t.Type, min, n)
	case min == max:
		return compileError("%s expects %d arguments but found %d", t.Type, min, n)
	default:
		return compileError("%s expects between %d and %d arguments but found %d", t.Type, min, max, n)
	}
}

func (r *run) eval(sc *scope, t *proto.Term) (value, error) {
	if err := r.ctx.Err(); err != nil {
		return value{}, err
	}
	if t == nil {
		return value{}, compileError("missing term")
	}

	switch t.Type {
	case proto.TermDatum:
		return datumValue(t.Datum), nil
	case proto.TermMakeArray:
		return r.makeArray(sc, t)
	case proto.TermMakeObj:
		return r.makeObject(sc, t)
	case proto.TermVar:
		return r.variable(sc, t)
	case proto.TermImplicitVar:
		if !sc.hasImplicit {
			return value{}, compileError("row used outside a function")
		}
		return datumValue(sc.implicit), nil
	case proto.TermFunc:
		return value{}, compileError("function used where a value was expected")

	case proto.TermDB:
		return r.database(sc, t)
	case proto.TermTable:
		return r.table(sc, t)
	case proto.TermGet:
		return r.get(sc, t)
	case proto.TermGetAll:
		return r.getAll(sc, t)
	case proto.TermBetween:
		return r.between(sc, t)

	case proto.TermEq, proto.TermNe, proto.TermLt, proto.TermLe, proto.TermGt, proto.TermGe:
		return r.compare(sc, t)
	case proto.TermNot:
		return r.not(sc, t)
	case proto.TermAnd:
		return r.and(sc, t)
	case proto.TermOr:
		return r.or(sc, t)
	case proto.TermBranch:
		return r.branch(sc, t)
	case proto.TermAdd:
		return r.add(sc, t)
	case proto.TermSub, proto.TermMul, proto.TermDiv, proto.TermMod:
		return r.arith(sc, t)

	case proto.TermBracket:
		return r.bracket(sc, t)
	case proto.TermHasFields:
		return r.hasFields(sc, t)
	case proto.TermPluck, proto.TermWithout:
		return r.project(sc, t)
	case proto.TermWithFields:
		return r.withFields(sc, t)
	case proto.TermMerge:
		return r.merge(sc, t)
	case proto.TermDefault:
		return r.defaultValue(sc, t)
	case proto.TermAppend:
		return r.appendValue(sc, t)
	case proto.TermContains:
		return r.contains(sc, t)

	case proto.TermFilter:
		return r.filter(sc, t)
	case proto.TermMap:
		return r.mapSeq(sc, t)
	case proto.TermConcatMap:
		return r.concatMap(sc, t)
	case proto.TermOrderBy:
		return r.orderBy(sc, t)
	case proto.TermSkip, proto.TermLimit:
		return r.skipLimit(sc, t)
	case proto.TermSlice:
		return r.slice(sc, t)
	case proto.TermNth:
		return r.nth(sc, t)
	case proto.TermDistinct:
		return r.distinct(sc, t)
	case proto.TermUnion:
		return r.union(sc, t)
	case proto.TermSample:
		return r.sample(sc, t)
	case proto.TermIsEmpty:
		return r.isEmpty(sc, t)
	case proto.TermIndexesOf:
		return r.indexesOf(sc, t)
	case proto.TermInnerJoin, proto.TermOuterJoin:
		return r.nestedJoin(sc, t)
	case proto.TermEqJoin:
		return r.eqJoin(sc, t)
	case proto.TermZip:
		return r.zip(sc, t)

	case proto.TermReduce:
		return r.reduce(sc, t)
	case proto.TermCount:
		return r.count(sc, t)
	case proto.TermSum, proto.TermAvg:
		return r.sumAvg(sc, t)
	case proto.TermMin, proto.TermMax:
		return r.minMax(sc, t)
	case proto.TermGroup:
		return r.group(sc, t)
	case proto.TermGroupedMR:
		return r.groupedMapReduce(sc, t)
	case proto.TermUngroup:
		return r.ungroup(sc, t)

	case proto.TermInsert:
		return r.insert(sc, t)
	case proto.TermUpdate, proto.TermReplace:
		return r.modify(sc, t)
	case proto.TermDelete:
		return r.delete(sc, t)

	case proto.TermDBCreate, proto.TermDBDrop, proto.TermDBList:
		return r.dbAdmin(sc, t)
	case proto.TermTableCreate, proto.TermTableDrop, proto.TermTableList:
		return r.tableAdmin(sc, t)
	case proto.TermIndexCreate, proto.TermIndexDrop, proto.TermIndexList:
		return r.indexAdmin(sc, t)

	case proto.TermAsc, proto.TermDesc:
		return value{}, compileError("%s is only valid inside orderBy", t.Type)
	default:
		return value{}, compileError("unknown term type %s", t.Type)
	}
}

// evalDatum evaluates t and flattens sequences into arrays.
func (r *run) evalDatum(sc *scope, t *proto.Term) (datum.Datum, error) {
	v, err := r.eval(sc, t)
	if err != nil {
		return datum.Null(), err
	}
	return v.toDatum()
}

func (v value) toDatum() (datum.Datum, error) {
	switch v.kind {
	case kindSeq:
		return datum.NewArray(v.items...), nil
	case kindGrouped:
		return v.groupedDatum(), nil
	case kindDB:
		return datum.Null(), typeError("DATUM", "DATABASE")
	default:
		return v.d, nil
	}
}

// evalSeq evaluates t as a sequence. Arrays are accepted as sequences.
func (r *run) evalSeq(sc *scope, t *proto.Term) (value, error) {
	v, err := r.eval(sc, t)
	if err != nil {
		return value{}, err
	}
	return v.asSeq()
}

func (v value) asSeq() (value, error) {
	switch v.kind {
	case kindSeq:
		return v, nil
	case kindDatum:
		if v.d.Kind() == datum.KindArray {
			return seqValue(v.d.Items()), nil
		}
	}
	return value{}, typeError("SEQUENCE", v.typeName())
}

func (r *run) evalString(sc *scope, t *proto.Term) (string, error) {
	d, err := r.evalDatum(sc, t)
	if err != nil {
		return "", err
	}
	s, ok := d.AsString()
	if !ok {
		return "", typeError("STRING", kindName(d))
	}
	return s, nil
}

func (r *run) evalNumber(sc *scope, t *proto.Term) (float64, error) {
	d, err := r.evalDatum(sc, t)
	if err != nil {
		return 0, err
	}
	return number(d)
}

func (r *run) evalInt(sc *scope, t *proto.Term) (int, error) {
	n, err := r.evalNumber(sc, t)
	if err != nil {
		return 0, err
	}
	if n != float64(int(n)) {
		return 0, opFailed("number not an integer: %s", datum.Number(n))
	}
	return int(n), nil
}

func number(d datum.Datum) (float64, error) {
	n, ok := d.AsNumber()
	if !ok {
		return 0, typeError("NUMBER", kindName(d))
	}
	return n, nil
}

// optString returns a string option of t, or def when absent.
func (r *run) optString(sc *scope, t *proto.Term, name, def string) (string, error) {
	o := t.Opt(name)
	if o == nil {
		return def, nil
	}
	return r.evalString(sc, o)
}

func (r *run) optBool(sc *scope, t *proto.Term, name string) (bool, error) {
	o := t.Opt(name)
	if o == nil {
		return false, nil
	}
	d, err := r.evalDatum(sc, o)
	if err != nil {
		return false, err
	}
	return d.Truthy(), nil
}

// call applies a function argument to args. A non-function argument is
// evaluated as a constant.
func (r *run) call(sc *scope, fn *proto.Term, args ...datum.Datum) (datum.Datum, error) {
	v, err := r.callValue(sc, fn, args...)
	if err != nil {
		return datum.Null(), err
	}
	return v.toDatum()
}

func (r *run) callValue(sc *scope, fn *proto.Term, args ...datum.Datum) (value, error) {
	if fn.Type != proto.TermFunc {
		return r.eval(sc, fn)
	}
	if len(fn.Args) != 2 || fn.Args[0].Type != proto.TermDatum {
		return value{}, compileError("malformed function")
	}
	params := fn.Args[0].Datum.Items()
	ids := make([]int64, len(params))
	for i, p := range params {
		n, ok := p.AsNumber()
		if !ok {
			return value{}, compileError("malformed function parameter %s", p)
		}
		ids[i] = int64(n)
	}
	if len(args) < len(ids) && len(ids) > 1 {
		return value{}, compileError("function expects %d arguments but was called with %d", len(ids), len(args))
	}
	return r.eval(sc.bind(ids, args), fn.Args[1])
}

func (r *run) variable(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	n, ok := t.Args[0].Datum.AsNumber()
	if !ok {
		return value{}, compileError("malformed variable reference")
	}
	d, ok := sc.vars[int64(n)]
	if !ok {
		return value{}, compileError("variable %d is not in scope", int64(n))
	}
	return datumValue(d), nil
}

func (r *run) makeArray(sc *scope, t *proto.Term) (value, error) {
	items := make([]datum.Datum, len(t.Args))
	for i, a := range t.Args {
		d, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		items[i] = d
	}
	return datumValue(datum.NewArray(items...)), nil
}

func (r *run) makeObject(sc *scope, t *proto.Term) (value, error) {
	if len(t.Args)%2 != 0 {
		return value{}, compileError("object literal has an odd number of arguments")
	}
	fields := make([]datum.Field, 0, len(t.Args)/2)
	for i := 0; i < len(t.Args); i += 2 {
		key, err := r.evalString(sc, t.Args[i])
		if err != nil {
			return value{}, err
		}
		val, err := r.evalDatum(sc, t.Args[i+1])
		if err != nil {
			return value{}, err
		}
		fields = append(fields, datum.Field{Key: key, Value: val})
	}
	obj, err := datum.NewObject(fields...)
	if err != nil {
		return value{}, compileError("%v", err)
	}
	return datumValue(obj), nil
}

// readsTables reports whether t reads from a table anywhere inside.
func readsTables(t *proto.Term) bool {
	if t == nil {
		return false
	}
	switch t.Type {
	case proto.TermTable, proto.TermDB:
		return true
	case proto.TermDatum:
		return false
	}
	for _, a := range t.Args {
		if readsTables(a) {
			return true
		}
	}
	for _, o := range t.Opts {
		if readsTables(o) {
			return true
		}
	}
	return false
}

func (v value) String() string {
	d, err := v.toDatum()
	if err != nil {
		return fmt.Sprintf("<%s>", v.typeName())
	}
	return d.String()
}
