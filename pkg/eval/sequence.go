package eval

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// predicate builds the test used by filter: functions are called, an
// object matches documents holding equal values for all of its fields, and
// any other value is used for its truthiness. A missing field evaluates to
// missing, which is false unless overridden.
func (r *run) predicate(sc *scope, arg *proto.Term, missing bool) (func(datum.Datum) (bool, error), error) {
	if arg.Type == proto.TermFunc {
		return func(item datum.Datum) (bool, error) {
			d, err := r.call(sc, arg, item)
			if errors.Is(err, domain.ErrMissingField) {
				return missing, nil
			}
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
	if want.Kind() != datum.KindObject {
		truthy := want.Truthy()
		return func(datum.Datum) (bool, error) { return truthy, nil }, nil
	}
	return func(item datum.Datum) (bool, error) {
		return subsetMatch(item, want, missing), nil
	}, nil
}

func subsetMatch(doc, pattern datum.Datum, missing bool) bool {
	for _, f := range pattern.Fields() {
		v, ok := doc.Get(f.Key)
		if !ok {
			return missing
		}
		if f.Value.Kind() == datum.KindObject && v.Kind() == datum.KindObject {
			if !subsetMatch(v, f.Value, missing) {
				return false
			}
			continue
		}
		if !datum.Equal(v, f.Value) {
			return false
		}
	}
	return true
}

func keep(items []datum.Datum, test func(datum.Datum) (bool, error)) ([]datum.Datum, error) {
	out := make([]datum.Datum, 0, len(items))
	for _, item := range items {
		ok, err := test(item)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *run) filter(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	missing, err := r.optBool(sc, t, "default")
	if err != nil {
		return value{}, err
	}
	test, err := r.predicate(sc, t.Args[1], missing)
	if err != nil {
		return value{}, err
	}

	v, err := r.eval(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if v.kind == kindGrouped {
		return v.eachGroup(func(g *group) error {
			items, err := keep(g.items, test)
			g.items = items
			return err
		})
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, err
	}
	items, err := keep(seq.items, test)
	if err != nil {
		return value{}, err
	}
	seq.items = items
	return seq, nil
}

func (r *run) mapItems(sc *scope, fn *proto.Term, items []datum.Datum) ([]datum.Datum, error) {
	out := make([]datum.Datum, len(items))
	for i, item := range items {
		d, err := r.call(sc, fn, item)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (r *run) mapSeq(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	v, err := r.eval(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if v.kind == kindGrouped {
		return v.eachGroup(func(g *group) error {
			items, err := r.mapItems(sc, t.Args[1], g.items)
			g.items = items
			return err
		})
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, err
	}
	items, err := r.mapItems(sc, t.Args[1], seq.items)
	if err != nil {
		return value{}, err
	}
	return seqValue(items), nil
}

func (r *run) concatMap(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for _, item := range seq.items {
		v, err := r.callValue(sc, t.Args[1], item)
		if err != nil {
			return value{}, err
		}
		inner, err := v.asSeq()
		if err != nil {
			return value{}, err
		}
		out = append(out, inner.items...)
	}
	return seqValue(out), nil
}

type sortKey struct {
	arg  *proto.Term
	desc bool
}

func (r *run) orderBy(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, -1); err != nil {
		return value{}, err
	}
	keys := make([]sortKey, len(t.Args)-1)
	for i, a := range t.Args[1:] {
		switch a.Type {
		case proto.TermAsc, proto.TermDesc:
			if len(a.Args) != 1 {
				return value{}, compileError("%s expects 1 argument", a.Type)
			}
			keys[i] = sortKey{arg: a.Args[0], desc: a.Type == proto.TermDesc}
		default:
			keys[i] = sortKey{arg: a}
		}
	}

	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	rows := make([][]datum.Datum, len(seq.items))
	for i, item := range seq.items {
		rows[i] = make([]datum.Datum, len(keys))
		for k, key := range keys {
			d, err := r.pick(sc, key.arg, item)
			if err != nil && !errors.Is(err, domain.ErrMissingField) {
				return value{}, err
			}
			rows[i][k] = d
		}
	}

	order := make([]int, len(seq.items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for k, key := range keys {
			c := datum.Compare(rows[order[a]][k], rows[order[b]][k])
			if c == 0 {
				continue
			}
			if key.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	sorted := make([]datum.Datum, len(order))
	for i, idx := range order {
		sorted[i] = seq.items[idx]
	}
	seq.items = sorted
	return seq, nil
}

// pick extracts a value from item: a string names a field, a function is
// called with item.
func (r *run) pick(sc *scope, arg *proto.Term, item datum.Datum) (datum.Datum, error) {
	if arg.Type == proto.TermFunc {
		return r.call(sc, arg, item)
	}
	key, err := r.evalDatum(sc, arg)
	if err != nil {
		return datum.Null(), err
	}
	field, ok := key.AsString()
	if !ok {
		return datum.Null(), typeError("STRING or FUNCTION", kindName(key))
	}
	return getField(item, field)
}

func (r *run) skipLimit(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	n, err := r.evalInt(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		return value{}, opFailed("%s requires a non-negative argument, got %d", t.Type, n)
	}
	n = min(n, len(seq.items))
	if t.Type == proto.TermSkip {
		seq.items = seq.items[n:]
	} else {
		seq.items = seq.items[:n]
	}
	return seq, nil
}

func (r *run) slice(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 3); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	size := len(seq.items)
	start, err := r.evalInt(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	end := size
	if len(t.Args) == 3 {
		if end, err = r.evalInt(sc, t.Args[2]); err != nil {
			return value{}, err
		}
	}
	start, end = clampIndex(start, size), clampIndex(end, size)
	if start >= end {
		seq.items = nil
	} else {
		seq.items = seq.items[start:end]
	}
	return seq, nil
}

func clampIndex(i, size int) int {
	if i < 0 {
		i += size
	}
	return max(0, min(i, size))
}

func (r *run) nth(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	idx, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	return r.nthOf(sc, t.Args[0], idx)
}

func (r *run) nthOf(sc *scope, target *proto.Term, idx datum.Datum) (value, error) {
	n, err := number(idx)
	if err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, target)
	if err != nil {
		return value{}, err
	}
	i := int(n)
	if i < 0 {
		i += len(seq.items)
	}
	if i < 0 || i >= len(seq.items) {
		return value{}, domain.NewQueryError(domain.CodeNotFound, "index out of bounds: %d", int(n))
	}
	doc := seq.items[i]
	out := datumValue(doc)
	if seq.table != nil {
		out.table = seq.table
		out.single = true
		out.key, _ = seq.table.KeyOf(doc)
	}
	return out, nil
}

func (r *run) distinct(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	seen := make(map[string]bool, len(seq.items))
	var out []datum.Datum
	for _, item := range seq.items {
		k := item.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return seqValue(out), nil
}

func (r *run) union(sc *scope, t *proto.Term) (value, error) {
	var out []datum.Datum
	for _, a := range t.Args {
		seq, err := r.evalSeq(sc, a)
		if err != nil {
			return value{}, err
		}
		out = append(out, seq.items...)
	}
	return seqValue(out), nil
}

func (r *run) sample(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	n, err := r.evalInt(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		return value{}, opFailed("sample requires a non-negative argument, got %d", n)
	}
	perm := rand.Perm(len(seq.items))
	n = min(n, len(perm))
	out := make([]datum.Datum, n)
	for i := range out {
		out[i] = seq.items[perm[i]]
	}
	seq.items = out
	return seq, nil
}

func (r *run) isEmpty(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	return datumValue(datum.Bool(len(seq.items) == 0)), nil
}

func (r *run) indexesOf(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	match, err := r.matcher(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for i, item := range seq.items {
		ok, err := match(item)
		if err != nil {
			return value{}, err
		}
		if ok {
			out = append(out, datum.Number(float64(i)))
		}
	}
	return seqValue(out), nil
}

func joinPair(left, right datum.Datum) datum.Datum {
	return datum.MustObject(
		datum.Field{Key: "left", Value: left},
		datum.Field{Key: "right", Value: right},
	)
}

// nestedJoin handles innerJoin and outerJoin by testing every pair.
func (r *run) nestedJoin(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 3, 3); err != nil {
		return value{}, err
	}
	left, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	right, err := r.evalSeq(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for _, l := range left.items {
		matched := false
		for _, rd := range right.items {
			ok, err := r.call(sc, t.Args[2], l, rd)
			if err != nil {
				return value{}, err
			}
			if ok.Truthy() {
				matched = true
				out = append(out, joinPair(l, rd))
			}
		}
		if !matched && t.Type == proto.TermOuterJoin {
			out = append(out, joinPair(l, datum.Null()))
		}
	}
	return seqValue(out), nil
}

func (r *run) eqJoin(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 3, 3); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[2])
	if err != nil {
		return value{}, err
	}
	index, err := r.optString(sc, t, "index", tbl.PrimaryKey())
	if err != nil {
		return value{}, err
	}
	lookup := func(v datum.Datum) []datum.Datum {
		if doc, ok := tbl.Get(v); ok {
			return []datum.Datum{doc}
		}
		return nil
	}
	if index != tbl.PrimaryKey() {
		idx, err := r.engine.Index(tbl, index)
		if err != nil {
			return value{}, err
		}
		lookup = func(v datum.Datum) []datum.Datum {
			return tbl.Lookup(idx.Query(v))
		}
	}

	left, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	var out []datum.Datum
	for _, l := range left.items {
		v, err := r.pick(sc, t.Args[1], l)
		if errors.Is(err, domain.ErrMissingField) {
			continue
		}
		if err != nil {
			return value{}, err
		}
		for _, rd := range lookup(v) {
			out = append(out, joinPair(l, rd))
		}
	}
	return seqValue(out), nil
}

func (r *run) zip(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	out := make([]datum.Datum, len(seq.items))
	for i, pair := range seq.items {
		left, ok := pair.Get("left")
		if !ok {
			return value{}, opFailed("zip can only be called on the result of a join")
		}
		right, _ := pair.Get("right")
		if right.Kind() == datum.KindObject {
			left = left.Merge(right)
		}
		out[i] = left
	}
	return seqValue(out), nil
}
