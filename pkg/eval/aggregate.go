package eval

import (
	"errors"
	"sort"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// group is one partition of grouped data. Once reduced, reduction replaces
// items in the output.
type group struct {
	key       datum.Datum
	items     []datum.Datum
	reduction datum.Datum
	reduced   bool
}

// eachGroup applies fn to a copy of every group.
func (v value) eachGroup(fn func(g *group) error) (value, error) {
	out := make([]*group, len(v.groups))
	for i, g := range v.groups {
		cp := *g
		if err := fn(&cp); err != nil {
			return value{}, err
		}
		out[i] = &cp
	}
	return value{kind: kindGrouped, groups: out}, nil
}

// reduceGroups reduces every group with fn.
func (v value) reduceGroups(fn func(items []datum.Datum) (datum.Datum, error)) (value, error) {
	return v.eachGroup(func(g *group) error {
		if g.reduced {
			return typeError("SEQUENCE", kindName(g.reduction))
		}
		d, err := fn(g.items)
		if err != nil {
			return err
		}
		g.reduction = d
		g.reduced = true
		return nil
	})
}

// groupedDatum renders groups as {group, reduction} objects ordered by
// group key.
func (v value) groupedDatum() datum.Datum {
	groups := make([]*group, len(v.groups))
	copy(groups, v.groups)
	sort.SliceStable(groups, func(i, j int) bool {
		return datum.Compare(groups[i].key, groups[j].key) < 0
	})
	out := make([]datum.Datum, len(groups))
	for i, g := range groups {
		red := g.reduction
		if !g.reduced {
			red = datum.NewArray(g.items...)
		}
		out[i] = datum.MustObject(
			datum.Field{Key: "group", Value: g.key},
			datum.Field{Key: "reduction", Value: red},
		)
	}
	return datum.NewArray(out...)
}

// aggregate evaluates the source of a reduction and applies fn to its
// items, per group when the source is grouped.
func (r *run) aggregate(sc *scope, src *proto.Term, fn func(items []datum.Datum) (datum.Datum, error)) (value, error) {
	v, err := r.eval(sc, src)
	if err != nil {
		return value{}, err
	}
	if v.kind == kindGrouped {
		return v.reduceGroups(fn)
	}
	seq, err := v.asSeq()
	if err != nil {
		return value{}, err
	}
	d, err := fn(seq.items)
	if err != nil {
		return value{}, err
	}
	return datumValue(d), nil
}

func (r *run) reduce(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	var base *datum.Datum
	if o := t.Opt("base"); o != nil {
		d, err := r.evalDatum(sc, o)
		if err != nil {
			return value{}, err
		}
		base = &d
	}
	return r.aggregate(sc, t.Args[0], func(items []datum.Datum) (datum.Datum, error) {
		return r.fold(sc, t.Args[1], items, base)
	})
}

func (r *run) fold(sc *scope, fn *proto.Term, items []datum.Datum, base *datum.Datum) (datum.Datum, error) {
	if len(items) == 0 {
		if base != nil {
			return *base, nil
		}
		return datum.Null(), domain.NewQueryError(domain.CodeEmptyReduce, "cannot reduce over an empty stream")
	}
	acc := items[0]
	rest := items[1:]
	if base != nil {
		acc = *base
		rest = items
	}
	for _, item := range rest {
		var err error
		if acc, err = r.call(sc, fn, acc, item); err != nil {
			return datum.Null(), err
		}
	}
	return acc, nil
}

func (r *run) count(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 2); err != nil {
		return value{}, err
	}
	if len(t.Args) == 1 {
		v, err := r.eval(sc, t.Args[0])
		if err != nil {
			return value{}, err
		}
		if v.kind == kindDatum && v.d.Kind() != datum.KindArray {
			switch v.d.Kind() {
			case datum.KindString:
				s, _ := v.d.AsString()
				return datumValue(datum.Number(float64(len([]rune(s))))), nil
			case datum.KindObject:
				return datumValue(datum.Number(float64(v.d.Len()))), nil
			}
		}
		if v.kind == kindGrouped {
			return v.reduceGroups(func(items []datum.Datum) (datum.Datum, error) {
				return datum.Number(float64(len(items))), nil
			})
		}
		seq, err := v.asSeq()
		if err != nil {
			return value{}, err
		}
		return datumValue(datum.Number(float64(len(seq.items)))), nil
	}

	match, err := r.matcher(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	return r.aggregate(sc, t.Args[0], func(items []datum.Datum) (datum.Datum, error) {
		n := 0
		for _, item := range items {
			ok, err := match(item)
			if err != nil {
				return datum.Null(), err
			}
			if ok {
				n++
			}
		}
		return datum.Number(float64(n)), nil
	})
}

// values extracts the values an aggregation works on. Items lacking the
// named field are skipped.
func (r *run) values(sc *scope, arg *proto.Term, items []datum.Datum) ([]datum.Datum, error) {
	if arg == nil {
		return items, nil
	}
	out := make([]datum.Datum, 0, len(items))
	for _, item := range items {
		d, err := r.pick(sc, arg, item)
		if errors.Is(err, domain.ErrMissingField) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func optionalArg(t *proto.Term) *proto.Term {
	if len(t.Args) > 1 {
		return t.Args[1]
	}
	return nil
}

func (r *run) sumAvg(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 2); err != nil {
		return value{}, err
	}
	arg := optionalArg(t)
	return r.aggregate(sc, t.Args[0], func(items []datum.Datum) (datum.Datum, error) {
		vals, err := r.values(sc, arg, items)
		if err != nil {
			return datum.Null(), err
		}
		sum := 0.0
		for _, v := range vals {
			n, err := number(v)
			if err != nil {
				return datum.Null(), err
			}
			sum += n
		}
		if t.Type == proto.TermSum {
			return datum.Number(sum), nil
		}
		if len(vals) == 0 {
			return datum.Null(), domain.NewQueryError(domain.CodeEmptyReduce, "cannot take the average of an empty stream")
		}
		return datum.Number(sum / float64(len(vals))), nil
	})
}

// minMax returns the item with the smallest or largest value. The first of
// equal items wins.
func (r *run) minMax(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 2); err != nil {
		return value{}, err
	}
	arg := optionalArg(t)
	return r.aggregate(sc, t.Args[0], func(items []datum.Datum) (datum.Datum, error) {
		var best, bestKey datum.Datum
		found := false
		for _, item := range items {
			key := item
			if arg != nil {
				var err error
				key, err = r.pick(sc, arg, item)
				if errors.Is(err, domain.ErrMissingField) {
					continue
				}
				if err != nil {
					return datum.Null(), err
				}
			}
			c := datum.Compare(key, bestKey)
			if !found || (t.Type == proto.TermMin && c < 0) || (t.Type == proto.TermMax && c > 0) {
				best, bestKey, found = item, key, true
			}
		}
		if !found {
			return datum.Null(), domain.NewQueryError(domain.CodeEmptyReduce, "cannot take the %s of an empty stream", t.Type)
		}
		return best, nil
	})
}

// groupKey computes the group of item. Items lacking a grouping field fall
// into the null group.
func (r *run) groupKey(sc *scope, keys []*proto.Term, item datum.Datum) (datum.Datum, error) {
	parts := make([]datum.Datum, len(keys))
	for i, k := range keys {
		d, err := r.pick(sc, k, item)
		if errors.Is(err, domain.ErrMissingField) {
			d, err = datum.Null(), nil
		}
		if err != nil {
			return datum.Null(), err
		}
		parts[i] = d
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return datum.NewArray(parts...), nil
}

func (r *run) partition(sc *scope, keys []*proto.Term, items []datum.Datum) ([]*group, error) {
	byKey := make(map[string]*group)
	var groups []*group
	for _, item := range items {
		k, err := r.groupKey(sc, keys, item)
		if err != nil {
			return nil, err
		}
		g, ok := byKey[k.Key()]
		if !ok {
			g = &group{key: k}
			byKey[k.Key()] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}
	return groups, nil
}

func (r *run) group(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, -1); err != nil {
		return value{}, err
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	groups, err := r.partition(sc, t.Args[1:], seq.items)
	if err != nil {
		return value{}, err
	}
	return value{kind: kindGrouped, groups: groups}, nil
}

func (r *run) groupedMapReduce(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 4, 4); err != nil {
		return value{}, err
	}
	var base *datum.Datum
	if o := t.Opt("base"); o != nil {
		d, err := r.evalDatum(sc, o)
		if err != nil {
			return value{}, err
		}
		base = &d
	}
	seq, err := r.evalSeq(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	groups, err := r.partition(sc, t.Args[1:2], seq.items)
	if err != nil {
		return value{}, err
	}
	grouped, err := value{kind: kindGrouped, groups: groups}.reduceGroups(func(items []datum.Datum) (datum.Datum, error) {
		mapped, err := r.mapItems(sc, t.Args[2], items)
		if err != nil {
			return datum.Null(), err
		}
		return r.fold(sc, t.Args[3], mapped, base)
	})
	if err != nil {
		return value{}, err
	}
	return datumValue(grouped.groupedDatum()), nil
}

func (r *run) ungroup(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	v, err := r.eval(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if v.kind != kindGrouped {
		return value{}, typeError("GROUPED_DATA", v.typeName())
	}
	return seqValue(v.groupedDatum().Items()), nil
}
