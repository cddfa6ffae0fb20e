package eval

import (
	"sort"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

func (r *run) database(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	name, err := r.evalString(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	return value{kind: kindDB, db: name}, nil
}

// dbArg resolves an optional leading database argument. It returns the
// database name and the remaining arguments.
func (r *run) dbArg(sc *scope, args []*proto.Term) (string, []*proto.Term, error) {
	if len(args) > 0 && args[0].Type == proto.TermDB {
		v, err := r.eval(sc, args[0])
		if err != nil {
			return "", nil, err
		}
		return v.db, args[1:], nil
	}
	return r.opts.DB, args, nil
}

// tableOf resolves a TABLE term without reading it.
func (r *run) tableOf(sc *scope, t *proto.Term) (*storage.Table, error) {
	if t.Type != proto.TermTable {
		v, err := r.eval(sc, t)
		if err != nil {
			return nil, err
		}
		return nil, typeError("TABLE", v.typeName())
	}
	db, rest, err := r.dbArg(sc, t.Args)
	if err != nil {
		return nil, err
	}
	if len(rest) != 1 {
		return nil, compileError("table expects a name")
	}
	name, err := r.evalString(sc, rest[0])
	if err != nil {
		return nil, err
	}
	return r.engine.Table(db, name)
}

func (r *run) table(sc *scope, t *proto.Term) (value, error) {
	tbl, err := r.tableOf(sc, t)
	if err != nil {
		return value{}, err
	}
	return selection(tbl, tbl.Scan()), nil
}

func (r *run) get(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	key, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	doc, ok := tbl.Get(key)
	if !ok {
		doc = datum.Null()
	}
	return value{kind: kindDatum, d: doc, table: tbl, key: key, single: true}, nil
}

func (r *run) getAll(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, -1); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	index, err := r.optString(sc, t, "index", tbl.PrimaryKey())
	if err != nil {
		return value{}, err
	}

	var docs []datum.Datum
	for _, a := range t.Args[1:] {
		key, err := r.evalDatum(sc, a)
		if err != nil {
			return value{}, err
		}
		if index == tbl.PrimaryKey() {
			if doc, ok := tbl.Get(key); ok {
				docs = append(docs, doc)
			}
			continue
		}
		idx, err := r.engine.Index(tbl, index)
		if err != nil {
			return value{}, err
		}
		docs = append(docs, tbl.Lookup(idx.Query(key))...)
	}
	return selection(tbl, docs), nil
}

func (r *run) between(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 3, 3); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	lower, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	upper, err := r.evalDatum(sc, t.Args[2])
	if err != nil {
		return value{}, err
	}
	index, err := r.optString(sc, t, "index", tbl.PrimaryKey())
	if err != nil {
		return value{}, err
	}
	left, err := r.optString(sc, t, "left_bound", "closed")
	if err != nil {
		return value{}, err
	}
	right, err := r.optString(sc, t, "right_bound", "open")
	if err != nil {
		return value{}, err
	}
	for _, b := range []string{left, right} {
		if b != "open" && b != "closed" {
			return value{}, opFailed("bound must be `open` or `closed`, got `%s`", b)
		}
	}
	leftOpen, rightOpen := left == "open", right == "open"

	if index != tbl.PrimaryKey() {
		idx, err := r.engine.Index(tbl, index)
		if err != nil {
			return value{}, err
		}
		return selection(tbl, tbl.Lookup(idx.Range(lower, upper, leftOpen, rightOpen))), nil
	}

	var docs []datum.Datum
	for _, doc := range tbl.Scan() {
		pk, _ := tbl.KeyOf(doc)
		if inRange(pk, lower, upper, leftOpen, rightOpen) {
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, _ := tbl.KeyOf(docs[i])
		b, _ := tbl.KeyOf(docs[j])
		return datum.Compare(a, b) < 0
	})
	return selection(tbl, docs), nil
}

func inRange(v, lower, upper datum.Datum, leftOpen, rightOpen bool) bool {
	lo := datum.Compare(v, lower)
	if lo < 0 || (lo == 0 && leftOpen) {
		return false
	}
	hi := datum.Compare(v, upper)
	return hi < 0 || (hi == 0 && !rightOpen)
}
