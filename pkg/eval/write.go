package eval

import (
	"errors"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

// writeOpts are the options shared by every write term.
type writeOpts struct {
	durability    string
	returnChanges bool
}

func (r *run) writeOptions(sc *scope, t *proto.Term) (writeOpts, error) {
	durability, err := r.optString(sc, t, "durability", r.opts.Durability)
	if err != nil {
		return writeOpts{}, err
	}
	if durability != "" && durability != domain.DurabilityHard && durability != domain.DurabilitySoft {
		return writeOpts{}, opFailed("durability must be `hard` or `soft`, got `%s`", durability)
	}
	returnChanges, err := r.optBool(sc, t, "return_changes")
	if err != nil {
		return writeOpts{}, err
	}
	return writeOpts{durability: durability, returnChanges: returnChanges}, nil
}

// commit runs fn inside a storage transaction on tbl. Nested writes are
// rejected: a function evaluated during a commit cannot start another one.
func (r *run) commit(tbl *storage.Table, opts writeOpts, fn func(tx *storage.Tx, res *domain.WriteResult) error) (value, error) {
	if err := r.checkNotNested(); err != nil {
		return value{}, err
	}
	var res domain.WriteResult
	if opts.returnChanges {
		res.Changes = []domain.Change{}
	}
	r.inWrite = true
	err := r.engine.Write(tbl, opts.durability, func(tx *storage.Tx) error {
		return fn(tx, &res)
	})
	r.inWrite = false
	if err != nil {
		return value{}, err
	}
	return datumValue(res.Datum()), nil
}

func (r *run) checkNotNested() error {
	if r.inWrite {
		return opFailed("cannot nest a write or schema change inside a write")
	}
	return nil
}

func fail(res *domain.WriteResult, err error) {
	res.Errors++
	if res.FirstError == "" {
		var qe *domain.QueryError
		if errors.As(err, &qe) {
			res.FirstError = qe.Msg
		} else {
			res.FirstError = err.Error()
		}
	}
}

func changed(res *domain.WriteResult, opts writeOpts, oldVal, newVal datum.Datum) {
	if opts.returnChanges {
		res.Changes = append(res.Changes, domain.Change{OldVal: oldVal, NewVal: newVal})
	}
}

func (r *run) insert(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	arg, err := r.evalDatum(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}
	docs := []datum.Datum{arg}
	if arg.Kind() == datum.KindArray {
		docs = arg.Items()
	}
	conflict, err := r.optString(sc, t, "conflict", domain.ConflictError)
	if err != nil {
		return value{}, err
	}
	switch conflict {
	case domain.ConflictError, domain.ConflictReplace, domain.ConflictUpdate:
	default:
		return value{}, opFailed("conflict option must be `error`, `replace` or `update`, got `%s`", conflict)
	}
	opts, err := r.writeOptions(sc, t)
	if err != nil {
		return value{}, err
	}

	pkField := tbl.PrimaryKey()
	return r.commit(tbl, opts, func(tx *storage.Tx, res *domain.WriteResult) error {
		for _, doc := range docs {
			if doc.Kind() != datum.KindObject {
				fail(res, typeError("OBJECT", kindName(doc)))
				continue
			}
			pk, ok := tbl.KeyOf(doc)
			if !ok {
				key := uuid.NewString()
				pk = datum.String(key)
				doc = doc.WithField(pkField, pk)
				res.GeneratedKeys = append(res.GeneratedKeys, key)
			}

			old, exists := tx.Get(pk)
			next := doc
			if exists {
				switch conflict {
				case domain.ConflictError:
					fail(res, opFailed("duplicate primary key `%s`: %s", pkField, pk))
					continue
				case domain.ConflictUpdate:
					next = old.Merge(doc)
				}
			}
			if exists && datum.Equal(old, next) {
				res.Unchanged++
				continue
			}
			if err := tx.Put(next); err != nil {
				fail(res, err)
				continue
			}
			if exists {
				res.Replaced++
				changed(res, opts, old, next)
			} else {
				res.Inserted++
				changed(res, opts, datum.Null(), next)
			}
		}
		return nil
	})
}

// target is one document addressed by a write.
type target struct {
	key datum.Datum
}

// targets resolves the selection a write applies to.
func (r *run) targets(sc *scope, t *proto.Term) (*storage.Table, []target, error) {
	v, err := r.eval(sc, t)
	if err != nil {
		return nil, nil, err
	}
	if v.table == nil {
		return nil, nil, typeError("SELECTION", v.typeName())
	}
	if v.kind == kindDatum {
		return v.table, []target{{key: v.key}}, nil
	}
	out := make([]target, 0, len(v.items))
	for _, doc := range v.items {
		if pk, ok := v.table.KeyOf(doc); ok {
			out = append(out, target{key: pk})
		}
	}
	return v.table, out, nil
}

// modify handles update and replace.
func (r *run) modify(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 2, 2); err != nil {
		return value{}, err
	}
	nonAtomic, err := r.optBool(sc, t, "non_atomic")
	if err != nil {
		return value{}, err
	}
	fn := t.Args[1]
	if !nonAtomic && readsTables(fn) {
		return value{}, opFailed("could not prove the %s argument deterministic; maybe you want to use the non_atomic flag", t.Type)
	}
	opts, err := r.writeOptions(sc, t)
	if err != nil {
		return value{}, err
	}
	tbl, targets, err := r.targets(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}

	pkField := tbl.PrimaryKey()
	return r.commit(tbl, opts, func(tx *storage.Tx, res *domain.WriteResult) error {
		for _, tg := range targets {
			cur, exists := tx.Get(tg.key)
			if !exists && t.Type == proto.TermUpdate {
				res.Skipped++
				continue
			}
			if !exists {
				cur = datum.Null()
			}

			patch, err := r.call(sc, fn, cur)
			if err != nil {
				fail(res, err)
				continue
			}

			next := patch
			if t.Type == proto.TermUpdate {
				if patch.IsNull() {
					res.Unchanged++
					continue
				}
				if patch.Kind() != datum.KindObject {
					fail(res, typeError("OBJECT", kindName(patch)))
					continue
				}
				next = cur.Merge(patch)
			}

			if next.IsNull() {
				if !exists {
					res.Skipped++
					continue
				}
				tx.Delete(tg.key)
				res.Deleted++
				changed(res, opts, cur, datum.Null())
				continue
			}
			if next.Kind() != datum.KindObject {
				fail(res, typeError("OBJECT", kindName(next)))
				continue
			}
			pk, ok := tbl.KeyOf(next)
			if !ok || !datum.Equal(pk, tg.key) {
				fail(res, opFailed("primary key `%s` cannot be changed", pkField))
				continue
			}
			if exists && datum.Equal(cur, next) {
				res.Unchanged++
				continue
			}
			if err := tx.Put(next); err != nil {
				fail(res, err)
				continue
			}
			if exists {
				res.Replaced++
			} else {
				res.Inserted++
			}
			changed(res, opts, cur, next)
		}
		return nil
	})
}

func (r *run) delete(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	opts, err := r.writeOptions(sc, t)
	if err != nil {
		return value{}, err
	}
	tbl, targets, err := r.targets(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	return r.commit(tbl, opts, func(tx *storage.Tx, res *domain.WriteResult) error {
		for _, tg := range targets {
			cur, exists := tx.Get(tg.key)
			if !exists {
				res.Skipped++
				continue
			}
			tx.Delete(tg.key)
			res.Deleted++
			changed(res, opts, cur, datum.Null())
		}
		return nil
	})
}
