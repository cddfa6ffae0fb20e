package eval

import (
	"context"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/indexing"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

func created(n int) value {
	return datumValue(datum.MustFrom(domain.CreateResult{Created: n}))
}

func dropped(n int) value {
	return datumValue(datum.MustFrom(domain.DropResult{Dropped: n}))
}

func names(list []string) value {
	items := make([]datum.Datum, len(list))
	for i, s := range list {
		items[i] = datum.String(s)
	}
	return datumValue(datum.NewArray(items...))
}

func (r *run) dbAdmin(sc *scope, t *proto.Term) (value, error) {
	if t.Type == proto.TermDBList {
		if err := arity(t, 0, 0); err != nil {
			return value{}, err
		}
		return names(r.engine.ListDBs()), nil
	}
	if err := arity(t, 1, 1); err != nil {
		return value{}, err
	}
	if err := r.checkNotNested(); err != nil {
		return value{}, err
	}
	name, err := r.evalString(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if t.Type == proto.TermDBCreate {
		if err := r.engine.CreateDB(name); err != nil {
			return value{}, err
		}
		return created(1), nil
	}
	if _, err := r.engine.DropDB(name); err != nil {
		return value{}, err
	}
	return dropped(1), nil
}

func (r *run) tableAdmin(sc *scope, t *proto.Term) (value, error) {
	db, args, err := r.dbArg(sc, t.Args)
	if err != nil {
		return value{}, err
	}
	if t.Type == proto.TermTableList {
		if len(args) != 0 {
			return value{}, compileError("tableList expects no arguments besides the database")
		}
		list, err := r.engine.ListTables(db)
		if err != nil {
			return value{}, err
		}
		return names(list), nil
	}
	if len(args) != 1 {
		return value{}, compileError("%s expects a table name", t.Type)
	}
	if err := r.checkNotNested(); err != nil {
		return value{}, err
	}
	name, err := r.evalString(sc, args[0])
	if err != nil {
		return value{}, err
	}

	if t.Type == proto.TermTableDrop {
		if err := r.engine.DropTable(db, name); err != nil {
			return value{}, err
		}
		return dropped(1), nil
	}

	// cache_size and datacenter are accepted for compatibility and ignored.
	var cfg storage.TableConfig
	if cfg.PrimaryKey, err = r.optString(sc, t, "primary_key", storage.DefaultPrimaryKey); err != nil {
		return value{}, err
	}
	if cfg.Durability, err = r.optString(sc, t, "durability", ""); err != nil {
		return value{}, err
	}
	if cfg.Durability != "" && cfg.Durability != domain.DurabilityHard && cfg.Durability != domain.DurabilitySoft {
		return value{}, opFailed("durability must be `hard` or `soft`, got `%s`", cfg.Durability)
	}
	if err := r.engine.CreateTable(db, name, cfg); err != nil {
		return value{}, err
	}
	return created(1), nil
}

func (r *run) indexAdmin(sc *scope, t *proto.Term) (value, error) {
	if err := arity(t, 1, 3); err != nil {
		return value{}, err
	}
	tbl, err := r.tableOf(sc, t.Args[0])
	if err != nil {
		return value{}, err
	}
	if t.Type == proto.TermIndexList {
		if err := arity(t, 1, 1); err != nil {
			return value{}, err
		}
		return names(r.engine.ListIndexes(tbl)), nil
	}
	if err := arity(t, 2, 3); err != nil {
		return value{}, err
	}
	if err := r.checkNotNested(); err != nil {
		return value{}, err
	}
	name, err := r.evalString(sc, t.Args[1])
	if err != nil {
		return value{}, err
	}

	if t.Type == proto.TermIndexDrop {
		if err := r.engine.DropIndex(tbl, name); err != nil {
			return value{}, err
		}
		return dropped(1), nil
	}

	def := indexing.Definition{Name: name, Field: name}
	if len(t.Args) == 3 {
		if field, ok := t.Args[2].Datum.AsString(); ok && t.Args[2].Type == proto.TermDatum {
			def.Field = field
		} else {
			def.Field = ""
			def.Func = t.Args[2]
		}
	}
	if err := r.engine.CreateIndex(tbl, def); err != nil {
		return value{}, err
	}
	return created(1), nil
}

// CompileIndex builds the key extractor of an index definition. Function
// indexes are evaluated against each document; they cannot read tables.
func CompileIndex(def indexing.Definition) (indexing.KeyFunc, error) {
	if def.Func == nil {
		return indexing.CompileField(def)
	}
	if def.Func.Type != proto.TermFunc {
		return nil, compileError("index `%s` must be defined by a function", def.Name)
	}
	if readsTables(def.Func) {
		return nil, opFailed("index `%s` function cannot read tables", def.Name)
	}
	fn := def.Func
	return func(doc datum.Datum) (datum.Datum, bool) {
		r := &run{ctx: context.Background()}
		v, err := r.call(&scope{}, fn, doc)
		if err != nil || v.IsNull() {
			return datum.Null(), false
		}
		return v, true
	}, nil
}
