package rql

import (
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// TableRef is a table of a database. It is a sequence of the table's
// documents in insertion order and the entry point for key lookups and
// inserts.
type TableRef struct {
	Seq
}

// DBRef names a database.
type DBRef struct {
	t Term
}

// DB refers to a database by name.
func DB(name string) DBRef {
	return DBRef{newTerm(proto.TermDB, []Term{stringTerm(name)}, nil)}
}

func (d DBRef) Term() Term { return d.t }
func (d DBRef) String() string { return d.t.String() }

// Table refers to a table of the database the query runs against: the
// connection default, or RunOpts.DB.
func Table(name string, opts ...TableOpts) TableRef {
	return TableRef{Seq{newTerm(proto.TermTable, []Term{stringTerm(name)}, firstOr(opts).opts())}}
}

// Table refers to a table of d.
func (d DBRef) Table(name string, opts ...TableOpts) TableRef {
	return TableRef{Seq{newTerm(proto.TermTable, []Term{d.t, stringTerm(name)}, firstOr(opts).opts())}}
}

// TableCreate creates a table; it fails with domain.ErrAlreadyExists when
// the name is taken.
func (d DBRef) TableCreate(name string, opts ...TableCreateOpts) Operation[domain.CreateResult] {
	return createOp(newTerm(proto.TermTableCreate, []Term{d.t, stringTerm(name)}, firstOr(opts).opts()))
}

func (d DBRef) TableDrop(name string) Operation[domain.DropResult] {
	return dropOp(newTerm(proto.TermTableDrop, []Term{d.t, stringTerm(name)}, nil))
}

func (d DBRef) TableList() Operation[[]string] {
	return listOp(newTerm(proto.TermTableList, []Term{d.t}, nil))
}

// TableCreate creates a table in the default database.
func TableCreate(name string, opts ...TableCreateOpts) Operation[domain.CreateResult] {
	return createOp(newTerm(proto.TermTableCreate, []Term{stringTerm(name)}, firstOr(opts).opts()))
}

func TableDrop(name string) Operation[domain.DropResult] {
	return dropOp(newTerm(proto.TermTableDrop, []Term{stringTerm(name)}, nil))
}

func TableList() Operation[[]string] {
	return listOp(newTerm(proto.TermTableList, nil, nil))
}

func DBCreate(name string) Operation[domain.CreateResult] {
	return createOp(newTerm(proto.TermDBCreate, []Term{stringTerm(name)}, nil))
}

func DBDrop(name string) Operation[domain.DropResult] {
	return dropOp(newTerm(proto.TermDBDrop, []Term{stringTerm(name)}, nil))
}

func DBList() Operation[[]string] {
	return listOp(newTerm(proto.TermDBList, nil, nil))
}

// Get looks a document up by primary key. It evaluates to the document, or
// to null when there is none, and can be updated, replaced or deleted.
func (t TableRef) Get(key interface{}) Expr {
	return Expr{newTerm(proto.TermGet, []Term{t.t, expr(key)}, nil)}
}

// GetAll looks documents up by primary key.
func (t TableRef) GetAll(keys ...interface{}) Seq {
	return Seq{newTerm(proto.TermGetAll, with(t.t, terms(keys)...), nil)}
}

// GetAllByIndex looks documents up through a secondary index.
func (t TableRef) GetAllByIndex(index string, keys ...interface{}) Seq {
	return Seq{newTerm(proto.TermGetAll, with(t.t, terms(keys)...), map[string]Term{"index": stringTerm(index)})}
}

// Between selects documents whose key (primary, or the index given) lies
// between lower and upper, with the bounds' inclusivity taken from idx.
func (t TableRef) Between(lower, upper interface{}, idx ...Index) Seq {
	return Seq{newTerm(proto.TermBetween, []Term{t.t, expr(lower), expr(upper)}, firstOr(idx).opts())}
}

// Insert adds one document or a slice of documents. Documents without a
// primary key get a generated one, reported in WriteResult.GeneratedKeys.
func (t TableRef) Insert(docs interface{}, opts ...InsertOpts) Operation[domain.WriteResult] {
	return writeOp(newTerm(proto.TermInsert, []Term{t.t, expr(docs)}, firstOr(opts).opts()))
}

// IndexCreate defines a secondary index over the field of the same name, or
// over the value of fn.
func (t TableRef) IndexCreate(name string, fn ...interface{}) Operation[domain.CreateResult] {
	args := []Term{t.t, stringTerm(name)}
	if len(fn) > 0 {
		args = append(args, fnArg(fn[0]))
	}
	return createOp(newTerm(proto.TermIndexCreate, args, nil))
}

func (t TableRef) IndexDrop(name string) Operation[domain.DropResult] {
	return dropOp(newTerm(proto.TermIndexDrop, []Term{t.t, stringTerm(name)}, nil))
}

func (t TableRef) IndexList() Operation[[]string] {
	return listOp(newTerm(proto.TermIndexList, []Term{t.t}, nil))
}
