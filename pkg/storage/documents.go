package storage

import (
	"fmt"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
)

// MutationOp is the kind of a document mutation.
type MutationOp uint8

const (
	OpPut MutationOp = iota + 1
	OpDelete
)

// Mutation is one committed document change; it is also the write-ahead log
// record.
type Mutation struct {
	LSN   uint64      `msgpack:"lsn"`
	Op    MutationOp  `msgpack:"op"`
	DB    string      `msgpack:"db"`
	Table string      `msgpack:"table"`
	Key   datum.Datum `msgpack:"key"`
	Doc   datum.Datum `msgpack:"doc"`
}

// Tx stages the writes of one operation against one table. Reads see the
// staged writes. Nothing is visible to others until the transaction commits.
type Tx struct {
	table   *Table
	staged  map[string]*Mutation
	pending []*Mutation
}

func (tx *Tx) Table() *Table {
	return tx.table
}

// Get reads a document by primary key, staged writes included.
func (tx *Tx) Get(pk datum.Datum) (datum.Datum, bool) {
	if m, ok := tx.staged[pk.Key()]; ok {
		if m.Op == OpDelete {
			return datum.Null(), false
		}
		return m.Doc, true
	}
	return tx.table.Get(pk)
}

// Put stores doc under its primary key, which it must carry.
func (tx *Tx) Put(doc datum.Datum) error {
	if doc.Kind() != datum.KindObject {
		return domain.NewQueryError(domain.CodeTypeMismatch, "expected type OBJECT but found %s", doc.Kind())
	}
	pk, ok := tx.table.KeyOf(doc)
	if !ok {
		return domain.NewQueryError(domain.CodeOpFailed, "document is missing primary key `%s`", tx.table.PrimaryKey())
	}
	if k := pk.Kind(); k != datum.KindString && k != datum.KindNumber {
		return domain.NewQueryError(domain.CodeTypeMismatch, "primary key must be a string or number, found %s", k)
	}
	tx.stage(&Mutation{Op: OpPut, Key: pk, Doc: doc})
	return nil
}

// Delete removes the document stored under pk, if any.
func (tx *Tx) Delete(pk datum.Datum) {
	tx.stage(&Mutation{Op: OpDelete, Key: pk})
}

func (tx *Tx) stage(m *Mutation) {
	m.DB = tx.table.DB
	m.Table = tx.table.Name
	tx.staged[m.Key.Key()] = m
	tx.pending = append(tx.pending, m)
}

// Write runs fn against t and commits what it staged. A non-nil error from
// fn discards every staged write. Commits are logged before they are
// applied; a hard durability commit is synced to disk first.
//
// fn must not start another Write.
func (se *StorageEngine) Write(t *Table, durability string, fn func(tx *Tx) error) error {
	se.commitMu.Lock()
	defer se.commitMu.Unlock()

	if t.dropped {
		return tableNotFound(t.DB, t.Name)
	}

	tx := &Tx{table: t, staged: make(map[string]*Mutation)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.pending) == 0 {
		return nil
	}

	if se.wal != nil {
		hard := se.durabilityFor(t, durability) == domain.DurabilityHard
		if err := se.wal.Append(tx.pending, hard); err != nil {
			return fmt.Errorf("failed to log write to %s: %w", t.ID(), err)
		}
	}
	t.apply(tx.pending, se.indexEngine)
	se.updateStats(func(s *StorageStats) {
		s.MutationsApplied += int64(len(tx.pending))
	})
	return nil
}

// durabilityFor resolves the durability of a write: the write's own choice,
// then the table's, then the engine default.
func (se *StorageEngine) durabilityFor(t *Table, durability string) string {
	if durability != "" {
		return durability
	}
	if t.config.Durability != "" {
		return t.config.Durability
	}
	return se.defaultDurability
}
