package storage

import (
	"sync"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/indexing"
)

// DefaultPrimaryKey is the primary key field of tables created without one.
const DefaultPrimaryKey = "id"

// TableConfig holds the settings chosen at table creation.
type TableConfig struct {
	PrimaryKey string `msgpack:"primary_key"`
	Durability string `msgpack:"durability,omitempty"`
}

// Table is a set of documents keyed by primary key. Iteration follows
// insertion order.
type Table struct {
	DB     string
	Name   string
	config TableConfig

	mu      sync.RWMutex
	docs    map[string]datum.Datum
	order   []string
	dropped bool
}

func newTable(db, name string, cfg TableConfig) *Table {
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = DefaultPrimaryKey
	}
	return &Table{
		DB:     db,
		Name:   name,
		config: cfg,
		docs:   make(map[string]datum.Datum),
	}
}

// ID is the table's qualified name, db.table.
func (t *Table) ID() string {
	return t.DB + "." + t.Name
}

func (t *Table) Config() TableConfig {
	return t.config
}

func (t *Table) PrimaryKey() string {
	return t.config.PrimaryKey
}

// KeyOf returns the primary key value of doc.
func (t *Table) KeyOf(doc datum.Datum) (datum.Datum, bool) {
	v, ok := doc.Get(t.config.PrimaryKey)
	if !ok || v.IsNull() {
		return datum.Null(), false
	}
	return v, true
}

// Get looks a document up by primary key.
func (t *Table) Get(pk datum.Datum) (datum.Datum, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	doc, ok := t.docs[pk.Key()]
	return doc, ok
}

// Scan returns every document in insertion order.
func (t *Table) Scan() []datum.Datum {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]datum.Datum, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.docs[k])
	}
	return out
}

// Lookup returns the documents with the given primary keys, skipping
// missing ones.
func (t *Table) Lookup(pks []datum.Datum) []datum.Datum {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]datum.Datum, 0, len(pks))
	for _, pk := range pks {
		if doc, ok := t.docs[pk.Key()]; ok {
			out = append(out, doc)
		}
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs)
}

// apply installs committed mutations and keeps the table's indexes current.
func (t *Table) apply(muts []*Mutation, indexes *indexing.IndexEngine) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range muts {
		k := m.Key.Key()
		old, exists := t.docs[k]
		switch m.Op {
		case OpPut:
			if !exists {
				t.order = append(t.order, k)
			}
			t.docs[k] = m.Doc
			indexes.UpdateIndexForDocument(t.ID(), m.Key, old, m.Doc)
		case OpDelete:
			if !exists {
				continue
			}
			delete(t.docs, k)
			for i, key := range t.order {
				if key == k {
					t.order = append(t.order[:i:i], t.order[i+1:]...)
					break
				}
			}
			indexes.UpdateIndexForDocument(t.ID(), m.Key, old, datum.Null())
		}
	}
}

func tableNotFound(db, name string) error {
	return domain.NewQueryError(domain.CodeNotFound, "table `%s.%s` does not exist", db, name)
}
