package indexing

import (
	"sort"
	"sync"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// KeyFunc extracts the indexed value of a document. ok is false when the
// document has no value for the index and is left out of it.
type KeyFunc func(doc datum.Datum) (value datum.Datum, ok bool)

// Definition describes a secondary index. A field index reads one top-level
// field; a function index evaluates Func against each document.
type Definition struct {
	Name  string      `msgpack:"name"`
	Field string      `msgpack:"field,omitempty"`
	Func  *proto.Term `msgpack:"func,omitempty"`
}

// Compiler turns a definition into the KeyFunc maintaining it.
type Compiler func(def Definition) (KeyFunc, error)

// FieldKey indexes the named top-level field.
func FieldKey(field string) KeyFunc {
	return func(doc datum.Datum) (datum.Datum, bool) {
		v, ok := doc.Get(field)
		if !ok || v.IsNull() {
			return datum.Null(), false
		}
		return v, true
	}
}

// CompileField is a Compiler for field indexes only.
func CompileField(def Definition) (KeyFunc, error) {
	if def.Func != nil {
		return nil, domain.NewQueryError(domain.CodeOpFailed, "index `%s` needs a function evaluator", def.Name)
	}
	field := def.Field
	if field == "" {
		field = def.Name
	}
	return FieldKey(field), nil
}

// entry holds the primary keys of every document sharing one index value.
type entry struct {
	value datum.Datum
	keys  []datum.Datum
}

// Index maps index values to primary keys.
type Index struct {
	Def Definition

	mu       sync.RWMutex
	extract  KeyFunc
	inverted map[string]*entry
}

// NewIndex creates an empty index.
func NewIndex(def Definition, extract KeyFunc) *Index {
	return &Index{
		Def:      def,
		extract:  extract,
		inverted: make(map[string]*entry),
	}
}

// Add indexes doc under its primary key.
func (idx *Index) Add(pk, doc datum.Datum) {
	v, ok := idx.extract(doc)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := v.Key()
	e, exists := idx.inverted[k]
	if !exists {
		e = &entry{value: v}
		idx.inverted[k] = e
	}
	e.keys = append(e.keys, pk)
}

// Remove drops the entry doc contributed under pk.
func (idx *Index) Remove(pk, doc datum.Datum) {
	v, ok := idx.extract(doc)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := v.Key()
	e, exists := idx.inverted[k]
	if !exists {
		return
	}
	for i, key := range e.keys {
		if datum.Equal(key, pk) {
			e.keys = append(e.keys[:i:i], e.keys[i+1:]...)
			break
		}
	}
	if len(e.keys) == 0 {
		delete(idx.inverted, k)
	}
}

// Update moves pk from the value of oldDoc to the value of newDoc. A null
// oldDoc is an insert and a null newDoc a delete.
func (idx *Index) Update(pk, oldDoc, newDoc datum.Datum) {
	if !oldDoc.IsNull() {
		idx.Remove(pk, oldDoc)
	}
	if !newDoc.IsNull() {
		idx.Add(pk, newDoc)
	}
}

// Query returns the primary keys of the documents whose indexed value equals
// value.
func (idx *Index) Query(value datum.Datum) []datum.Datum {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.inverted[value.Key()]
	if !ok {
		return nil
	}
	out := make([]datum.Datum, len(e.keys))
	copy(out, e.keys)
	return out
}

// Range returns the primary keys whose indexed value lies between lower and
// upper, ordered by indexed value. Open bounds exclude the bound itself.
func (idx *Index) Range(lower, upper datum.Datum, leftOpen, rightOpen bool) []datum.Datum {
	idx.mu.RLock()
	matches := make([]*entry, 0)
	for _, e := range idx.inverted {
		lc := datum.Compare(e.value, lower)
		uc := datum.Compare(e.value, upper)
		if lc < 0 || (leftOpen && lc == 0) {
			continue
		}
		if uc > 0 || (rightOpen && uc == 0) {
			continue
		}
		matches = append(matches, e)
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return datum.Compare(matches[i].value, matches[j].value) < 0
	})
	var out []datum.Datum
	for _, e := range matches {
		out = append(out, e.keys...)
	}
	return out
}

// Len returns the number of distinct indexed values.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted)
}

// IndexEngine holds the secondary indexes of every table.
type IndexEngine struct {
	mu      sync.RWMutex
	indexes map[string]map[string]*Index // table -> index name -> index
}

// NewIndexEngine creates a new index engine
func NewIndexEngine() *IndexEngine {
	return &IndexEngine{
		indexes: make(map[string]map[string]*Index),
	}
}

// CreateIndex registers an empty index on table. The caller builds it.
func (ie *IndexEngine) CreateIndex(table string, def Definition, extract KeyFunc) (*Index, error) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if ie.indexes[table] == nil {
		ie.indexes[table] = make(map[string]*Index)
	}
	if _, exists := ie.indexes[table][def.Name]; exists {
		return nil, domain.NewQueryError(domain.CodeAlreadyExists, "index `%s` already exists on table `%s`", def.Name, table)
	}

	index := NewIndex(def, extract)
	ie.indexes[table][def.Name] = index
	return index, nil
}

// DropIndex removes an index from a table
func (ie *IndexEngine) DropIndex(table, name string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if _, exists := ie.indexes[table][name]; !exists {
		return domain.NewQueryError(domain.CodeIndexNotFound, "index `%s` was not found on table `%s`", name, table)
	}
	delete(ie.indexes[table], name)
	return nil
}

// DropTable forgets every index of table.
func (ie *IndexEngine) DropTable(table string) {
	ie.mu.Lock()
	defer ie.mu.Unlock()
	delete(ie.indexes, table)
}

// GetIndex returns the named index of table.
func (ie *IndexEngine) GetIndex(table, name string) (*Index, bool) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	index, exists := ie.indexes[table][name]
	return index, exists
}

// GetIndexes returns the index names of table, sorted.
func (ie *IndexEngine) GetIndexes(table string) []string {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	names := make([]string, 0, len(ie.indexes[table]))
	for name := range ie.indexes[table] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions of table's indexes, sorted by name.
func (ie *IndexEngine) Definitions(table string) []Definition {
	names := ie.GetIndexes(table)
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if index, ok := ie.GetIndex(table, name); ok {
			defs = append(defs, index.Def)
		}
	}
	return defs
}

// UpdateIndexForDocument updates every index of table after a document
// changed.
func (ie *IndexEngine) UpdateIndexForDocument(table string, pk, oldDoc, newDoc datum.Datum) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	for _, index := range ie.indexes[table] {
		index.Update(pk, oldDoc, newDoc)
	}
}
