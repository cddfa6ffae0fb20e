package storage

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/indexing"
)

// DefaultDatabase exists in every new engine.
const DefaultDatabase = "test"

// StorageEngine holds databases of tables in memory, optionally backed by a
// write-ahead log and periodic snapshots.
type StorageEngine struct {
	mu          sync.RWMutex
	dbs         map[string]map[string]*Table // db -> table name -> table
	indexEngine *indexing.IndexEngine
	compile     indexing.Compiler

	// commitMu serializes commits, schema changes and checkpoints.
	commitMu sync.Mutex
	wal      *WAL

	// Configuration
	dataDir            string
	checkpointInterval time.Duration
	defaultDurability  string

	// Background workers
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once

	stats   StorageStats
	statsMu sync.RWMutex
}

// StorageStats holds counters reported by the health endpoint.
type StorageStats struct {
	MutationsApplied     int64     `json:"mutations_applied"`
	CheckpointsPerformed int64     `json:"checkpoints_performed"`
	LastCheckpoint       time.Time `json:"last_checkpoint,omitempty"`
	RecoveryTime         string    `json:"recovery_time,omitempty"`
}

// NewStorageEngine creates an engine. With a data directory it recovers the
// last snapshot and replays the write-ahead log before returning.
func NewStorageEngine(options ...StorageOption) (*StorageEngine, error) {
	engine := &StorageEngine{
		dbs:               make(map[string]map[string]*Table),
		indexEngine:       indexing.NewIndexEngine(),
		compile:           indexing.CompileField,
		defaultDurability: domain.DurabilityHard,
		stopChan:          make(chan struct{}),
	}

	for _, option := range options {
		option(engine)
	}

	if engine.dataDir == "" {
		engine.dbs[DefaultDatabase] = make(map[string]*Table)
		return engine, nil
	}

	if err := os.MkdirAll(engine.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := engine.recoverState(); err != nil {
		return nil, fmt.Errorf("recovery failed: %w", err)
	}
	return engine, nil
}

// Persistent reports whether the engine writes to disk.
func (se *StorageEngine) Persistent() bool {
	return se.wal != nil
}

// CreateDB creates an empty database.
func (se *StorageEngine) CreateDB(name string) error {
	if err := validName("database", name); err != nil {
		return err
	}
	se.commitMu.Lock()
	defer se.commitMu.Unlock()

	se.mu.Lock()
	if _, exists := se.dbs[name]; exists {
		se.mu.Unlock()
		return domain.NewQueryError(domain.CodeAlreadyExists, "database `%s` already exists", name)
	}
	se.dbs[name] = make(map[string]*Table)
	se.mu.Unlock()

	log.Printf("INFO: created database %s", name)
	return se.schemaChanged()
}

// DropDB removes a database and all its tables, returning how many tables
// were dropped.
func (se *StorageEngine) DropDB(name string) (int, error) {
	se.commitMu.Lock()
	defer se.commitMu.Unlock()

	se.mu.Lock()
	tables, exists := se.dbs[name]
	if !exists {
		se.mu.Unlock()
		return 0, domain.NewQueryError(domain.CodeNotFound, "database `%s` does not exist", name)
	}
	delete(se.dbs, name)
	se.mu.Unlock()

	for _, t := range tables {
		t.dropped = true
		se.indexEngine.DropTable(t.ID())
	}
	log.Printf("INFO: dropped database %s (%d tables)", name, len(tables))
	return len(tables), se.schemaChanged()
}

// ListDBs returns the database names, sorted.
func (se *StorageEngine) ListDBs() []string {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return sortedKeys(se.dbs)
}

// CreateTable creates an empty table in db.
func (se *StorageEngine) CreateTable(db, name string, cfg TableConfig) error {
	if err := validName("table", name); err != nil {
		return err
	}
	se.commitMu.Lock()
	defer se.commitMu.Unlock()

	se.mu.Lock()
	tables, exists := se.dbs[db]
	if !exists {
		se.mu.Unlock()
		return domain.NewQueryError(domain.CodeNotFound, "database `%s` does not exist", db)
	}
	if _, exists := tables[name]; exists {
		se.mu.Unlock()
		return domain.NewQueryError(domain.CodeAlreadyExists, "table `%s.%s` already exists", db, name)
	}
	tables[name] = newTable(db, name, cfg)
	se.mu.Unlock()

	log.Printf("INFO: created table %s.%s", db, name)
	return se.schemaChanged()
}

// DropTable removes a table and its indexes.
func (se *StorageEngine) DropTable(db, name string) error {
	se.commitMu.Lock()
	defer se.commitMu.Unlock()

	se.mu.Lock()
	t, err := se.tableLocked(db, name)
	if err != nil {
		se.mu.Unlock()
		return err
	}
	delete(se.dbs[db], name)
	se.mu.Unlock()

	t.dropped = true
	se.indexEngine.DropTable(t.ID())
	log.Printf("INFO: dropped table %s.%s", db, name)
	return se.schemaChanged()
}

// ListTables returns the table names of db, sorted.
func (se *StorageEngine) ListTables(db string) ([]string, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	tables, exists := se.dbs[db]
	if !exists {
		return nil, domain.NewQueryError(domain.CodeNotFound, "database `%s` does not exist", db)
	}
	return sortedKeys(tables), nil
}

// Table returns the named table.
func (se *StorageEngine) Table(db, name string) (*Table, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return se.tableLocked(db, name)
}

func (se *StorageEngine) tableLocked(db, name string) (*Table, error) {
	tables, exists := se.dbs[db]
	if !exists {
		return nil, domain.NewQueryError(domain.CodeNotFound, "database `%s` does not exist", db)
	}
	t, exists := tables[name]
	if !exists {
		return nil, tableNotFound(db, name)
	}
	return t, nil
}

// CreateIndex defines a secondary index on t and builds it from the
// current documents.
func (se *StorageEngine) CreateIndex(t *Table, def indexing.Definition) error {
	if err := validName("index", def.Name); err != nil {
		return err
	}
	extract, err := se.compile(def)
	if err != nil {
		return err
	}

	se.commitMu.Lock()
	defer se.commitMu.Unlock()
	if t.dropped {
		return tableNotFound(t.DB, t.Name)
	}
	if err := se.buildIndex(t, def, extract); err != nil {
		return err
	}
	log.Printf("INFO: created index %s on %s", def.Name, t.ID())
	return se.schemaChanged()
}

func (se *StorageEngine) buildIndex(t *Table, def indexing.Definition, extract indexing.KeyFunc) error {
	index, err := se.indexEngine.CreateIndex(t.ID(), def, extract)
	if err != nil {
		return err
	}
	for _, doc := range t.Scan() {
		if pk, ok := t.KeyOf(doc); ok {
			index.Add(pk, doc)
		}
	}
	return nil
}

// DropIndex removes a secondary index from t.
func (se *StorageEngine) DropIndex(t *Table, name string) error {
	se.commitMu.Lock()
	defer se.commitMu.Unlock()
	if err := se.indexEngine.DropIndex(t.ID(), name); err != nil {
		return err
	}
	log.Printf("INFO: dropped index %s on %s", name, t.ID())
	return se.schemaChanged()
}

// ListIndexes returns the index names of t, sorted.
func (se *StorageEngine) ListIndexes(t *Table) []string {
	return se.indexEngine.GetIndexes(t.ID())
}

// Index returns the named secondary index of t.
func (se *StorageEngine) Index(t *Table, name string) (*indexing.Index, error) {
	index, ok := se.indexEngine.GetIndex(t.ID(), name)
	if !ok {
		return nil, domain.NewQueryError(domain.CodeIndexNotFound, "index `%s` was not found on table `%s`", name, t.ID())
	}
	return index, nil
}

// schemaChanged snapshots a persistent engine so schema changes survive a
// restart without a log record of their own. The caller holds commitMu.
func (se *StorageEngine) schemaChanged() error {
	if se.wal == nil {
		return nil
	}
	return se.checkpointLocked()
}

// GetStats returns a copy of the engine counters.
func (se *StorageEngine) GetStats() StorageStats {
	se.statsMu.RLock()
	defer se.statsMu.RUnlock()
	return se.stats
}

func (se *StorageEngine) updateStats(fn func(s *StorageStats)) {
	se.statsMu.Lock()
	defer se.statsMu.Unlock()
	fn(&se.stats)
}

// Close stops background workers, takes a final checkpoint and closes the
// log.
func (se *StorageEngine) Close() error {
	se.StopBackgroundWorkers()
	if se.wal == nil {
		return nil
	}
	if err := se.Checkpoint(); err != nil {
		log.Printf("ERROR: final checkpoint failed: %v", err)
	}
	return se.wal.Close()
}

func validName(kind, name string) error {
	if name == "" {
		return domain.NewQueryError(domain.CodeOpFailed, "%s name cannot be empty", kind)
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return domain.NewQueryError(domain.CodeOpFailed, "%s name `%s` invalid (use A-Z, a-z, 0-9, _ and - only)", kind, name)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
