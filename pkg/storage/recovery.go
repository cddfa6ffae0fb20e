package storage

import (
	"fmt"
	"log"
	"time"
)

// recoverState restores the last snapshot, opens the write-ahead log and replays
// the records written after the snapshot.
func (se *StorageEngine) recoverState() error {
	start := time.Now()
	defer func() {
		se.updateStats(func(s *StorageStats) {
			s.RecoveryTime = time.Since(start).String()
		})
	}()

	data, err := LoadFromFile(se.snapshotPath())
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if data != nil {
		if err := se.restore(data); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		log.Printf("INFO: restored snapshot at LSN %d", data.LSN)
	} else {
		se.dbs[DefaultDatabase] = make(map[string]*Table)
	}

	wal, err := OpenWAL(se.walPath())
	if err != nil {
		return err
	}
	var since uint64
	if data != nil {
		since = data.LSN
		wal.SetLSN(data.LSN)
	}

	replayed := 0
	err = wal.Replay(func(m *Mutation) error {
		if m.LSN <= since {
			return nil
		}
		t, err := se.tableLocked(m.DB, m.Table)
		if err != nil {
			// The table was dropped after this record was written.
			return nil
		}
		t.apply([]*Mutation{m}, se.indexEngine)
		replayed++
		return nil
	})
	if err != nil {
		wal.Close()
		return fmt.Errorf("failed to replay WAL: %w", err)
	}
	se.wal = wal

	log.Printf("INFO: recovery completed in %v (%d WAL records replayed)", time.Since(start), replayed)
	return nil
}

// restore rebuilds databases, tables and indexes from a snapshot.
func (se *StorageEngine) restore(data *StorageData) error {
	for _, db := range data.Databases {
		tables := make(map[string]*Table, len(db.Tables))
		se.dbs[db.Name] = tables
		for _, td := range db.Tables {
			t := newTable(db.Name, td.Name, td.Config)
			tables[td.Name] = t
			for _, doc := range td.Documents {
				pk, ok := t.KeyOf(doc)
				if !ok {
					return fmt.Errorf("document without primary key in %s", t.ID())
				}
				t.docs[pk.Key()] = doc
				t.order = append(t.order, pk.Key())
			}
			for _, def := range td.Indexes {
				extract, err := se.compile(def)
				if err != nil {
					return fmt.Errorf("failed to restore index %s on %s: %w", def.Name, t.ID(), err)
				}
				if err := se.buildIndex(t, def, extract); err != nil {
					return fmt.Errorf("failed to restore index %s on %s: %w", def.Name, t.ID(), err)
				}
			}
		}
	}
	return nil
}
