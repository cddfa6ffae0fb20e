package storage

import (
	"fmt"
	"log"
	"time"
)

// StartBackgroundWorkers starts the checkpoint worker when a checkpoint
// interval is configured on a persistent engine.
func (se *StorageEngine) StartBackgroundWorkers() {
	if se.wal == nil || se.checkpointInterval <= 0 {
		return
	}

	se.backgroundWg.Add(1)
	go func() {
		defer se.backgroundWg.Done()
		ticker := time.NewTicker(se.checkpointInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if se.wal.Size() == 0 {
					continue
				}
				if err := se.Checkpoint(); err != nil {
					log.Printf("ERROR: checkpoint failed: %v", err)
				}
			case <-se.stopChan:
				return
			}
		}
	}()
}

// StopBackgroundWorkers stops background workers
func (se *StorageEngine) StopBackgroundWorkers() {
	se.stopOnce.Do(func() {
		close(se.stopChan)
	})
	se.backgroundWg.Wait()
}

// Checkpoint writes a snapshot of the whole engine and empties the
// write-ahead log. It is a no-op for a memory-only engine.
func (se *StorageEngine) Checkpoint() error {
	if se.wal == nil {
		return nil
	}
	se.commitMu.Lock()
	defer se.commitMu.Unlock()
	return se.checkpointLocked()
}

func (se *StorageEngine) checkpointLocked() error {
	start := time.Now()
	data := se.export()
	if err := SaveToFile(se.snapshotPath(), data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := se.wal.Reset(); err != nil {
		return err
	}
	se.updateStats(func(s *StorageStats) {
		s.CheckpointsPerformed++
		s.LastCheckpoint = time.Now()
	})
	log.Printf("INFO: checkpoint at LSN %d completed in %v", data.LSN, time.Since(start))
	return nil
}
