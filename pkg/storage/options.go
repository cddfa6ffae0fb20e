package storage

import (
	"time"

	"github.com/adfharrison1/go-reql/pkg/indexing"
)

type StorageOption func(*StorageEngine)

// WithDataDir enables persistence: a write-ahead log and snapshots are kept
// in dir. Without it the engine is memory only.
func WithDataDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.dataDir = dir
	}
}

// WithCheckpointInterval enables the background worker that snapshots the
// engine and truncates the write-ahead log every interval.
func WithCheckpointInterval(interval time.Duration) StorageOption {
	return func(engine *StorageEngine) {
		engine.checkpointInterval = interval
	}
}

// WithDefaultDurability sets the durability used by tables and writes that
// do not choose one (default: hard).
func WithDefaultDurability(durability string) StorageOption {
	return func(engine *StorageEngine) {
		engine.defaultDurability = durability
	}
}

// WithIndexCompiler sets how index definitions become key functions. The
// default only supports field indexes.
func WithIndexCompiler(compile indexing.Compiler) StorageOption {
	return func(engine *StorageEngine) {
		engine.compile = compile
	}
}
