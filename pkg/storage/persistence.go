package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	snapshotFile = "snapshot" + FileExtension
	walFile      = "wal.log"
)

// SaveToFile writes data to filename as a compressed snapshot. The file is
// replaced atomically.
func SaveToFile(filename string, data *StorageData) error {
	msgpackData, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}

	flags := uint8(0)
	body := msgpackData
	compressedData := make([]byte, lz4.CompressBlockBound(len(msgpackData)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(msgpackData, compressedData, hashTable[:])
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if n > 0 && n < len(msgpackData) {
		body = compressedData[:n]
		flags |= flagCompressed
	}

	tmp := filename + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteHeader(file, flags, len(msgpackData)); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := file.Write(body); err != nil {
		file.Close()
		return fmt.Errorf("failed to write snapshot data: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}
	return nil
}

// LoadFromFile reads a snapshot. A missing file yields nil data and no
// error.
func LoadFromFile(filename string) (*StorageData, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	r := bytes.NewReader(raw)
	header, err := ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid file header: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot data: %w", err)
	}

	if header.Flags&flagCompressed != 0 {
		decompressedData := make([]byte, header.Size)
		n, err := lz4.UncompressBlock(body, decompressedData)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress data: %w", err)
		}
		body = decompressedData[:n]
	}
	if len(body) != int(header.Size) {
		return nil, fmt.Errorf("snapshot payload is %d bytes, header says %d", len(body), header.Size)
	}

	var data StorageData
	if err := msgpack.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return &data, nil
}

func (se *StorageEngine) snapshotPath() string {
	return filepath.Join(se.dataDir, snapshotFile)
}

func (se *StorageEngine) walPath() string {
	return filepath.Join(se.dataDir, walFile)
}

// export captures every database, table and index definition. The caller
// holds commitMu so the capture is consistent with the WAL position.
func (se *StorageEngine) export() *StorageData {
	se.mu.RLock()
	defer se.mu.RUnlock()

	data := &StorageData{}
	if se.wal != nil {
		data.LSN = se.wal.LSN()
	}
	for _, dbName := range sortedKeys(se.dbs) {
		db := DatabaseData{Name: dbName}
		tables := se.dbs[dbName]
		for _, name := range sortedKeys(tables) {
			t := tables[name]
			db.Tables = append(db.Tables, TableData{
				Name:      name,
				Config:    t.config,
				Indexes:   se.indexEngine.Definitions(t.ID()),
				Documents: t.Scan(),
			})
		}
		data.Databases = append(data.Databases, db)
	}
	return data
}
