package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// walRecordHeader is payload length (4) + crc32 of the payload (4).
const walRecordHeader = 8

// maxWALRecord bounds a single record; larger lengths mean a corrupt log.
const maxWALRecord = 64 << 20

// WAL is an append-only log of committed mutations. Each record is a
// length and checksum prefixed msgpack Mutation.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
	lsn  uint64
	size int64
}

// OpenWAL opens or creates the log at path.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}
	return &WAL{path: path, file: file, size: info.Size()}, nil
}

// Append assigns LSNs to muts and writes them. With sync set the file is
// fsynced before Append returns.
func (w *WAL) Append(muts []*Mutation, sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("WAL is closed")
	}

	var buf []byte
	for _, m := range muts {
		w.lsn++
		m.LSN = w.lsn
		payload, err := msgpack.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode WAL record: %w", err)
		}
		var header [walRecordHeader]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
		buf = append(buf, header[:]...)
		buf = append(buf, payload...)
	}

	n, err := w.file.Write(buf)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write WAL records: %w", err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return nil
}

// Replay calls fn for every intact record in log order. A torn or corrupt
// tail, left by a crash mid-append, is truncated away.
func (w *WAL) Replay(fn func(m *Mutation) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var offset int64
	for {
		m, n, err := readWALRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("WARN: truncating WAL %s at offset %d: %v", w.path, offset, err)
			if err := w.file.Truncate(offset); err != nil {
				return fmt.Errorf("failed to truncate WAL: %w", err)
			}
			w.size = offset
			break
		}
		offset += n
		if m.LSN > w.lsn {
			w.lsn = m.LSN
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func readWALRecord(r io.Reader) (*Mutation, int64, error) {
	var header [walRecordHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("short record header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header[0:4])
	if size > maxWALRecord {
		return nil, 0, fmt.Errorf("record of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("short record: %w", err)
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:8]) {
		return nil, 0, errors.New("checksum mismatch")
	}
	var m Mutation
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return nil, 0, fmt.Errorf("failed to decode record: %w", err)
	}
	return &m, int64(walRecordHeader) + int64(size), nil
}

// Reset empties the log after a checkpoint. LSNs keep increasing.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	w.size = 0
	return w.file.Sync()
}

// SetLSN raises the LSN counter, e.g. to the LSN of a loaded snapshot.
func (w *WAL) SetLSN(lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.lsn {
		w.lsn = lsn
	}
}

// LSN returns the last assigned log sequence number.
func (w *WAL) LSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

// Size returns the current log size in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
