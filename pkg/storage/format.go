package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/indexing"
)

const (
	// Magic bytes to identify our file format
	MagicBytes = "GRQL"
	// Current version
	FormatVersion = 1
	// File extension for snapshots
	FileExtension = ".grql"

	flagCompressed uint8 = 1 << 0
)

// FileHeader is the fixed prefix of a snapshot file.
type FileHeader struct {
	Magic    [4]byte // "GRQL"
	Version  uint8   // Format version
	Flags    uint8   // bit 0: payload is lz4 block-compressed
	Reserved [2]byte
	Size     uint32 // uncompressed payload size
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, flags uint8, size int) error {
	header := FileHeader{
		Magic:   [4]byte{'G', 'R', 'Q', 'L'},
		Version: FormatVersion,
		Flags:   flags,
		Size:    uint32(size),
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// StorageData is the snapshot payload.
type StorageData struct {
	LSN       uint64         `msgpack:"lsn"`
	Databases []DatabaseData `msgpack:"databases"`
}

type DatabaseData struct {
	Name   string      `msgpack:"name"`
	Tables []TableData `msgpack:"tables"`
}

type TableData struct {
	Name      string                `msgpack:"name"`
	Config    TableConfig           `msgpack:"config"`
	Indexes   []indexing.Definition `msgpack:"indexes,omitempty"`
	Documents []datum.Datum         `msgpack:"documents"`
}
