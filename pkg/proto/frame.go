package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// HeaderSize is token (8) + flags (1) + payload length (4).
	HeaderSize = 13

	// MaxFrameSize bounds the payload of a single frame.
	MaxFrameSize = 64 << 20

	// DefaultCompressionThreshold is the payload size above which frames are
	// compressed when the caller does not choose a threshold.
	DefaultCompressionThreshold = 4 << 10

	flagCompressed uint8 = 1 << 0
)

// ErrMalformedFrame is returned for frames that cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// EncodeFrame prefixes payload with the frame header. Payloads larger than
// threshold are lz4 block-compressed when that makes them smaller; a
// threshold <= 0 disables compression.
func EncodeFrame(token uint64, payload []byte, threshold int) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, len(payload), MaxFrameSize)
	}

	flags := uint8(0)
	body := payload
	if threshold > 0 && len(payload) > threshold {
		compressed := make([]byte, 4+lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, compressed[4:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compress frame: %w", err)
		}
		// n == 0 means the payload is incompressible.
		if n > 0 && n+4 < len(payload) {
			binary.LittleEndian.PutUint32(compressed[:4], uint32(len(payload)))
			body = compressed[:n+4]
			flags |= flagCompressed
		}
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint64(frame[0:8], token)
	frame[8] = flags
	binary.LittleEndian.PutUint32(frame[9:13], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// DecodeFrame splits a frame into its token and uncompressed payload.
func DecodeFrame(frame []byte) (uint64, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(frame))
	}
	token := binary.LittleEndian.Uint64(frame[0:8])
	flags := frame[8]
	length := binary.LittleEndian.Uint32(frame[9:13])
	if int(length) != len(frame)-HeaderSize {
		return token, nil, fmt.Errorf("%w: header declares %d payload bytes, got %d", ErrMalformedFrame, length, len(frame)-HeaderSize)
	}
	body := frame[HeaderSize:]
	if flags&flagCompressed == 0 {
		return token, body, nil
	}

	if len(body) < 4 {
		return token, nil, fmt.Errorf("%w: compressed payload without length prefix", ErrMalformedFrame)
	}
	size := binary.LittleEndian.Uint32(body[:4])
	if size > MaxFrameSize {
		return token, nil, fmt.Errorf("%w: uncompressed size %d exceeds %d", ErrMalformedFrame, size, MaxFrameSize)
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(body[4:], out)
	if err != nil {
		return token, nil, fmt.Errorf("%w: failed to decompress: %v", ErrMalformedFrame, err)
	}
	if n != int(size) {
		return token, nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrMalformedFrame, n, size)
	}
	return token, out, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[9:13])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, length, MaxFrameSize)
	}
	frame := make([]byte, HeaderSize+int(length))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// PeekToken returns the token of a frame without decoding its payload.
func PeekToken(frame []byte) (uint64, bool) {
	if len(frame) < HeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(frame[0:8]), true
}

// EncodeQuery serializes q into a frame.
func EncodeQuery(q *Query, threshold int) ([]byte, error) {
	payload, err := msgpack.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s query: %w", q.Type, err)
	}
	return EncodeFrame(q.Token, payload, threshold)
}

// DecodeQuery parses a query frame.
func DecodeQuery(frame []byte) (*Query, error) {
	token, payload, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	q := &Query{}
	if err := unmarshalLoose(payload, q); err != nil {
		return nil, fmt.Errorf("%w: query payload: %v", ErrMalformedFrame, err)
	}
	q.Token = token
	return q, nil
}

// EncodeResponse serializes r into a frame.
func EncodeResponse(r *Response, threshold int) ([]byte, error) {
	payload, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return EncodeFrame(r.Token, payload, threshold)
}

// DecodeResponse parses a response frame.
func DecodeResponse(frame []byte) (*Response, error) {
	token, payload, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	r := &Response{}
	if err := unmarshalLoose(payload, r); err != nil {
		return nil, fmt.Errorf("%w: response payload: %v", ErrMalformedFrame, err)
	}
	r.Token = token
	return r, nil
}

// unmarshalLoose decodes integers inside interface{} values as int64/uint64
// instead of the exact wire width.
func unmarshalLoose(payload []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
