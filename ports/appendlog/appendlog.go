// Package appendlog defines the append-only durable byte-log contract: an
// alternative backing for simple single-stream aggregates where table-style
// partitioning is unnecessary.
//
// Records are framed as a 4-byte little-endian payload length followed by the
// payload bytes. Appends carry a precondition token so that two writers cannot
// both extend the same log from the same position.
package appendlog

import (
	"context"
	"encoding/binary"
	"errors"
)

var (
	ErrLogNotFound     = errors.New("log not found")
	ErrTokenMismatch   = errors.New("append token mismatch")
	ErrCorruptRecord   = errors.New("corrupt record framing")
	ErrRecordTooLarge  = errors.New("record exceeds maximum size")
	ErrOffsetOutOfSync = errors.New("offset does not fall on a record boundary")
)

// MaxRecordSize bounds a single record payload.
const MaxRecordSize = 16 << 20

// Record is one framed payload together with the byte offset it starts at.
type Record struct {
	Offset  int64
	Payload []byte
}

// Log is the append-only log port.
type Log interface {
	// Exists reports whether the named log has been created.
	Exists(ctx context.Context, name string) (bool, error)
	// Append atomically appends one record. token must be the value returned
	// by the previous Append ("" for a new or empty log) and the returned
	// token supersedes it. A mismatch fails with ErrTokenMismatch.
	Append(ctx context.Context, name, token string, payload []byte) (newToken string, err error)
	// Read returns all records starting at the given byte offset, in order,
	// together with the log's current append token.
	Read(ctx context.Context, name string, offset int64) (records []Record, token string, err error)
}

// FrameSize is the number of framing bytes per record.
const FrameSize = 4

// EncodeFrame prefixes payload with its 4-byte little-endian length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	out := make([]byte, FrameSize+len(payload))
	binary.LittleEndian.PutUint32(out[:FrameSize], uint32(len(payload)))
	copy(out[FrameSize:], payload)
	return out, nil
}

// DecodeFrame reads one framed record from the head of data and returns the
// payload and the remaining bytes.
func DecodeFrame(data []byte) (payload, rest []byte, err error) {
	if len(data) < FrameSize {
		return nil, nil, ErrCorruptRecord
	}
	n := binary.LittleEndian.Uint32(data[:FrameSize])
	if n > MaxRecordSize {
		return nil, nil, ErrCorruptRecord
	}
	if len(data) < FrameSize+int(n) {
		return nil, nil, ErrCorruptRecord
	}
	return data[FrameSize : FrameSize+int(n)], data[FrameSize+int(n):], nil
}
