// Package table defines the key-partitioned table-store contract the engine
// persists into. Each aggregate occupies one partition; within a partition one
// row holds the projection head and the remaining rows hold individual events.
//
// Implementations must provide atomic multi-row batch commits within a single
// partition, bounded by MaxBatchRows, with per-row optimistic concurrency
// tokens that must match on update and must be absent on insert.
package table

import (
	"context"
	"errors"
)

var (
	ErrRowNotFound   = errors.New("row not found")
	ErrRowExists     = errors.New("row already exists")
	ErrTokenMismatch = errors.New("concurrency token mismatch")
	ErrBatchTooLarge = errors.New("batch exceeds transaction limit")
	ErrMixedBatch    = errors.New("batch spans multiple partitions")
)

// MaxBatchRows is the maximum number of operations in one atomic batch.
const MaxBatchRows = 100

// Row is one record within a partition. Keys sort lexicographically; Seq is a
// secondary numeric index usable for range filters independent of the key.
type Row struct {
	Key   string
	Seq   uint64
	Value []byte
	// Token is the row's concurrency token. On Put, an empty token demands an
	// insert (the row must not exist); a non-empty token must match the stored
	// one. Reads return the current token.
	Token string
}

type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is a single row mutation within a batch. Delete uses Row.Key and, when
// Row.Token is non-empty, requires the token to match.
type Op struct {
	Kind OpKind
	Row  Row
}

// Batch is an atomically committed set of ops against one partition.
type Batch struct {
	Partition string
	Ops       []Op
}

// Query selects rows within one partition. Zero values leave a bound open.
// Key bounds are inclusive.
type Query struct {
	Prefix string
	MinKey string
	MaxKey string
	MinSeq uint64
	MaxSeq uint64
}

// Store is the table-store port.
type Store interface {
	// Read returns a single row or ErrRowNotFound.
	Read(ctx context.Context, partition, key string) (Row, error)
	// Select returns matching rows in ascending key order.
	Select(ctx context.Context, partition string, q Query) ([]Row, error)
	// Commit applies all ops atomically and returns the new token per written
	// key. It fails with ErrBatchTooLarge, ErrRowExists, ErrTokenMismatch or
	// ErrRowNotFound without applying any op.
	Commit(ctx context.Context, b Batch) (map[string]string, error)
}

func (q Query) Matches(r Row) bool {
	if q.Prefix != "" && (len(r.Key) < len(q.Prefix) || r.Key[:len(q.Prefix)] != q.Prefix) {
		return false
	}
	if q.MinKey != "" && r.Key < q.MinKey {
		return false
	}
	if q.MaxKey != "" && r.Key > q.MaxKey {
		return false
	}
	if q.MinSeq != 0 && r.Seq < q.MinSeq {
		return false
	}
	if q.MaxSeq != 0 && r.Seq > q.MaxSeq {
		return false
	}
	return true
}
