package es

import (
	"context"
	"errors"
	"time"
)

// ErrHeadNotFound is returned by Backend.LoadHead when no projection head has
// been committed yet for the aggregate.
var ErrHeadNotFound = errors.New("projection head not found")

type (
	// HeadRecord is the persisted projection head row.
	HeadRecord struct {
		// Watermark is the sequence number through which the projection value
		// was computed.
		Watermark uint64 `json:"watermark"`
		// SchemaVersion tags the encoding of Value for migration.
		SchemaVersion int `json:"schema_version"`
		// UpdatedAt is the last-write timestamp.
		UpdatedAt time.Time `json:"updated_at"`
		// Value is the codec-encoded projection value.
		Value []byte `json:"value"`
		// Token is the row's concurrency token, empty for a head that has
		// never been committed.
		Token string `json:"-"`
	}

	// EventRecord is one persisted event row. Payload carries the encoded
	// event envelope (type name, data, timestamps, reactor states).
	EventRecord struct {
		Stream  string
		Seq     uint64
		EventID string
		Payload []byte
		// Token is the row token; empty demands an insert on commit.
		Token string
	}

	// EventQuery bounds a LoadEvents call. Zero values leave a bound open.
	EventQuery struct {
		MinSeq uint64
		MaxSeq uint64
		Stream string
	}

	// CommitResult carries the refreshed concurrency tokens after a commit.
	CommitResult struct {
		HeadToken   string
		EventTokens map[uint64]string
	}

	// Backend is the persistence contract of the engine: one partition per
	// aggregate holding the head record plus one record per event.
	//
	// Commit must apply the head update, all event puts and all event deletes
	// atomically, honoring each record's token precondition, and must fail
	// without partial effects otherwise. Implementations map their native
	// errors to ErrConcurrencyConflict, ErrDuplicateEvent and ErrBatchLimit.
	Backend interface {
		LoadHead(ctx context.Context, aggregateID string) (HeadRecord, error)
		// LoadEvents returns matching records in ascending sequence order.
		LoadEvents(ctx context.Context, aggregateID string, q EventQuery) ([]EventRecord, error)
		Commit(ctx context.Context, aggregateID string, head HeadRecord, puts, deletes []EventRecord) (CommitResult, error)
		// MaxBatchSize is the storage transaction row limit, counting the
		// head row and every put and delete.
		MaxBatchSize() int
	}
)

func (q EventQuery) matches(r EventRecord) bool {
	if q.MinSeq != 0 && r.Seq < q.MinSeq {
		return false
	}
	if q.MaxSeq != 0 && r.Seq > q.MaxSeq {
		return false
	}
	if q.Stream != "" && r.Stream != q.Stream {
		return false
	}
	return true
}
