package tablestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/ports/table"
)

func newBackend(t *testing.T) (*Backend, *table.MemoryStore) {
	t.Helper()
	mem := table.NewMemoryStore()
	b, err := New(Config{Table: mem})
	require.NoError(t, err)
	return b, mem
}

func record(stream string, seq uint64, eventID, payload, token string) es.EventRecord {
	return es.EventRecord{Stream: stream, Seq: seq, EventID: eventID, Payload: []byte(payload), Token: token}
}

func TestBackend_HeadRoundtrip(t *testing.T) {
	b, _ := newBackend(t)
	ctx := t.Context()

	_, err := b.LoadHead(ctx, "acct-1")
	require.ErrorIs(t, err, es.ErrHeadNotFound)

	head := es.HeadRecord{
		Watermark:     3,
		SchemaVersion: 1,
		UpdatedAt:     time.Now().UTC(),
		Value:         []byte(`{"total":7}`),
	}
	res, err := b.Commit(ctx, "acct-1", head, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.HeadToken)

	loaded, err := b.LoadHead(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Watermark)
	require.Equal(t, 1, loaded.SchemaVersion)
	require.Equal(t, head.Value, loaded.Value)
	require.Equal(t, res.HeadToken, loaded.Token)
}

func TestBackend_CommitEventsAndQuery(t *testing.T) {
	b, _ := newBackend(t)
	ctx := t.Context()

	res, err := b.Commit(ctx, "acct-1", es.HeadRecord{Watermark: 3}, []es.EventRecord{
		record("ledger", 1, "e1", `{"amount":1}`, ""),
		record("limits", 2, "daily", `{"limit":9}`, ""),
		record("ledger", 3, "e3", `{"amount":3}`, ""),
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.EventTokens, 3)

	all, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// ascending sequence order regardless of key order
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, uint64(3), all[2].Seq)
	require.Equal(t, "ledger", all[0].Stream)
	require.Equal(t, "e1", all[0].EventID)
	require.Equal(t, res.EventTokens[1], all[0].Token)

	ledger, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{Stream: "ledger"})
	require.NoError(t, err)
	require.Len(t, ledger, 2)

	ranged, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{MinSeq: 2, MaxSeq: 3})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
}

func TestBackend_Deletes(t *testing.T) {
	b, _ := newBackend(t)
	ctx := t.Context()

	res, err := b.Commit(ctx, "acct-1", es.HeadRecord{}, []es.EventRecord{
		record("ledger", 1, "e1", `{}`, ""),
		record("ledger", 2, "e2", `{}`, ""),
	}, nil)
	require.NoError(t, err)

	_, err = b.Commit(ctx, "acct-1", es.HeadRecord{Token: res.HeadToken}, nil, []es.EventRecord{
		record("ledger", 1, "e1", "", res.EventTokens[1]),
	})
	require.NoError(t, err)

	remaining, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, uint64(2), remaining[0].Seq)
}

func TestBackend_ErrorMapping(t *testing.T) {
	b, _ := newBackend(t)
	ctx := t.Context()

	res, err := b.Commit(ctx, "acct-1", es.HeadRecord{}, []es.EventRecord{
		record("ledger", 1, "e1", `{}`, ""),
	}, nil)
	require.NoError(t, err)

	// stale head token
	_, err = b.Commit(ctx, "acct-1", es.HeadRecord{Token: "stale"}, nil, nil)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// duplicate event insert
	_, err = b.Commit(ctx, "acct-1", es.HeadRecord{Token: res.HeadToken}, []es.EventRecord{
		record("ledger", 1, "e1", `{}`, ""),
	}, nil)
	require.ErrorIs(t, err, es.ErrDuplicateEvent)

	// oversized batch fails up front
	var puts []es.EventRecord
	for seq := uint64(1); seq <= uint64(b.MaxBatchSize()); seq++ {
		puts = append(puts, record("ledger", seq, "", `{}`, ""))
	}
	_, err = b.Commit(ctx, "acct-1", es.HeadRecord{Token: res.HeadToken}, puts, nil)
	require.ErrorIs(t, err, es.ErrBatchLimit)
}

func TestEventKeys(t *testing.T) {
	key := eventKey("ledger", 42, "e42")
	require.Equal(t, "ledger/00000000000000000042/e42", key)

	stream, eventID, err := splitEventKey(key)
	require.NoError(t, err)
	require.Equal(t, "ledger", stream)
	require.Equal(t, "e42", eventID)

	// zero padding keeps key order aligned with sequence order
	require.Less(t, eventKey("ledger", 9, "a"), eventKey("ledger", 10, "b"))

	_, _, err = splitEventKey("malformed")
	require.Error(t, err)
}
