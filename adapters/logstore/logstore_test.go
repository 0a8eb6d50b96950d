package logstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/ports/appendlog"
)

func newBackend(t *testing.T, log appendlog.Log) *Backend {
	t.Helper()
	b, err := New(Config{Log: log})
	require.NoError(t, err)
	return b
}

func record(stream string, seq uint64, eventID, payload, token string) es.EventRecord {
	return es.EventRecord{Stream: stream, Seq: seq, EventID: eventID, Payload: []byte(payload), Token: token}
}

func TestBackend_FoldsLog(t *testing.T) {
	log := appendlog.NewMemoryLog()
	b := newBackend(t, log)
	ctx := t.Context()

	_, err := b.LoadHead(ctx, "acct-1")
	require.ErrorIs(t, err, es.ErrHeadNotFound)

	res, err := b.Commit(ctx, "acct-1", es.HeadRecord{Watermark: 2, Value: []byte(`{"total":3}`)}, []es.EventRecord{
		record("ledger", 1, "e1", `{"amount":1}`, ""),
		record("ledger", 2, "e2", `{"amount":2}`, ""),
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.HeadToken)

	head, err := b.LoadHead(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), head.Watermark)
	require.Equal(t, res.HeadToken, head.Token)

	events, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(1), events[0].Seq)

	// a second backend over the same log replays to the same state
	replayed := newBackend(t, log)
	head2, err := replayed.LoadHead(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, head.Watermark, head2.Watermark)
	events2, err := replayed.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events2, 2)
}

func TestBackend_DeletesDropOnReplay(t *testing.T) {
	log := appendlog.NewMemoryLog()
	b := newBackend(t, log)
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

	events, err := b.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(2), events[0].Seq)

	// the delete holds across a fresh replay
	replayed := newBackend(t, log)
	events, err = replayed.LoadEvents(ctx, "acct-1", es.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestBackend_Conflicts(t *testing.T) {
	log := appendlog.NewMemoryLog()
	ctx := t.Context()

	a := newBackend(t, log)
	b := newBackend(t, log)

	// both fold the empty log before anyone commits
	_, err := a.LoadHead(ctx, "acct-1")
	require.ErrorIs(t, err, es.ErrHeadNotFound)
	_, err = b.LoadHead(ctx, "acct-1")
	require.ErrorIs(t, err, es.ErrHeadNotFound)

	resA, err := a.Commit(ctx, "acct-1", es.HeadRecord{}, []es.EventRecord{record("ledger", 1, "e1", `{}`, "")}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resA.HeadToken)

	// b still holds the pre-commit fold; its append token is stale
	_, err = b.Commit(ctx, "acct-1", es.HeadRecord{}, []es.EventRecord{record("ledger", 1, "e1", `{}`, "")}, nil)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// duplicate seq within one backend is caught before any I/O
	_, err = a.Commit(ctx, "acct-1", es.HeadRecord{Token: resA.HeadToken}, []es.EventRecord{record("ledger", 1, "e1", `{}`, "")}, nil)
	require.ErrorIs(t, err, es.ErrDuplicateEvent)
}
