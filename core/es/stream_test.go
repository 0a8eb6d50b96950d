package es

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStream_Validation(t *testing.T) {
	noop := ReactorFunc("r", func(context.Context, []*Entry, Projection) error { return nil })

	_, err := NewStream("", Accepts[deposited]())
	require.Error(t, err)

	_, err = NewStream("a/b", Accepts[deposited]())
	require.Error(t, err)

	_, err = NewStream("ledger")
	require.Error(t, err)

	_, err = NewStream("ledger",
		Accepts[deposited](),
		WithRetention(RetentionPolicy{DistinctByKey: true}),
	)
	require.ErrorIs(t, err, ErrMissingEventID)

	_, err = NewStream("ledger",
		Accepts[deposited](),
		WithRetention(RetentionPolicy{UntilReacted: true, MaxCount: 1}),
	)
	require.ErrorIs(t, err, ErrRetentionConflict)

	_, err = NewStream("ledger", Accepts[deposited](), WithReactors(noop, noop))
	require.Error(t, err)

	_, err = NewStream("ledger",
		Accepts[deposited](),
		WithReactors(ReactorFunc("", func(context.Context, []*Entry, Projection) error { return nil })),
	)
	require.Error(t, err)
}

func TestStream_Matches(t *testing.T) {
	s := ledgerStream()

	require.True(t, s.Matches(deposited{Amount: 1}))
	require.True(t, s.Matches(&deposited{Amount: 1}))
	require.True(t, s.Matches(withdrawn{Amount: 1}))
	require.False(t, s.Matches(limitSet{Key: "k"}))
}

func TestStream_CreateEntry(t *testing.T) {
	now := time.Now()
	gen := func() string { return "generated" }

	s := ledgerStream(WithReactors(
		ReactorFunc("mailer", func(context.Context, []*Entry, Projection) error { return nil }),
	))
	e, err := s.CreateEntry("acct-1", deposited{Amount: 5}, 7, now, gen)
	require.NoError(t, err)
	require.Equal(t, "acct-1", e.AggregateID)
	require.Equal(t, "ledger", e.Stream)
	require.Equal(t, uint64(7), e.Seq)
	require.Equal(t, "generated", e.EventID)
	require.Equal(t, now, e.StoredAt)
	require.True(t, e.EventTime.IsZero())
	require.Equal(t, ReactorState{Status: ReactorNotStarted}, e.Reactors["mailer"])

	// id selector wins over the generator
	ls := limitsStream()
	e, err = ls.CreateEntry("acct-1", limitSet{Key: "daily"}, 1, now, gen)
	require.NoError(t, err)
	require.Equal(t, "daily", e.EventID)

	// distinct retention demands a non-empty id
	ds := limitsStream(WithRetention(RetentionPolicy{DistinctByKey: true}))
	_, err = ds.CreateEntry("acct-1", limitSet{Key: ""}, 1, now, gen)
	require.ErrorIs(t, err, ErrMissingEventID)
}

func TestStream_CreateEntry_EventTime(t *testing.T) {
	logical := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := ledgerStream(WithEventTime(func(any) time.Time { return logical }))

	e, err := s.CreateEntry("acct-1", deposited{Amount: 5}, 1, time.Now(), nil)
	require.NoError(t, err)
	require.Equal(t, logical, e.EventTime)
}

func TestStream_Apply_HandlerOrder(t *testing.T) {
	var order []string
	s := MustStream("ledger",
		Accepts[deposited](),
		On(func(_ context.Context, _ Projection, _ *deposited) error {
			order = append(order, "typed")
			return nil
		}),
		OnAny(func(_ context.Context, _ Projection, _ *Entry) error {
			order = append(order, "any")
			return nil
		}),
	)

	e, err := s.CreateEntry("acct-1", deposited{Amount: 1}, 1, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(t.Context(), &balance{}, e))
	require.Equal(t, []string{"typed", "any"}, order)
}

func TestStream_Apply_WrapsHandlerError(t *testing.T) {
	s := ledgerStream()
	e, err := s.CreateEntry("acct-1", withdrawn{Amount: -1}, 3, time.Now(), nil)
	require.NoError(t, err)

	err = s.Apply(t.Context(), &balance{}, e)
	require.Error(t, err)
	require.Contains(t, err.Error(), `stream "ledger"`)
	require.Contains(t, err.Error(), "seq 3")
}
