package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type renamedEvent struct{}

func (renamedEvent) EventType() string { return "accounts.renamed.v1" }

// renamedTwin collides with renamedEvent's persisted name on purpose.
type renamedTwin struct{}

func (renamedTwin) EventType() string { return "accounts.renamed.v1" }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterEvent[deposited](r))

	def := EventOf[deposited]()
	require.Contains(t, def.Name, "deposited")

	ev, err := r.New(def.Name)
	require.NoError(t, err)
	require.IsType(t, &deposited{}, ev)

	_, err = r.New("nope")
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRegistry_NameCollision(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterEvent[deposited](r))
	// the same type again is a no-op
	require.NoError(t, RegisterEvent[deposited](r))

	err := r.Register(EventOf[deposited]().Name, func() any { return new(withdrawn) })
	require.ErrorIs(t, err, ErrDuplicateEventType)
}

func TestEventTypeOf(t *testing.T) {
	require.Equal(t, EventOf[deposited]().Name, eventTypeOf(deposited{}))
	// pointer and value names agree
	require.Equal(t, eventTypeOf(deposited{}), eventTypeOf(&deposited{}))
	// explicit override wins, for the instance and the def alike
	require.Equal(t, "accounts.renamed.v1", eventTypeOf(renamedEvent{}))
	require.Equal(t, "accounts.renamed.v1", EventOf[renamedEvent]().Name)
}

func TestEventTypeOverrideRoundtrip(t *testing.T) {
	backend := NewMemoryBackend()
	newStore := func() *Store {
		st := MustStream("audit",
			Accepts[renamedEvent](),
			OnAny(func(context.Context, Projection, *Entry) error { return nil }),
		)
		return StartTestStore(t, "acct-1", WithBackend(backend), WithStreams(st), WithProjection(newBalance))
	}

	s := newStore()
	Roundtrip(t, t.Context(), s, renamedEvent{})

	// a fresh store decodes the override-named record
	reloaded := newStore()
	events, err := reloaded.Events(t.Context())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.IsType(t, &renamedEvent{}, events[0].Event)
}

func TestStore_RejectsCollidingEventNames(t *testing.T) {
	_, err := New("acct-1",
		WithStreams(
			MustStream("audit",
				Accepts[renamedEvent](),
				OnAny(func(context.Context, Projection, *Entry) error { return nil }),
			),
			MustStream("shadow",
				Accepts[renamedTwin](),
				OnAny(func(context.Context, Projection, *Entry) error { return nil }),
			),
		),
		WithProjection(newBalance),
	)
	require.ErrorIs(t, err, ErrDuplicateEventType)
}
