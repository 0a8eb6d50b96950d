package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

// StartTestStore builds and initializes a store against a fresh memory
// backend, failing the test on any error.
func StartTestStore(t *testing.T, aggregateID string, opts ...Option) *Store {
	t.Helper()
	s, err := New(aggregateID, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(t.Context()))
	return s
}

// MustAppend appends an event, failing the test on routing errors.
func MustAppend(t *testing.T, s *Store, event any) *Entry {
	t.Helper()
	e, err := s.Append(event)
	require.NoError(t, err)
	return e
}

// Roundtrip appends the events, applies, reacts and commits.
func Roundtrip(t *testing.T, ctx context.Context, s *Store, events ...any) {
	t.Helper()
	for _, ev := range events {
		MustAppend(t, s, ev)
	}
	require.NoError(t, s.ApplyEvents(ctx))
	require.NoError(t, s.ReactEvents(ctx))
	require.NoError(t, s.Commit(ctx))
}
