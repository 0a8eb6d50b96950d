package es

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Due(t *testing.T) {
	now := time.Now()
	p := RetryPolicy{InitialInterval: time.Minute}

	require.True(t, p.due(ReactorState{Status: ReactorNotStarted}, now))
	require.False(t, p.due(ReactorState{Status: ReactorSucceeded}, now))
	require.False(t, p.due(ReactorState{Status: ReactorAbandoned}, now))

	failed := ReactorState{Status: ReactorFailed, Attempts: 1, LastAttempt: now}
	require.False(t, p.due(failed, now.Add(30*time.Second)))
	require.True(t, p.due(failed, now.Add(time.Minute)))

	// zero policy retries immediately
	require.True(t, RetryPolicy{}.due(failed, now))
}

func TestRetryPolicy_RetryDelayGrows(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, Multiplier: 2, MaxInterval: 10 * time.Second}

	require.Equal(t, time.Duration(0), p.retryDelay(0))
	require.Equal(t, time.Second, p.retryDelay(1))
	require.Equal(t, 2*time.Second, p.retryDelay(2))
	require.Equal(t, 4*time.Second, p.retryDelay(3))
	require.Equal(t, 10*time.Second, p.retryDelay(10))
}

func TestStream_React_IndependentReactors(t *testing.T) {
	boom := errors.New("smtp down")
	var audited [][]uint64

	s := ledgerStream(WithReactors(
		ReactorFunc("audit", func(_ context.Context, entries []*Entry, _ Projection) error {
			var seqs []uint64
			for _, e := range entries {
				seqs = append(seqs, e.Seq)
			}
			audited = append(audited, seqs)
			return nil
		}),
		ReactorFunc("mailer", func(context.Context, []*Entry, Projection) error {
			return boom
		}),
	))

	now := time.Now()
	e1, err := s.CreateEntry("acct-1", deposited{Amount: 1}, 1, now, nil)
	require.NoError(t, err)
	e2, err := s.CreateEntry("acct-1", deposited{Amount: 2}, 2, now, nil)
	require.NoError(t, err)

	changed, failures := s.React(t.Context(), []*Entry{e1, e2}, &balance{}, now)
	require.Len(t, changed, 2)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures["mailer"], boom)
	require.Equal(t, [][]uint64{{1, 2}}, audited)

	for _, e := range []*Entry{e1, e2} {
		require.Equal(t, ReactorSucceeded, e.Reactors["audit"].Status)
		require.Equal(t, ReactorFailed, e.Reactors["mailer"].Status)
		require.Equal(t, 1, e.Reactors["mailer"].Attempts)
		require.Equal(t, now, e.Reactors["mailer"].LastAttempt)
	}

	// a later pass only retries the failed reactor
	later := now.Add(time.Second)
	changed, failures = s.React(t.Context(), []*Entry{e1, e2}, &balance{}, later)
	require.Len(t, changed, 2)
	require.Len(t, failures, 1)
	require.Len(t, audited, 1)
	require.Equal(t, 2, e1.Reactors["mailer"].Attempts)
}

func TestStream_React_AbandonsAfterMaxAttempts(t *testing.T) {
	s := ledgerStream(
		WithReactors(ReactorFunc("mailer", func(context.Context, []*Entry, Projection) error {
			return errors.New("nope")
		})),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2}),
	)

	now := time.Now()
	e, err := s.CreateEntry("acct-1", deposited{Amount: 1}, 1, now, nil)
	require.NoError(t, err)

	s.React(t.Context(), []*Entry{e}, &balance{}, now)
	require.Equal(t, ReactorFailed, e.Reactors["mailer"].Status)

	s.React(t.Context(), []*Entry{e}, &balance{}, now.Add(time.Second))
	require.Equal(t, ReactorAbandoned, e.Reactors["mailer"].Status)
	require.Equal(t, 2, e.Reactors["mailer"].Attempts)
	require.False(t, e.PendingReaction())
	require.False(t, e.FullyReacted())

	// abandoned entries are never attempted again
	changed, failures := s.React(t.Context(), []*Entry{e}, &balance{}, now.Add(time.Hour))
	require.Empty(t, changed)
	require.Empty(t, failures)
}

func TestStream_React_NothingDue(t *testing.T) {
	s := ledgerStream(
		WithReactors(ReactorFunc("mailer", func(context.Context, []*Entry, Projection) error {
			return errors.New("nope")
		})),
		WithRetryPolicy(RetryPolicy{InitialInterval: time.Hour}),
	)

	now := time.Now()
	e, err := s.CreateEntry("acct-1", deposited{Amount: 1}, 1, now, nil)
	require.NoError(t, err)

	s.React(t.Context(), []*Entry{e}, &balance{}, now)
	require.Equal(t, 1, e.Reactors["mailer"].Attempts)

	// within the backoff window nothing runs
	changed, failures := s.React(t.Context(), []*Entry{e}, &balance{}, now.Add(time.Minute))
	require.Empty(t, changed)
	require.Empty(t, failures)
	require.Equal(t, 1, e.Reactors["mailer"].Attempts)
}
