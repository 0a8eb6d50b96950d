package es

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
)

// RetryPolicy paces reactor retries and caps attempts. The zero value retries
// failed reactors on every pass and never abandons.
type RetryPolicy struct {
	// MaxAttempts abandons a reactor's work on an event after this many failed
	// attempts. 0 = unlimited.
	MaxAttempts int
	// InitialInterval delays the first retry after a failure. 0 disables
	// retry pacing entirely.
	InitialInterval time.Duration
	// Multiplier grows the delay per attempt. Defaults to the backoff
	// package's default when 0.
	Multiplier float64
	// MaxInterval caps the delay. Defaults likewise.
	MaxInterval time.Duration
}

// retryDelay computes the delay in effect after the given number of failed
// attempts.
func (p RetryPolicy) retryDelay(attempts int) time.Duration {
	if p.InitialInterval <= 0 || attempts <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = 0
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// due reports whether the reactor state is eligible for another attempt.
func (p RetryPolicy) due(st ReactorState, now time.Time) bool {
	switch st.Status {
	case ReactorNotStarted:
		return true
	case ReactorFailed:
		return !now.Before(st.LastAttempt.Add(p.retryDelay(st.Attempts)))
	default:
		return false
	}
}

type reactorOutcome struct {
	reactor Reactor
	entries []*Entry
	err     error
}

// React runs every registered reactor against the subset of entries it has
// not yet completed successfully and that is due per the retry policy.
// Reactors run concurrently with respect to each other; state updates are
// applied afterwards on the calling goroutine. changed holds the entries
// whose reactor states were updated, failures the per-reactor errors of this
// pass. Reactor errors are recorded, never propagated.
func (s *Stream) React(ctx context.Context, entries []*Entry, projection Projection, now time.Time) (changed []*Entry, failures map[string]error) {
	outcomes := make([]reactorOutcome, 0, len(s.reactors))
	for _, r := range s.reactors {
		var due []*Entry
		for _, e := range entries {
			if s.retry.due(e.reactorState(r.ID()), now) {
				due = append(due, e)
			}
		}
		if len(due) > 0 {
			outcomes = append(outcomes, reactorOutcome{reactor: r, entries: due})
		}
	}
	if len(outcomes) == 0 {
		return nil, nil
	}

	var wg conc.WaitGroup
	for i := range outcomes {
		o := &outcomes[i]
		wg.Go(func() {
			o.err = o.reactor.React(ctx, o.entries, projection)
		})
	}
	wg.Wait()

	touched := map[uint64]bool{}
	for _, o := range outcomes {
		id := o.reactor.ID()
		if o.err != nil {
			if failures == nil {
				failures = map[string]error{}
			}
			failures[id] = o.err
		}
		for _, e := range o.entries {
			st := e.reactorState(id)
			st.LastAttempt = now
			if o.err == nil {
				st.Status = ReactorSucceeded
			} else {
				st.Attempts++
				st.Status = ReactorFailed
				if s.retry.MaxAttempts > 0 && st.Attempts >= s.retry.MaxAttempts {
					st.Status = ReactorAbandoned
				}
			}
			e.setReactorState(id, st)
			touched[e.Seq] = true
		}
	}

	for _, e := range entries {
		if touched[e.Seq] {
			changed = append(changed, e)
		}
	}
	return changed, failures
}
