package es

import (
	"log/slog"
	"time"
)

// ReactorStatus is the per (event, reactor) sub-machine state.
type ReactorStatus uint8

const (
	ReactorNotStarted ReactorStatus = iota
	ReactorSucceeded
	ReactorFailed
	ReactorAbandoned
)

func (s ReactorStatus) String() string {
	switch s {
	case ReactorNotStarted:
		return "not_started"
	case ReactorSucceeded:
		return "succeeded"
	case ReactorFailed:
		return "failed"
	case ReactorAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// ReactorState tracks one reactor's progress against one event.
type ReactorState struct {
	Attempts    int           `json:"attempts"`
	Status      ReactorStatus `json:"status"`
	LastAttempt time.Time     `json:"last_attempt,omitempty"`
}

// Entry is one event occurrence in a stream.
type Entry struct {
	// AggregateID is the owning aggregate (storage partition key).
	AggregateID string
	// Stream is the name of the stream the event was classified into.
	Stream string
	// Seq is the sequence number, strictly increasing and contiguous per
	// aggregate across all streams combined.
	Seq uint64
	// EventID is the application-assigned id. Required only when the stream
	// uses distinct-by-key retention; generated otherwise.
	EventID string
	// EventTime is the event-supplied logical timestamp, zero if the stream
	// has no time selector.
	EventTime time.Time
	// StoredAt is the engine-assigned storage timestamp.
	StoredAt time.Time
	// Token is the storage row's concurrency token, empty until committed.
	Token string
	// Event is the decoded payload.
	Event any
	// Reactors maps reactor id to its state. The map is replaced wholesale on
	// every update; callers must not mutate it.
	Reactors map[string]ReactorState
}

func (e *Entry) reactorState(id string) ReactorState {
	return e.Reactors[id]
}

// setReactorState replaces the state map copy-on-write.
func (e *Entry) setReactorState(id string, st ReactorState) {
	next := make(map[string]ReactorState, len(e.Reactors)+1)
	for k, v := range e.Reactors {
		next[k] = v
	}
	next[id] = st
	e.Reactors = next
}

// FullyReacted reports whether every reactor has completed successfully.
// Entries without reactors are trivially fully reacted.
func (e *Entry) FullyReacted() bool {
	for _, st := range e.Reactors {
		if st.Status != ReactorSucceeded {
			return false
		}
	}
	return true
}

// PendingReaction reports whether any reactor still has work scheduled, i.e.
// is not started or failed but not abandoned.
func (e *Entry) PendingReaction() bool {
	for _, st := range e.Reactors {
		if st.Status == ReactorNotStarted || st.Status == ReactorFailed {
			return true
		}
	}
	return false
}

func (e *Entry) logAttrs() slog.Attr {
	return slog.Group(
		"entry",
		slog.String("stream", e.Stream),
		slog.Uint64("seq", e.Seq),
		slog.String("event_id", e.EventID),
	)
}
