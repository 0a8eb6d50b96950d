package es

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type (
	// ApplyFunc folds one entry into the projection. The projection passed in
	// is the mutable accumulator of the current apply pass; it must not be
	// retained beyond the call.
	ApplyFunc func(ctx context.Context, projection Projection, e *Entry) error

	// Reactor performs a side effect for events of a stream. It is invoked
	// with the batch of entries it has not yet completed successfully, in
	// ascending sequence order. Failures are recorded per reactor and retried
	// on a later pass; they never affect other reactors.
	Reactor interface {
		ID() string
		React(ctx context.Context, entries []*Entry, projection Projection) error
	}

	handler struct {
		match func(any) bool
		apply ApplyFunc
	}

	// Stream is a named, typed partition of an aggregate's event log. It owns
	// its retention policy, its projection handlers and its reactors.
	Stream struct {
		name         string
		matchers     []func(any) bool
		eventDefs    []EventDef
		handlers     []handler
		reactors     []Reactor
		retention    RetentionPolicy
		retry        RetryPolicy
		idSelector   func(any) string
		timeSelector func(any) time.Time
	}
)

type reactorFunc struct {
	id string
	fn func(ctx context.Context, entries []*Entry, projection Projection) error
}

func (r reactorFunc) ID() string { return r.id }
func (r reactorFunc) React(ctx context.Context, entries []*Entry, projection Projection) error {
	return r.fn(ctx, entries, projection)
}

// ReactorFunc adapts a function to the Reactor interface.
func ReactorFunc(id string, fn func(ctx context.Context, entries []*Entry, projection Projection) error) Reactor {
	return reactorFunc{id: id, fn: fn}
}

type StreamOption func(*Stream)

// Accepts declares that the stream owns events of concrete type T. Appended
// events of type T or *T are classified into this stream, and T is registered
// for decoding.
func Accepts[T any]() StreamOption {
	def := EventOf[T]()
	return func(s *Stream) {
		s.matchers = append(s.matchers, isType[T])
		s.eventDefs = append(s.eventDefs, def)
	}
}

// AcceptsFunc declares stream membership via an explicit predicate, e.g. an
// interface assertion covering a family of event types. The concrete types
// the predicate admits must be supplied as defs so they can be decoded.
func AcceptsFunc(match func(event any) bool, defs ...EventDef) StreamOption {
	return func(s *Stream) {
		s.matchers = append(s.matchers, match)
		s.eventDefs = append(s.eventDefs, defs...)
	}
}

// On registers a type-specific projection handler. All handlers whose type
// matches an entry run, in registration order.
func On[T any](fn func(ctx context.Context, projection Projection, event *T) error) StreamOption {
	return func(s *Stream) {
		s.handlers = append(s.handlers, handler{
			match: isType[T],
			apply: func(ctx context.Context, projection Projection, e *Entry) error {
				ev, ok := as[T](e.Event)
				if !ok {
					return fmt.Errorf("handler type mismatch: %T", e.Event)
				}
				return fn(ctx, projection, ev)
			},
		})
	}
}

// OnAny registers a handler that runs for every entry of the stream,
// regardless of concrete event type.
func OnAny(fn ApplyFunc) StreamOption {
	return func(s *Stream) {
		s.handlers = append(s.handlers, handler{
			match: func(any) bool { return true },
			apply: fn,
		})
	}
}

func WithReactors(rs ...Reactor) StreamOption {
	return func(s *Stream) { s.reactors = append(s.reactors, rs...) }
}

func WithRetention(p RetentionPolicy) StreamOption {
	return func(s *Stream) { s.retention = p }
}

func WithRetryPolicy(p RetryPolicy) StreamOption {
	return func(s *Stream) { s.retry = p }
}

// WithEventID sets the selector computing the application-assigned event id.
// Required when distinct-by-key retention is configured.
func WithEventID(sel func(event any) string) StreamOption {
	return func(s *Stream) { s.idSelector = sel }
}

// WithEventTime sets the selector computing the event's logical timestamp.
// Required for the age-based retention cutoff to take effect.
func WithEventTime(sel func(event any) time.Time) StreamOption {
	return func(s *Stream) { s.timeSelector = sel }
}

// NewStream builds a stream. Configuration errors fail fast here, never at
// commit time.
func NewStream(name string, opts ...StreamOption) (*Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is empty")
	}
	if strings.ContainsRune(name, '/') {
		return nil, fmt.Errorf("stream name %q contains '/'", name)
	}
	s := &Stream{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.matchers) == 0 {
		return nil, fmt.Errorf("stream %q accepts no event types", name)
	}
	if err := s.retention.Validate(); err != nil {
		return nil, fmt.Errorf("stream %q: %w", name, err)
	}
	if s.retention.DistinctByKey && s.idSelector == nil {
		return nil, fmt.Errorf("stream %q: %w (no event-id selector)", name, ErrMissingEventID)
	}
	seen := map[string]bool{}
	for _, r := range s.reactors {
		if r.ID() == "" {
			return nil, fmt.Errorf("stream %q: reactor with empty id", name)
		}
		if seen[r.ID()] {
			return nil, fmt.Errorf("stream %q: duplicate reactor id %q", name, r.ID())
		}
		seen[r.ID()] = true
	}
	return s, nil
}

// MustStream is NewStream that panics on configuration errors. Intended for
// package-level stream definitions.
func MustStream(name string, opts ...StreamOption) *Stream {
	s, err := NewStream(name, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Stream) Name() string               { return s.name }
func (s *Stream) Retention() RetentionPolicy { return s.retention }
func (s *Stream) Reactors() []Reactor        { return s.reactors }

// Matches reports whether the event belongs to this stream.
func (s *Stream) Matches(event any) bool {
	for _, m := range s.matchers {
		if m(event) {
			return true
		}
	}
	return false
}

// CreateEntry builds the entry for an appended event, computing the optional
// event id and logical timestamp and stamping pending reactor states.
func (s *Stream) CreateEntry(aggregateID string, event any, seq uint64, now time.Time, idgen IDGenerator) (*Entry, error) {
	id := ""
	if s.idSelector != nil {
		id = s.idSelector(event)
	}
	if id == "" {
		if s.retention.DistinctByKey {
			return nil, fmt.Errorf("%w: stream %q, event %T", ErrMissingEventID, s.name, event)
		}
		if idgen != nil {
			id = idgen()
		}
	}

	var eventTime time.Time
	if s.timeSelector != nil {
		eventTime = s.timeSelector(event)
	}

	var reactors map[string]ReactorState
	if len(s.reactors) > 0 {
		reactors = make(map[string]ReactorState, len(s.reactors))
		for _, r := range s.reactors {
			reactors[r.ID()] = ReactorState{Status: ReactorNotStarted}
		}
	}

	return &Entry{
		AggregateID: aggregateID,
		Stream:      s.name,
		Seq:         seq,
		EventID:     id,
		EventTime:   eventTime,
		StoredAt:    now,
		Event:       event,
		Reactors:    reactors,
	}, nil
}

// Apply folds the entry through all matching handlers in registration order.
func (s *Stream) Apply(ctx context.Context, projection Projection, e *Entry) error {
	for _, h := range s.handlers {
		if !h.match(e.Event) {
			continue
		}
		if err := h.apply(ctx, projection, e); err != nil {
			return fmt.Errorf("stream %q: apply seq %d: %w", s.name, e.Seq, err)
		}
	}
	return nil
}

// ShouldRetain evaluates the retention policy for entry against all entries
// of this stream (ascending sequence order).
func (s *Stream) ShouldRetain(entry *Entry, all []*Entry, now time.Time) bool {
	return s.retention.retainedSet(all, now)[entry.Seq]
}

func isType[T any](ev any) bool {
	if _, ok := ev.(T); ok {
		return true
	}
	_, ok := ev.(*T)
	return ok
}

func as[T any](ev any) (*T, bool) {
	if v, ok := ev.(*T); ok {
		return v, true
	}
	if v, ok := ev.(T); ok {
		return &v, true
	}
	return nil, false
}
