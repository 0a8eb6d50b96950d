package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/egil/evstore/internal/codec"
)

// IDGenerator produces event ids for entries whose stream has no id selector.
type IDGenerator func() string

// DefaultIDGenerator returns the default nanoid-based generator.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type storeConfig struct {
	log           *slog.Logger
	backend       Backend
	codec         codec.Codec
	registry      *Registry
	streams       []*Stream
	newProjection func() Projection
	schemaVersion int
	migrate       MigrateFunc
	idgen         IDGenerator
	metrics       Metrics
	clock         func() time.Time
}

type Option func(*storeConfig)

func WithLog(l *slog.Logger) Option          { return func(c *storeConfig) { c.log = l } }
func WithBackend(b Backend) Option           { return func(c *storeConfig) { c.backend = b } }
func WithCodec(cd codec.Codec) Option        { return func(c *storeConfig) { c.codec = cd } }
func WithRegistry(r *Registry) Option        { return func(c *storeConfig) { c.registry = r } }
func WithStreams(ss ...*Stream) Option       { return func(c *storeConfig) { c.streams = append(c.streams, ss...) } }
func WithSchemaVersion(v int) Option         { return func(c *storeConfig) { c.schemaVersion = v } }
func WithMigration(m MigrateFunc) Option     { return func(c *storeConfig) { c.migrate = m } }
func WithIDGenerator(gen IDGenerator) Option { return func(c *storeConfig) { c.idgen = gen } }
func WithMetrics(m Metrics) Option           { return func(c *storeConfig) { c.metrics = m } }
func WithClock(now func() time.Time) Option  { return func(c *storeConfig) { c.clock = now } }

// WithProjection sets the factory for the default projection value used when
// no head record exists yet.
func WithProjection(newProjection func() Projection) Option {
	return func(c *storeConfig) { c.newProjection = newProjection }
}

// Store coordinates all streams, the materialized projection and the set of
// uncommitted events for one aggregate instance.
//
// A Store is not safe for concurrent calls: the host must serialize the
// append/apply/react/commit sequence per instance (see core/host). Distinct
// instances are fully independent.
type Store struct {
	log      *slog.Logger
	id       string
	backend  Backend
	codec    codec.Codec
	registry *Registry
	streams  []*Stream
	byName   map[string]*Stream
	metrics  Metrics
	idgen    IDGenerator
	clock    func() time.Time

	newProjection func() Projection
	schemaVersion int
	migrate       MigrateFunc

	initialized bool
	projection  Projection
	watermark   uint64
	headToken   string
	maxSeq      uint64

	stored      []*Entry        // durable entries, ascending seq
	uncommitted []*Entry        // appended but not yet committed, ascending seq
	dirty       map[uint64]bool // stored entries with changed reactor states
}

// New builds a Store for one aggregate. Configuration errors fail here.
func New(aggregateID string, opts ...Option) (*Store, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("aggregate id is empty")
	}

	cfg := storeConfig{
		log:     slog.Default(),
		codec:   codec.JSON{},
		idgen:   DefaultIDGenerator(),
		metrics: NopMetrics(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.streams) == 0 {
		return nil, ErrNoStreams
	}
	if cfg.backend == nil {
		cfg.backend = NewMemoryBackend()
	}
	if cfg.newProjection == nil {
		return nil, fmt.Errorf("projection factory is required")
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}

	byName := make(map[string]*Stream, len(cfg.streams))
	for _, st := range cfg.streams {
		if _, ok := byName[st.name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStreamName, st.name)
		}
		byName[st.name] = st
		for _, def := range st.eventDefs {
			if err := cfg.registry.Register(def.Name, def.Ctor); err != nil {
				return nil, fmt.Errorf("stream %q: %w", st.name, err)
			}
		}
	}

	return &Store{
		log: cfg.log.With(
			slog.Group("agg", slog.String("id", aggregateID)),
		),
		id:            aggregateID,
		backend:       cfg.backend,
		codec:         cfg.codec,
		registry:      cfg.registry,
		streams:       cfg.streams,
		byName:        byName,
		metrics:       cfg.metrics,
		idgen:         cfg.idgen,
		clock:         cfg.clock,
		newProjection: cfg.newProjection,
		schemaVersion: cfg.schemaVersion,
		migrate:       cfg.migrate,
		dirty:         map[uint64]bool{},
	}, nil
}

func (s *Store) AggregateID() string { return s.id }

// Watermark returns the sequence number through which the projection has been
// computed.
func (s *Store) Watermark() uint64 { return s.watermark }

// Projection returns the current materialized value. Callers must treat it as
// read-only; it is replaced wholesale by apply passes.
func (s *Store) Projection() Projection { return s.projection }

// HasUnappliedEvents reports whether events beyond the watermark exist.
func (s *Store) HasUnappliedEvents() bool { return s.maxSeq > s.watermark }

// HasUnreactedEvents reports whether any event still has reaction work
// scheduled (a reactor state that is not-started or failed-but-retryable).
// Entries outside their stream's retention are not counted; reaction passes
// will never see them.
func (s *Store) HasUnreactedEvents() bool {
	for _, e := range s.retainedView(s.clock()) {
		if e.PendingReaction() {
			return true
		}
	}
	return false
}

// UncommittedCount returns the number of appended-but-uncommitted events.
func (s *Store) UncommittedCount() int { return len(s.uncommitted) }

// Initialize loads the projection head and the stored event log. If the
// loaded watermark is behind the highest stored sequence number, it applies
// the missing events before returning. Must be called once before any other
// operation.
func (s *Store) Initialize(ctx context.Context) error {
	head, err := s.backend.LoadHead(ctx, s.id)
	switch {
	case err == nil:
		value, err := s.migrateValue(head)
		if err != nil {
			return err
		}
		proj := s.newProjection()
		if err := s.codec.Unmarshal(value, proj); err != nil {
			return fmt.Errorf("decode projection: %w", err)
		}
		s.projection = proj
		s.watermark = head.Watermark
		s.headToken = head.Token
	case errors.Is(err, ErrHeadNotFound):
		s.projection = s.newProjection()
		s.watermark = 0
		s.headToken = ""
	default:
		return fmt.Errorf("load head: %w", err)
	}

	records, err := s.backend.LoadEvents(ctx, s.id, EventQuery{})
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	s.stored = make([]*Entry, 0, len(records))
	s.maxSeq = s.watermark
	for _, r := range records {
		e, err := s.decodeRecord(r)
		if err != nil {
			return err
		}
		s.stored = append(s.stored, e)
		if e.Seq > s.maxSeq {
			s.maxSeq = e.Seq
		}
	}
	s.uncommitted = nil
	s.dirty = map[uint64]bool{}
	s.initialized = true

	s.log.Debug(
		"initialized",
		slog.Uint64("watermark", s.watermark),
		slog.Uint64("max_seq", s.maxSeq),
		slog.Int("stored", len(s.stored)),
	)

	if s.HasUnappliedEvents() {
		if err := s.ApplyEvents(ctx); err != nil {
			return fmt.Errorf("catch-up apply: %w", err)
		}
	}
	return nil
}

// Append classifies the event into exactly one stream, assigns the next
// sequence number and adds the entry to the uncommitted set. Routing and
// configuration errors fail synchronously; the event is never recorded.
func (s *Store) Append(event any) (*Entry, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	var matched []*Stream
	for _, st := range s.streams {
		if st.Matches(event) {
			matched = append(matched, st)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: %T", ErrNoMatchingStream, event)
	case 1:
	default:
		names := make([]string, len(matched))
		for i, st := range matched {
			names[i] = st.name
		}
		return nil, fmt.Errorf("%w: %T matches [%s]", ErrAmbiguousStream, event, strings.Join(names, ", "))
	}

	st := matched[0]
	entry, err := st.CreateEntry(s.id, event, s.maxSeq+1, s.clock(), s.idgen)
	if err != nil {
		return nil, err
	}
	s.maxSeq = entry.Seq
	s.uncommitted = append(s.uncommitted, entry)
	s.metrics.EventsAppended(st.name, 1)
	s.log.Debug("appended", entry.logAttrs())
	return entry, nil
}

// ApplyEvents folds all events beyond the watermark into the projection, in
// sequence order, routing each to its stream's handlers. The pass is
// all-or-nothing: on handler error or cancellation the projection and the
// watermark keep their pre-call values and the error propagates.
func (s *Store) ApplyEvents(ctx context.Context) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	pending := s.pendingApply()
	if len(pending) == 0 {
		return nil
	}

	defer s.metrics.ApplyDuration().ObserveDuration()

	work := s.projection.Clone()
	last := s.watermark
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, ok := s.byName[e.Stream]
		if !ok {
			return fmt.Errorf("no stream %q for stored entry seq %d", e.Stream, e.Seq)
		}
		if err := st.Apply(ctx, work, e); err != nil {
			return err
		}
		last = e.Seq
	}

	s.projection = work
	s.watermark = last
	s.log.Debug("applied", slog.Int("events", len(pending)), slog.Uint64("watermark", last))
	return nil
}

// ReactEvents runs reactors against all events not yet fully reacted to.
// Reactor failures are recorded in the per-event reactor states and never
// propagate; only cancellation returns an error.
func (s *Store) ReactEvents(ctx context.Context) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.clock()
	view := s.retainedView(now)
	for _, st := range s.streams {
		if len(st.reactors) == 0 {
			continue
		}
		var candidates []*Entry
		for _, e := range view {
			if e.Stream == st.name && !e.FullyReacted() {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		changed, failures := st.React(ctx, candidates, s.projection, now)
		for _, e := range changed {
			if e.Token != "" {
				s.dirty[e.Seq] = true
			}
			for id, rs := range e.Reactors {
				if rs.LastAttempt.Equal(now) {
					s.metrics.ReactorAttempt(id, rs.Status == ReactorSucceeded)
					if rs.Status == ReactorAbandoned {
						s.metrics.ReactorAbandoned(id)
					}
				}
			}
		}
		for id, err := range failures {
			s.log.Warn(
				"reactor failed",
				slog.String("stream", st.name),
				slog.String("reactor", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return ctx.Err()
}

// Events returns the merged view of durable and uncommitted events, ordered
// by sequence number, after per-stream retention filtering and the query
// filter. Uncommitted entries take precedence at equal sequence numbers.
func (s *Store) Events(_ context.Context, opts ...QueryOption) ([]*Entry, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	q := newQueryOptions(opts...)

	out := make([]*Entry, 0)
	for _, e := range s.retainedView(s.clock()) {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Commit persists the projection head and all uncommitted events (plus any
// reactor-state updates and retention evictions) in one atomic batch keyed on
// the head's concurrency token. No-op when there are no uncommitted events, no
// reactor-state changes and retention evicts nothing. If the batch would
// exceed the storage transaction limit, commit fails before any I/O; partial
// commits are never attempted.
func (s *Store) Commit(ctx context.Context) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.clock()
	retained := s.retainedSeqs(now)

	var (
		puts      []EventRecord
		putEntry  = map[uint64]*Entry{}
		deletes   []EventRecord
		dropped   = map[uint64]bool{}
		evictions = map[string]int{}
	)
	for _, e := range s.uncommitted {
		if !retained[e.Seq] {
			// superseded before ever being written
			dropped[e.Seq] = true
			evictions[e.Stream]++
			continue
		}
		r, err := s.encodeEntry(e)
		if err != nil {
			return err
		}
		puts = append(puts, r)
		putEntry[e.Seq] = e
	}
	for _, e := range s.stored {
		if !retained[e.Seq] {
			deletes = append(deletes, EventRecord{Stream: e.Stream, Seq: e.Seq, EventID: e.EventID, Token: e.Token})
			evictions[e.Stream]++
			continue
		}
		if s.dirty[e.Seq] {
			r, err := s.encodeEntry(e)
			if err != nil {
				return err
			}
			puts = append(puts, r)
			putEntry[e.Seq] = e
		}
	}

	if len(s.uncommitted) == 0 && len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	if size := 1 + len(puts) + len(deletes); size > s.backend.MaxBatchSize() {
		return fmt.Errorf("%w: %d rows > %d", ErrBatchLimit, size, s.backend.MaxBatchSize())
	}

	value, err := s.codec.Marshal(s.projection)
	if err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}
	head := HeadRecord{
		Watermark:     s.watermark,
		SchemaVersion: s.schemaVersion,
		UpdatedAt:     now,
		Value:         value,
		Token:         s.headToken,
	}

	defer s.metrics.CommitDuration().ObserveDuration()
	res, err := s.backend.Commit(ctx, s.id, head, puts, deletes)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			// single-writer assumption violated; escalate, never merge
			s.metrics.ConcurrencyConflict()
			s.log.Warn("commit conflict: another writer committed", slog.String("error", err.Error()))
		}
		return err
	}

	s.headToken = res.HeadToken
	committed := 0
	next := make([]*Entry, 0, len(s.stored)+len(s.uncommitted))
	for _, e := range s.stored {
		if !retained[e.Seq] {
			continue
		}
		if tok, ok := res.EventTokens[e.Seq]; ok {
			e.Token = tok
		}
		next = append(next, e)
	}
	for _, e := range s.uncommitted {
		if dropped[e.Seq] {
			continue
		}
		e.Token = res.EventTokens[e.Seq]
		next = append(next, e)
		committed++
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Seq < next[j].Seq })
	s.stored = next
	s.uncommitted = nil
	s.dirty = map[uint64]bool{}

	s.metrics.EventsCommitted(committed)
	for stream, n := range evictions {
		s.metrics.EventsEvicted(stream, n)
	}
	s.log.Debug(
		"committed",
		slog.Int("events", committed),
		slog.Int("deletes", len(deletes)),
		slog.Uint64("watermark", s.watermark),
	)
	return nil
}

// === internals ===

// merged returns stored followed by uncommitted entries in ascending sequence
// order, with uncommitted entries shadowing stored ones at equal sequences.
func (s *Store) merged() []*Entry {
	bySeq := make(map[uint64]*Entry, len(s.stored)+len(s.uncommitted))
	for _, e := range s.stored {
		bySeq[e.Seq] = e
	}
	for _, e := range s.uncommitted {
		bySeq[e.Seq] = e
	}
	out := make([]*Entry, 0, len(bySeq))
	for _, e := range bySeq {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) pendingApply() []*Entry {
	var out []*Entry
	for _, e := range s.merged() {
		if e.Seq > s.watermark {
			out = append(out, e)
		}
	}
	return out
}

// retainedSeqs evaluates every stream's retention over the merged view.
func (s *Store) retainedSeqs(now time.Time) map[uint64]bool {
	merged := s.merged()
	out := make(map[uint64]bool, len(merged))
	for _, st := range s.streams {
		var stream []*Entry
		for _, e := range merged {
			if e.Stream == st.name {
				stream = append(stream, e)
			}
		}
		for seq, keep := range st.retention.retainedSet(stream, now) {
			out[seq] = keep
		}
	}
	return out
}

func (s *Store) retainedView(now time.Time) []*Entry {
	retained := s.retainedSeqs(now)
	var out []*Entry
	for _, e := range s.merged() {
		if retained[e.Seq] {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) migrateValue(head HeadRecord) ([]byte, error) {
	if head.SchemaVersion == s.schemaVersion {
		return head.Value, nil
	}
	if s.migrate == nil {
		return nil, fmt.Errorf("%w: stored %d, current %d", ErrSchemaMigration, head.SchemaVersion, s.schemaVersion)
	}
	value, err := s.migrate(head.SchemaVersion, head.Value)
	if err != nil {
		return nil, fmt.Errorf("migrate projection from v%d: %w", head.SchemaVersion, err)
	}
	return value, nil
}

// eventEnvelope is the persisted form of an entry's payload.
type eventEnvelope struct {
	Type      string                  `json:"type"`
	EventID   string                  `json:"event_id,omitempty"`
	EventTime time.Time               `json:"event_time,omitempty"`
	StoredAt  time.Time               `json:"stored_at"`
	Data      []byte                  `json:"data"`
	Reactors  map[string]ReactorState `json:"reactors,omitempty"`
}

func (s *Store) encodeEntry(e *Entry) (EventRecord, error) {
	data, err := s.codec.Marshal(e.Event)
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode event seq %d: %w", e.Seq, err)
	}
	payload, err := s.codec.Marshal(eventEnvelope{
		Type:      eventTypeOf(e.Event),
		EventID:   e.EventID,
		EventTime: e.EventTime,
		StoredAt:  e.StoredAt,
		Data:      data,
		Reactors:  e.Reactors,
	})
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode envelope seq %d: %w", e.Seq, err)
	}
	return EventRecord{
		Stream:  e.Stream,
		Seq:     e.Seq,
		EventID: e.EventID,
		Payload: payload,
		Token:   e.Token,
	}, nil
}

func (s *Store) decodeRecord(r EventRecord) (*Entry, error) {
	var env eventEnvelope
	if err := s.codec.Unmarshal(r.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope seq %d: %w", r.Seq, err)
	}
	ev, err := s.registry.New(env.Type)
	if err != nil {
		return nil, fmt.Errorf("seq %d: %w", r.Seq, err)
	}
	if err := s.codec.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("decode event seq %d: %w", r.Seq, err)
	}
	return &Entry{
		AggregateID: s.id,
		Stream:      r.Stream,
		Seq:         r.Seq,
		EventID:     env.EventID,
		EventTime:   env.EventTime,
		StoredAt:    env.StoredAt,
		Token:       r.Token,
		Event:       ev,
		Reactors:    env.Reactors,
	}, nil
}
