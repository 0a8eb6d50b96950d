package es

import "errors"

var (
	// Configuration errors. Surfaced at construction or append time, never
	// deferred to commit.
	ErrNoStreams           = errors.New("no streams configured")
	ErrMissingEventID      = errors.New("distinct-by-key retention requires an event id")
	ErrRetentionConflict   = errors.New("keep-until-reacted cannot be combined with other retention rules")
	ErrDuplicateStreamName = errors.New("duplicate stream name")

	// Routing errors. The event is never added to the uncommitted set.
	ErrNoMatchingStream = errors.New("no stream matches event type")
	ErrAmbiguousStream  = errors.New("multiple streams match event type")

	// Store lifecycle and commit errors.
	ErrNotInitialized      = errors.New("store not initialized")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrBatchLimit          = errors.New("commit batch exceeds storage transaction limit")
	ErrDuplicateEvent      = errors.New("event record already exists")

	// Serialization errors.
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrDuplicateEventType = errors.New("event type name already registered")
	ErrSchemaMigration    = errors.New("projection schema version mismatch and no migration configured")
)
