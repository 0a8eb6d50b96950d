package es

import (
	"fmt"
	"sync"

	"github.com/egil/evstore/internal/reflector"
)

// Registry maps event type names to constructors so persisted events can be
// decoded back into their concrete types.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]registration
}

type registration struct {
	ctor     func() any
	typeName string
}

func NewRegistry() *Registry {
	return &Registry{ctors: map[string]registration{}}
}

// Register binds a type name to a constructor. Re-registering the same
// concrete type is a no-op; binding a second type to an in-use name fails, as
// it would corrupt decoding of already-persisted events.
func (r *Registry) Register(eventType string, ctor func() any) error {
	tn := reflector.TypeInfoOf(ctor()).Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.ctors[eventType]; ok && existing.typeName != tn {
		return fmt.Errorf("%w: %q already maps to %s", ErrDuplicateEventType, eventType, existing.typeName)
	}
	r.ctors[eventType] = registration{ctor: ctor, typeName: tn}
	return nil
}

// New constructs a fresh, zero-valued instance for the named event type.
func (r *Registry) New(eventType string) (any, error) {
	r.mu.RLock()
	reg, ok := r.ctors[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return reg.ctor(), nil
}

// EventDef pairs a type name with its constructor for registration.
type EventDef struct {
	Name string
	Ctor func() any
}

// EventOf derives an EventDef for T. Decoded instances are produced as *T.
// A type overriding its persisted name via EventType() string registers under
// the override, so encode and decode agree.
func EventOf[T any]() EventDef {
	name := reflector.TypeInfoFor[T]().Name
	if t, ok := any(new(T)).(interface{ EventType() string }); ok {
		name = t.EventType()
	}
	return EventDef{
		Name: name,
		Ctor: func() any { return new(T) },
	}
}

// RegisterEvent registers T with the registry.
func RegisterEvent[T any](r *Registry) error {
	def := EventOf[T]()
	return r.Register(def.Name, def.Ctor)
}

// eventTypeOf derives the persisted type name for an event instance. Events
// may override the reflected name by implementing EventType() string.
func eventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}
