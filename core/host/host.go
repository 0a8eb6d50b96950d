// Package host keeps live store instances for many aggregates and serializes
// all access per aggregate id, activating stores on demand and retiring idle
// ones. It is the process-local enforcement of the engine's single-writer
// assumption.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/egil/evstore/core/es"
)

// Factory builds the store for one aggregate. It is invoked inside the
// aggregate's serialized worker; Initialize is the host's job.
type Factory func(aggregateID string) (*es.Store, error)

type Option func(*Host)

// WithMaxIdle caps the number of resident store instances (default 1024).
// The least recently used instance beyond the cap is retired; it reloads
// from storage on next access.
func WithMaxIdle(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.maxIdle = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(h *Host) { h.log = log }
}

// WithBufferSize sets the queued-task capacity per aggregate (default 64).
func WithBufferSize(n int) Option {
	return func(h *Host) { h.buffer = n }
}

type Host struct {
	factory Factory
	log     *slog.Logger
	maxIdle int
	buffer  int

	sched *scheduler

	mu        sync.Mutex
	instances map[string]*instance
}

type instance struct {
	store    *es.Store
	lastUsed time.Time
}

func New(factory Factory, opts ...Option) *Host {
	h := &Host{
		factory: factory,
		log:     slog.Default(),
		maxIdle: 1024,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(slog.String("component", "host"))
	h.sched = newScheduler(h.buffer)
	h.instances = make(map[string]*instance)
	return h
}

// Do runs fn against the aggregate's store. Calls for the same aggregate id
// execute sequentially in submission order; different aggregates run in
// parallel. The store is activated (built and initialized) on first use.
func (h *Host) Do(ctx context.Context, aggregateID string, fn func(ctx context.Context, s *es.Store) error) error {
	if aggregateID == "" {
		return fmt.Errorf("aggregate id is empty")
	}
	return h.sched.do(ctx, aggregateID, func() error {
		s, err := h.activate(ctx, aggregateID)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

// Resident reports the number of live store instances.
func (h *Host) Resident() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances)
}

// Evict drops the aggregate's resident instance, forcing a reload from
// storage on next access. Queued work for the aggregate is unaffected; it
// reactivates the store.
func (h *Host) Evict(aggregateID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.instances, aggregateID)
}

// Close stops accepting work and drains queued tasks.
func (h *Host) Close() {
	h.sched.close()
	h.mu.Lock()
	h.instances = make(map[string]*instance)
	h.mu.Unlock()
}

func (h *Host) activate(ctx context.Context, aggregateID string) (*es.Store, error) {
	h.mu.Lock()
	if inst, ok := h.instances[aggregateID]; ok {
		inst.lastUsed = time.Now()
		h.mu.Unlock()
		return inst.store, nil
	}
	h.mu.Unlock()

	start := time.Now()
	s, err := h.factory(aggregateID)
	if err != nil {
		return nil, fmt.Errorf("build store for %q: %w", aggregateID, err)
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize store for %q: %w", aggregateID, err)
	}
	h.log.Debug("activated",
		slog.String("aggregate_id", aggregateID),
		slog.Duration("duration", time.Since(start)),
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.instances[aggregateID] = &instance{store: s, lastUsed: time.Now()}
	h.retireLocked(aggregateID)
	return s, nil
}

// retireLocked drops least recently used instances beyond the cap, never the
// one just activated.
func (h *Host) retireLocked(keep string) {
	for len(h.instances) > h.maxIdle {
		oldestID := ""
		var oldest time.Time
		for id, inst := range h.instances {
			if id == keep {
				continue
			}
			if oldestID == "" || inst.lastUsed.Before(oldest) {
				oldestID = id
				oldest = inst.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(h.instances, oldestID)
		h.log.Debug("retired", slog.String("aggregate_id", oldestID))
	}
}
