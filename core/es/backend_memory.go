package es

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const memoryMaxBatch = 100

// MemoryBackend is a simple, correct (optimistic) backend for tests and
// development. It enforces the same transaction limit, token preconditions
// and duplicate detection a real table store would.
type MemoryBackend struct {
	mu         sync.Mutex
	partitions map[string]*memPartition
	maxBatch   int
}

type memPartition struct {
	head   *HeadRecord
	events map[uint64]EventRecord
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		partitions: map[string]*memPartition{},
		maxBatch:   memoryMaxBatch,
	}
}

// NewMemoryBackendWithBatchSize overrides the transaction limit, useful for
// exercising batch-overflow behavior in tests.
func NewMemoryBackendWithBatchSize(n int) *MemoryBackend {
	b := NewMemoryBackend()
	b.maxBatch = n
	return b
}

func (b *MemoryBackend) MaxBatchSize() int { return b.maxBatch }

func (b *MemoryBackend) LoadHead(_ context.Context, aggregateID string) (HeadRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.partitions[aggregateID]
	if !ok || p.head == nil {
		return HeadRecord{}, ErrHeadNotFound
	}
	return *p.head, nil
}

func (b *MemoryBackend) LoadEvents(_ context.Context, aggregateID string, q EventQuery) ([]EventRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.partitions[aggregateID]
	if !ok {
		return nil, nil
	}
	out := make([]EventRecord, 0, len(p.events))
	for _, r := range p.events {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (b *MemoryBackend) Commit(_ context.Context, aggregateID string, head HeadRecord, puts, deletes []EventRecord) (CommitResult, error) {
	if 1+len(puts)+len(deletes) > b.maxBatch {
		return CommitResult{}, fmt.Errorf("%w: %d rows > %d", ErrBatchLimit, 1+len(puts)+len(deletes), b.maxBatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.partitions[aggregateID]
	if !ok {
		p = &memPartition{events: map[uint64]EventRecord{}}
		b.partitions[aggregateID] = p
	}

	// validate every precondition before mutating anything
	curHeadToken := ""
	if p.head != nil {
		curHeadToken = p.head.Token
	}
	if head.Token != curHeadToken {
		return CommitResult{}, fmt.Errorf("%w: head token %q != %q", ErrConcurrencyConflict, head.Token, curHeadToken)
	}
	for _, r := range puts {
		cur, exists := p.events[r.Seq]
		if r.Token == "" {
			if exists {
				return CommitResult{}, fmt.Errorf("%w: seq %d", ErrDuplicateEvent, r.Seq)
			}
		} else if !exists || cur.Token != r.Token {
			return CommitResult{}, fmt.Errorf("%w: event seq %d", ErrConcurrencyConflict, r.Seq)
		}
	}
	for _, r := range deletes {
		cur, exists := p.events[r.Seq]
		if !exists {
			return CommitResult{}, fmt.Errorf("%w: delete seq %d", ErrConcurrencyConflict, r.Seq)
		}
		if r.Token != "" && cur.Token != r.Token {
			return CommitResult{}, fmt.Errorf("%w: delete seq %d", ErrConcurrencyConflict, r.Seq)
		}
	}

	res := CommitResult{
		HeadToken:   uuid.NewString(),
		EventTokens: make(map[uint64]string, len(puts)),
	}
	h := head
	h.Token = res.HeadToken
	p.head = &h
	for _, r := range puts {
		r.Token = uuid.NewString()
		p.events[r.Seq] = r
		res.EventTokens[r.Seq] = r.Token
	}
	for _, r := range deletes {
		delete(p.events, r.Seq)
	}
	return res, nil
}

var _ Backend = (*MemoryBackend)(nil)
