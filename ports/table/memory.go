package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// MemoryStore is an in-memory Store for tests and development. Rows are kept
// in a btree per partition so Select returns key-ordered results the same way
// a real table store would.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*btree.Map[string, Row]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]*btree.Map[string, Row]{}}
}

func (s *MemoryStore) Read(_ context.Context, partition, key string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		return Row{}, ErrRowNotFound
	}
	r, ok := p.Get(key)
	if !ok {
		return Row{}, ErrRowNotFound
	}
	return r, nil
}

func (s *MemoryStore) Select(_ context.Context, partition string, q Query) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		return nil, nil
	}

	out := make([]Row, 0)
	start := q.MinKey
	if q.Prefix != "" && q.Prefix > start {
		start = q.Prefix
	}
	p.Ascend(start, func(key string, r Row) bool {
		if q.Prefix != "" && !hasPrefix(key, q.Prefix) {
			return false
		}
		if q.MaxKey != "" && key > q.MaxKey {
			return false
		}
		if q.Matches(r) {
			out = append(out, r)
		}
		return true
	})
	return out, nil
}

func (s *MemoryStore) Commit(_ context.Context, b Batch) (map[string]string, error) {
	if len(b.Ops) > MaxBatchRows {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(b.Ops), MaxBatchRows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[b.Partition]
	if !ok {
		p = btree.NewMap[string, Row](32)
		s.partitions[b.Partition] = p
	}

	// validate all preconditions before touching anything
	for _, op := range b.Ops {
		cur, exists := p.Get(op.Row.Key)
		switch op.Kind {
		case OpPut:
			if op.Row.Token == "" {
				if exists {
					return nil, fmt.Errorf("%w: %s", ErrRowExists, op.Row.Key)
				}
			} else {
				if !exists {
					return nil, fmt.Errorf("%w: %s", ErrRowNotFound, op.Row.Key)
				}
				if cur.Token != op.Row.Token {
					return nil, fmt.Errorf("%w: %s", ErrTokenMismatch, op.Row.Key)
				}
			}
		case OpDelete:
			if !exists {
				return nil, fmt.Errorf("%w: %s", ErrRowNotFound, op.Row.Key)
			}
			if op.Row.Token != "" && cur.Token != op.Row.Token {
				return nil, fmt.Errorf("%w: %s", ErrTokenMismatch, op.Row.Key)
			}
		}
	}

	tokens := make(map[string]string, len(b.Ops))
	for _, op := range b.Ops {
		switch op.Kind {
		case OpPut:
			r := op.Row
			r.Token = uuid.NewString()
			p.Set(r.Key, r)
			tokens[r.Key] = r.Token
		case OpDelete:
			p.Delete(op.Row.Key)
		}
	}
	return tokens, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

var _ Store = (*MemoryStore)(nil)
