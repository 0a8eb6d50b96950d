// Package logstore implements es.Backend on top of a ports/appendlog.Log.
//
// It suits simple aggregates where table-style partitioning is unnecessary:
// every commit appends one framed record holding the head update, the new
// event records and the evicted sequence numbers, preconditioned on the log's
// append token. State is recovered by folding the log forward.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/internal/codec"
	"github.com/egil/evstore/ports/appendlog"
)

const maxBatch = 100

type Config struct {
	Log   appendlog.Log
	Codec codec.Codec  // defaults to codec.JSON
	Trace *slog.Logger // optional
}

type Backend struct {
	log   appendlog.Log
	codec codec.Codec
	trace *slog.Logger

	mu     sync.Mutex
	folded map[string]*foldState
}

// commitFrame is the unit appended to the log per engine commit.
type commitFrame struct {
	Head    es.HeadRecord    `json:"head"`
	Puts    []es.EventRecord `json:"puts,omitempty"`
	Deletes []uint64         `json:"deletes,omitempty"`
}

type foldState struct {
	head   *es.HeadRecord
	events map[uint64]es.EventRecord
	token  string
}

func New(cfg Config) (*Backend, error) {
	if cfg.Log == nil {
		return nil, errors.New("append log is required")
	}
	cd := cfg.Codec
	if cd == nil {
		cd = codec.JSON{}
	}
	trace := cfg.Trace
	if trace == nil {
		trace = slog.Default()
	}
	return &Backend{
		log:    cfg.Log,
		codec:  cd,
		trace:  trace.With(slog.String("backend", "appendlog")),
		folded: map[string]*foldState{},
	}, nil
}

func (b *Backend) MaxBatchSize() int { return maxBatch }

func (b *Backend) LoadHead(ctx context.Context, aggregateID string) (es.HeadRecord, error) {
	st, err := b.refold(ctx, aggregateID)
	if err != nil {
		return es.HeadRecord{}, err
	}
	if st.head == nil {
		return es.HeadRecord{}, es.ErrHeadNotFound
	}
	return *st.head, nil
}

func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, q es.EventQuery) ([]es.EventRecord, error) {
	st, err := b.refold(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	out := make([]es.EventRecord, 0, len(st.events))
	for _, r := range st.events {
		if q.MinSeq != 0 && r.Seq < q.MinSeq {
			continue
		}
		if q.MaxSeq != 0 && r.Seq > q.MaxSeq {
			continue
		}
		if q.Stream != "" && r.Stream != q.Stream {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (b *Backend) Commit(ctx context.Context, aggregateID string, head es.HeadRecord, puts, deletes []es.EventRecord) (es.CommitResult, error) {
	if 1+len(puts)+len(deletes) > maxBatch {
		return es.CommitResult{}, fmt.Errorf("%w: %d rows > %d", es.ErrBatchLimit, 1+len(puts)+len(deletes), maxBatch)
	}

	b.mu.Lock()
	st, ok := b.folded[aggregateID]
	b.mu.Unlock()
	if !ok {
		var err error
		st, err = b.refold(ctx, aggregateID)
		if err != nil {
			return es.CommitResult{}, err
		}
	}

	// The engine's head token must match the fold the commit was planned
	// against; the log append token enforces the same at storage level.
	curToken := ""
	if st.head != nil {
		curToken = st.head.Token
	}
	if head.Token != curToken {
		return es.CommitResult{}, fmt.Errorf("%w: head token %q != %q", es.ErrConcurrencyConflict, head.Token, curToken)
	}
	for _, r := range puts {
		if _, exists := st.events[r.Seq]; exists && r.Token == "" {
			return es.CommitResult{}, fmt.Errorf("%w: seq %d", es.ErrDuplicateEvent, r.Seq)
		}
	}

	frame := commitFrame{Head: head, Puts: puts}
	frame.Head.Token = ""
	for _, r := range deletes {
		frame.Deletes = append(frame.Deletes, r.Seq)
	}
	payload, err := b.codec.Marshal(frame)
	if err != nil {
		return es.CommitResult{}, fmt.Errorf("encode commit frame: %w", err)
	}

	newToken, err := b.log.Append(ctx, aggregateID, st.token, payload)
	if err != nil {
		if errors.Is(err, appendlog.ErrTokenMismatch) {
			b.trace.Warn("commit lost the append race",
				slog.String("aggregate_id", aggregateID),
				slog.String("token", st.token),
			)
			return es.CommitResult{}, fmt.Errorf("%w: %v", es.ErrConcurrencyConflict, err)
		}
		return es.CommitResult{}, err
	}
	b.trace.Debug("committed frame",
		slog.String("aggregate_id", aggregateID),
		slog.Int("puts", len(puts)),
		slog.Int("deletes", len(deletes)),
	)

	res := es.CommitResult{
		HeadToken:   newToken,
		EventTokens: make(map[uint64]string, len(puts)),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st.token = newToken
	h := frame.Head
	h.Token = newToken
	st.head = &h
	for _, r := range puts {
		r.Token = newToken
		st.events[r.Seq] = r
		res.EventTokens[r.Seq] = newToken
	}
	for _, seq := range frame.Deletes {
		delete(st.events, seq)
	}
	b.folded[aggregateID] = st
	return res, nil
}

// refold replays the log for one aggregate and caches the folded state.
func (b *Backend) refold(ctx context.Context, aggregateID string) (*foldState, error) {
	records, token, err := b.log.Read(ctx, aggregateID, 0)
	if err != nil {
		if errors.Is(err, appendlog.ErrLogNotFound) {
			st := &foldState{events: map[uint64]es.EventRecord{}}
			b.mu.Lock()
			b.folded[aggregateID] = st
			b.mu.Unlock()
			return st, nil
		}
		return nil, err
	}

	st := &foldState{events: map[uint64]es.EventRecord{}, token: token}
	for _, rec := range records {
		var frame commitFrame
		if err := b.codec.Unmarshal(rec.Payload, &frame); err != nil {
			return nil, fmt.Errorf("decode commit frame at offset %d: %w", rec.Offset, err)
		}
		h := frame.Head
		st.head = &h
		for _, r := range frame.Puts {
			st.events[r.Seq] = r
		}
		for _, seq := range frame.Deletes {
			delete(st.events, seq)
		}
	}
	if st.head != nil {
		st.head.Token = token
		for seq, r := range st.events {
			r.Token = token
			st.events[seq] = r
		}
	}

	b.mu.Lock()
	b.folded[aggregateID] = st
	b.mu.Unlock()
	return st, nil
}

var _ es.Backend = (*Backend)(nil)
