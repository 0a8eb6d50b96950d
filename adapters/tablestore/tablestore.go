// Package tablestore implements es.Backend on top of a ports/table.Store.
//
// Each aggregate occupies one partition. The projection head lives in a row
// whose key sorts before every event row; event rows are keyed by
// stream name + zero-padded sequence number + event id so that a key-ordered
// scan returns them in sequence order per stream.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/internal/codec"
	"github.com/egil/evstore/ports/table"
)

const headKey = "!head"

type Config struct {
	Table table.Store
	Codec codec.Codec  // defaults to codec.JSON
	Log   *slog.Logger // optional
}

type Backend struct {
	table table.Store
	codec codec.Codec
	log   *slog.Logger
}

func New(cfg Config) (*Backend, error) {
	if cfg.Table == nil {
		return nil, errors.New("table store is required")
	}
	cd := cfg.Codec
	if cd == nil {
		cd = codec.JSON{}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		table: cfg.Table,
		codec: cd,
		log:   log.With(slog.String("backend", "table")),
	}, nil
}

func (b *Backend) MaxBatchSize() int { return table.MaxBatchRows }

func (b *Backend) LoadHead(ctx context.Context, aggregateID string) (es.HeadRecord, error) {
	row, err := b.table.Read(ctx, aggregateID, headKey)
	if err != nil {
		if errors.Is(err, table.ErrRowNotFound) {
			return es.HeadRecord{}, es.ErrHeadNotFound
		}
		return es.HeadRecord{}, err
	}
	var head es.HeadRecord
	if err := b.codec.Unmarshal(row.Value, &head); err != nil {
		return es.HeadRecord{}, fmt.Errorf("decode head row: %w", err)
	}
	head.Token = row.Token
	return head, nil
}

func (b *Backend) LoadEvents(ctx context.Context, aggregateID string, q es.EventQuery) ([]es.EventRecord, error) {
	tq := table.Query{
		MinSeq: q.MinSeq,
		MaxSeq: q.MaxSeq,
	}
	if q.Stream != "" {
		tq.Prefix = q.Stream + "/"
	}
	rows, err := b.table.Select(ctx, aggregateID, tq)
	if err != nil {
		return nil, err
	}
	out := make([]es.EventRecord, 0, len(rows))
	for _, row := range rows {
		if row.Key == headKey {
			continue
		}
		stream, eventID, err := splitEventKey(row.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, es.EventRecord{
			Stream:  stream,
			Seq:     row.Seq,
			EventID: eventID,
			Payload: row.Value,
			Token:   row.Token,
		})
	}
	sortBySeq(out)
	return out, nil
}

func (b *Backend) Commit(ctx context.Context, aggregateID string, head es.HeadRecord, puts, deletes []es.EventRecord) (es.CommitResult, error) {
	headToken := head.Token
	head.Token = ""
	value, err := b.codec.Marshal(head)
	if err != nil {
		return es.CommitResult{}, fmt.Errorf("encode head row: %w", err)
	}

	batch := table.Batch{Partition: aggregateID}
	batch.Ops = append(batch.Ops, table.Op{Kind: table.OpPut, Row: table.Row{
		Key:   headKey,
		Seq:   head.Watermark,
		Value: value,
		Token: headToken,
	}})

	keyForSeq := make(map[string]uint64, len(puts))
	for _, r := range puts {
		key := eventKey(r.Stream, r.Seq, r.EventID)
		keyForSeq[key] = r.Seq
		batch.Ops = append(batch.Ops, table.Op{Kind: table.OpPut, Row: table.Row{
			Key:   key,
			Seq:   r.Seq,
			Value: r.Payload,
			Token: r.Token,
		}})
	}
	for _, r := range deletes {
		batch.Ops = append(batch.Ops, table.Op{Kind: table.OpDelete, Row: table.Row{
			Key:   eventKey(r.Stream, r.Seq, r.EventID),
			Token: r.Token,
		}})
	}

	tokens, err := b.table.Commit(ctx, batch)
	if err != nil {
		return es.CommitResult{}, mapCommitError(err)
	}

	res := es.CommitResult{
		HeadToken:   tokens[headKey],
		EventTokens: make(map[uint64]string, len(puts)),
	}
	for key, tok := range tokens {
		if key == headKey {
			continue
		}
		res.EventTokens[keyForSeq[key]] = tok
	}
	return res, nil
}

func mapCommitError(err error) error {
	switch {
	case errors.Is(err, table.ErrBatchTooLarge):
		return fmt.Errorf("%w: %v", es.ErrBatchLimit, err)
	case errors.Is(err, table.ErrRowExists):
		return fmt.Errorf("%w: %v", es.ErrDuplicateEvent, err)
	case errors.Is(err, table.ErrTokenMismatch), errors.Is(err, table.ErrRowNotFound):
		return fmt.Errorf("%w: %v", es.ErrConcurrencyConflict, err)
	default:
		return err
	}
}

var _ es.Backend = (*Backend)(nil)
