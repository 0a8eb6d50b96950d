package es

import (
	"context"
	"fmt"
	"time"
)

// test domain: a small account ledger

type deposited struct {
	Amount int    `json:"amount"`
	Key    string `json:"key,omitempty"`
}

type withdrawn struct {
	Amount int `json:"amount"`
}

type limitSet struct {
	Key   string `json:"key"`
	Limit int    `json:"limit"`
}

type balance struct {
	Total  int `json:"total"`
	Events int `json:"events"`
}

func (b *balance) Clone() Projection {
	cp := *b
	return &cp
}

func newBalance() Projection { return &balance{} }

func ledgerStream(opts ...StreamOption) *Stream {
	all := append([]StreamOption{
		Accepts[deposited](),
		Accepts[withdrawn](),
		On(func(_ context.Context, p Projection, e *deposited) error {
			b := p.(*balance)
			b.Total += e.Amount
			b.Events++
			return nil
		}),
		On(func(_ context.Context, p Projection, e *withdrawn) error {
			if e.Amount < 0 {
				return fmt.Errorf("negative withdrawal %d", e.Amount)
			}
			b := p.(*balance)
			b.Total -= e.Amount
			b.Events++
			return nil
		}),
	}, opts...)
	return MustStream("ledger", all...)
}

func limitsStream(opts ...StreamOption) *Stream {
	all := append([]StreamOption{
		Accepts[limitSet](),
		WithEventID(func(ev any) string {
			l, _ := as[limitSet](ev)
			return l.Key
		}),
		OnAny(func(_ context.Context, _ Projection, _ *Entry) error { return nil }),
	}, opts...)
	return MustStream("limits", all...)
}

func entryAt(stream string, seq uint64, eventID string, eventTime time.Time) *Entry {
	return &Entry{
		Stream:    stream,
		Seq:       seq,
		EventID:   eventID,
		EventTime: eventTime,
		Event:     &deposited{Amount: 1},
	}
}
