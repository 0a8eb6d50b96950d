// Package estests runs one behavioral suite against every backend, so that
// the memory, table-store and append-log implementations stay interchangeable.
package estests

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/egil/evstore/core/es"
)

// BackendFactory produces a fresh, empty backend per subtest.
type BackendFactory func(t *testing.T) es.Backend

// suite domain: a small order book

type orderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

type orderShipped struct {
	OrderID string `json:"order_id"`
}

type priceSet struct {
	SKU   string `json:"sku"`
	Price int    `json:"price"`
}

type orderBook struct {
	Open    int `json:"open"`
	Shipped int `json:"shipped"`
	Revenue int `json:"revenue"`
}

func (b *orderBook) Clone() es.Projection {
	cp := *b
	return &cp
}

func ordersStream(opts ...es.StreamOption) *es.Stream {
	all := append([]es.StreamOption{
		es.Accepts[orderPlaced](),
		es.Accepts[orderShipped](),
		es.On(func(_ context.Context, p es.Projection, e *orderPlaced) error {
			b := p.(*orderBook)
			b.Open++
			b.Revenue += e.Total
			return nil
		}),
		es.On(func(_ context.Context, p es.Projection, _ *orderShipped) error {
			b := p.(*orderBook)
			b.Open--
			b.Shipped++
			return nil
		}),
	}, opts...)
	return es.MustStream("orders", all...)
}

func pricesStream() *es.Stream {
	return es.MustStream("prices",
		es.Accepts[priceSet](),
		es.WithEventID(func(ev any) string {
			switch p := ev.(type) {
			case priceSet:
				return p.SKU
			case *priceSet:
				return p.SKU
			}
			return ""
		}),
		es.WithRetention(es.RetentionPolicy{DistinctByKey: true}),
		es.OnAny(func(context.Context, es.Projection, *es.Entry) error { return nil }),
	)
}

func newStore(t *testing.T, backend es.Backend, streams ...*es.Stream) *es.Store {
	t.Helper()
	return es.StartTestStore(t, "order-agg-1",
		es.WithBackend(backend),
		es.WithStreams(streams...),
		es.WithProjection(func() es.Projection { return &orderBook{} }),
	)
}

// Run exercises the engine-visible storage behaviors every backend must share.
func Run(t *testing.T, newBackend BackendFactory) {
	t.Run("roundtrip reload", func(t *testing.T) {
		backend := newBackend(t)
		s := newStore(t, backend, ordersStream())
		es.Roundtrip(t, t.Context(), s,
			orderPlaced{OrderID: "o1", Total: 10},
			orderPlaced{OrderID: "o2", Total: 20},
			orderShipped{OrderID: "o1"},
		)

		reloaded := newStore(t, backend, ordersStream())
		b := reloaded.Projection().(*orderBook)
		require.Equal(t, 1, b.Open)
		require.Equal(t, 1, b.Shipped)
		require.Equal(t, 30, b.Revenue)
		require.Equal(t, uint64(3), reloaded.Watermark())

		events, err := reloaded.Events(t.Context())
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.IsType(t, &orderPlaced{}, events[0].Event)
		require.Equal(t, "o1", events[0].Event.(*orderPlaced).OrderID)

		// reloading is idempotent
		again := newStore(t, backend, ordersStream())
		require.Equal(t, *b, *again.Projection().(*orderBook))
	})

	t.Run("uncommitted events are invisible to other readers", func(t *testing.T) {
		backend := newBackend(t)
		s := newStore(t, backend, ordersStream())
		es.MustAppend(t, s, orderPlaced{OrderID: "o1", Total: 10})

		other := newStore(t, backend, ordersStream())
		events, err := other.Events(t.Context())
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("distinct retention evicts superseded keys", func(t *testing.T) {
		backend := newBackend(t)
		s := newStore(t, backend, pricesStream())
		es.Roundtrip(t, t.Context(), s,
			priceSet{SKU: "k1", Price: 1},
			priceSet{SKU: "k2", Price: 2},
			priceSet{SKU: "k1", Price: 3},
		)

		reloaded := newStore(t, backend, pricesStream())
		events, err := reloaded.Events(t.Context())
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, "k2", events[0].EventID)
		require.Equal(t, "k1", events[1].EventID)
		require.Equal(t, 3, events[1].Event.(*priceSet).Price)
	})

	t.Run("reactor outcome survives reload", func(t *testing.T) {
		backend := newBackend(t)
		calls := 0
		stream := func() *es.Stream {
			return ordersStream(es.WithReactors(
				es.ReactorFunc("notifier", func(context.Context, []*es.Entry, es.Projection) error {
					calls++
					return nil
				}),
			))
		}

		s := newStore(t, backend, stream())
		es.Roundtrip(t, t.Context(), s, orderPlaced{OrderID: "o1", Total: 10})
		require.Equal(t, 1, calls)

		reloaded := newStore(t, backend, stream())
		require.False(t, reloaded.HasUnreactedEvents())
		require.NoError(t, reloaded.ReactEvents(t.Context()))
		require.Equal(t, 1, calls)
	})

	t.Run("keep until reacted gates eviction", func(t *testing.T) {
		backend := newBackend(t)
		failing := true
		stream := func() *es.Stream {
			return ordersStream(
				es.WithRetention(es.RetentionPolicy{UntilReacted: true}),
				es.WithReactors(es.ReactorFunc("outbox", func(context.Context, []*es.Entry, es.Projection) error {
					if failing {
						return errors.New("downstream unavailable")
					}
					return nil
				})),
			)
		}

		s := newStore(t, backend, stream())
		es.MustAppend(t, s, orderPlaced{OrderID: "o1", Total: 10})
		require.NoError(t, s.ApplyEvents(t.Context()))
		require.NoError(t, s.ReactEvents(t.Context()))
		require.NoError(t, s.Commit(t.Context()))

		records, err := backend.LoadEvents(t.Context(), s.AggregateID(), es.EventQuery{})
		require.NoError(t, err)
		require.Len(t, records, 1)

		failing = false
		require.NoError(t, s.ReactEvents(t.Context()))
		require.NoError(t, s.Commit(t.Context()))

		records, err = backend.LoadEvents(t.Context(), s.AggregateID(), es.EventQuery{})
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("conflicting writers surface the conflict", func(t *testing.T) {
		backend := newBackend(t)
		a := newStore(t, backend, ordersStream())
		b := newStore(t, backend, ordersStream())

		es.Roundtrip(t, t.Context(), a, orderPlaced{OrderID: "o1", Total: 10})

		es.MustAppend(t, b, orderPlaced{OrderID: "o2", Total: 20})
		require.NoError(t, b.ApplyEvents(t.Context()))
		require.ErrorIs(t, b.Commit(t.Context()), es.ErrConcurrencyConflict)
	})

	t.Run("oversized batch fails before any write", func(t *testing.T) {
		backend := newBackend(t)
		s := newStore(t, backend, ordersStream())

		for i := 0; i < backend.MaxBatchSize(); i++ {
			es.MustAppend(t, s, orderPlaced{OrderID: "bulk", Total: 1})
		}
		require.NoError(t, s.ApplyEvents(t.Context()))
		require.ErrorIs(t, s.Commit(t.Context()), es.ErrBatchLimit)

		_, err := backend.LoadHead(t.Context(), s.AggregateID())
		require.ErrorIs(t, err, es.ErrHeadNotFound)
		records, err := backend.LoadEvents(t.Context(), s.AggregateID(), es.EventQuery{})
		require.NoError(t, err)
		require.Empty(t, records)
	})
}
