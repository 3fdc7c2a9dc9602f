package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/events"
	"github.com/ariefcatur/go-realtime-payments/internal/memory"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup() (*memory.Store, *Service, *events.Recorder, *cache.Memory) {
	s := memory.New()
	s.AddProduct(shop.Product{ID: "p1", Slug: "mug", Name: "Mug", Price: dec("12.50")}, 5)
	s.AddProduct(shop.Product{ID: "p2", Slug: "tee", Name: "Tee", Price: dec("20")}, 1)
	s.AddProduct(shop.Product{ID: "p3", Slug: "gone", Name: "Gone", Price: dec("1")}, 0)
	rec := &events.Recorder{}
	c := cache.NewMemory()
	return s, &Service{Store: s, Cache: c, Events: rec, MaxItemQuantity: 4, ServiceName: "payments"}, rec, c
}

func TestCreateOrderSnapshotsItems(t *testing.T) {
	ctx := context.Background()
	s, svc, rec, _ := setup()

	o, err := svc.CreateOrder(ctx, "u1", []ItemRequest{{Slug: "mug", Quantity: 2}, {Slug: "tee", Quantity: 1}, {Slug: "mug", Quantity: 1}})
	require.NoError(t, err)

	assert.Equal(t, shop.OrderWaitingPayment, o.Status)
	assert.False(t, o.IsPaid)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, "Mug", o.Items[0].Name)
	assert.True(t, dec("57.50").Equal(o.Total()))

	// order creation never reserves stock
	assert.Equal(t, 5, s.StockOf("p1").Units)
	assert.Zero(t, s.StockOf("p1").UnitsHeld)

	require.Len(t, rec.Events(), 1)
	ev := rec.Events()[0]
	assert.Equal(t, shop.TopicOrderCreated, ev.Topic)
	assert.Equal(t, o.ID, ev.Key)
	assert.Equal(t, shop.EventOrderCreated, ev.Envelope.EventType)
}

func TestTotalUsesSnapshotPrice(t *testing.T) {
	ctx := context.Background()
	s, svc, _, _ := setup()

	o, err := svc.CreateOrder(ctx, "u1", []ItemRequest{{Slug: "mug", Quantity: 2}})
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetProductPrice(ctx, "p1", dec("99"))
	}))
	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(got.Total()))
}

func TestCreateOrderRejects(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemRequest
		want  []error
	}{
		{name: "empty", items: nil, want: []error{shop.ErrEmptyOrder, shop.ErrValidation}},
		{name: "zero quantity", items: []ItemRequest{{Slug: "mug"}}, want: []error{shop.ErrInvalidQuantity}},
		{name: "over max", items: []ItemRequest{{Slug: "mug", Quantity: 3}, {Slug: "mug", Quantity: 2}}, want: []error{shop.ErrInvalidQuantity}},
		{name: "unknown product", items: []ItemRequest{{Slug: "nope", Quantity: 1}}, want: []error{shop.ErrValidation}},
		{name: "more than stock", items: []ItemRequest{{Slug: "tee", Quantity: 2}}, want: []error{shop.ErrValidation, shop.ErrInsufficientStock}},
		{name: "unavailable", items: []ItemRequest{{Slug: "gone", Quantity: 1}}, want: []error{shop.ErrInsufficientStock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc, rec, _ := setup()
			_, err := svc.CreateOrder(context.Background(), "u1", tt.items)
			for _, w := range tt.want {
				require.ErrorIs(t, err, w)
			}
			assert.Empty(t, rec.Events())
		})
	}
}

func TestGetOrderReadsThroughAndInvalidates(t *testing.T) {
	ctx := context.Background()
	s, svc, _, c := setup()

	o, err := svc.CreateOrder(ctx, "u1", []ItemRequest{{Slug: "mug", Quantity: 1}})
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, c.Has(cache.OrderKey(o.ID)))

	// a committed change marks the key; flushing it drops the cached copy
	ctx2, tr := cache.Track(ctx)
	require.NoError(t, s.InTx(ctx2, func(ctx context.Context, tx store.Tx) error {
		o.Status = shop.OrderCancelled
		cache.Mark(ctx, cache.OrderKey(o.ID))
		return tx.SaveOrderStatus(ctx, o)
	}))
	tr.Flush(ctx, c, nil)
	assert.False(t, c.Has(cache.OrderKey(o.ID)))

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.OrderCancelled, got.Status)

	_, err = svc.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, shop.ErrNotFound)
}
