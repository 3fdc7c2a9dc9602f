package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/memory"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

func seed(units int) *memory.Store {
	s := memory.New()
	s.AddProduct(shop.Product{ID: "p1", Slug: "mug", Name: "Mug", Price: decimal.NewFromInt(10)}, units)
	return s
}

func TestReserveConfirmReleaseRestore(t *testing.T) {
	ctx := context.Background()
	s := seed(5)
	l := NewLedger(nil, nil)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "p1", 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, shop.Stock{ProductID: "p1", Units: 2, UnitsHeld: 3}, strip(s.StockOf("p1")))

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.ConfirmSale(ctx, tx, "p1", 2); err != nil {
			return err
		}
		_, err := l.ReleaseHeld(ctx, tx, "p1", 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, shop.Stock{ProductID: "p1", Units: 3, UnitsHeld: 0, UnitsSold: 2}, strip(s.StockOf("p1")))

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Restore(ctx, tx, "p1", 2)
		return err
	})
	require.NoError(t, err)
	st := s.StockOf("p1")
	assert.Equal(t, 5, st.Units)
	assert.Equal(t, 5, st.Total())
}

func TestReserveInsufficientStockRollsBack(t *testing.T) {
	ctx := context.Background()
	s := seed(1)
	l := NewLedger(nil, nil)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "p1", 2)
		return err
	})
	require.ErrorIs(t, err, shop.ErrInsufficientStock)
	assert.Equal(t, 1, s.StockOf("p1").Units)
	assert.Equal(t, 0, s.StockOf("p1").UnitsHeld)
}

func TestHeldUnderflowIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	s := seed(3)
	l := NewLedger(nil, nil)

	for name, op := range map[string]func(context.Context, Repo, string, int) (shop.Stock, error){
		"confirm": l.ConfirmSale,
		"release": l.ReleaseHeld,
		"restore": l.Restore,
	} {
		t.Run(name, func(t *testing.T) {
			err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := op(ctx, tx, "p1", 1)
				return err
			})
			require.ErrorIs(t, err, shop.ErrIntegrity)
			assert.Equal(t, 3, s.StockOf("p1").Units)
		})
	}
}

func TestInvalidQuantity(t *testing.T) {
	s := seed(3)
	l := NewLedger(nil, nil)
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "p1", 0)
		return err
	})
	require.ErrorIs(t, err, shop.ErrValidation)
}

func TestAvailabilityFollowsUnits(t *testing.T) {
	ctx := context.Background()
	s := seed(1)
	l := NewLedger(nil, nil)

	ctx, tr := cache.Track(ctx)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, "p1", 1)
		return err
	}))
	assert.False(t, s.ProductByID("p1").IsAvailable)
	assert.Equal(t, []string{cache.ProductKey("mug")}, tr.Keys())

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.ReleaseHeld(ctx, tx, "p1", 1)
		return err
	}))
	assert.True(t, s.ProductByID("p1").IsAvailable)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	const initial = 10
	ctx := context.Background()
	s := seed(initial)
	l := NewLedger(nil, nil)

	var ok, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := l.Reserve(ctx, tx, "p1", 1)
				return err
			})
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, shop.ErrInsufficientStock):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, initial, ok)
	assert.EqualValues(t, 40, rejected)
	st := s.StockOf("p1")
	assert.Equal(t, 0, st.Units)
	assert.Equal(t, initial, st.UnitsHeld)
	assert.Equal(t, initial, st.Total())
}

func strip(st shop.Stock) shop.Stock {
	st.Auditable = shop.Auditable{}
	return st
}
