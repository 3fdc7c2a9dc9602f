// Package inventory owns the per-product unit counters.
//
// Every operation locks the stock row through the caller's transaction and
// must never be used outside one: two concurrent reservations on the same
// product serialize on that lock.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

type Repo interface {
	store.StockRepo
	store.ProductRepo
}

type Ledger struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLedger(m *metrics.Metrics, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{metrics: m, now: now}
}

func CanSell(st shop.Stock, qty int) bool { return st.Units >= qty }

// Reserve moves qty from Units to UnitsHeld.
func (l *Ledger) Reserve(ctx context.Context, tx Repo, productID string, qty int) (shop.Stock, error) {
	return l.apply(ctx, tx, "reserve", productID, qty, func(st *shop.Stock) error {
		if !CanSell(*st, qty) {
			return fmt.Errorf("%w: product %s has %d units, %d requested", shop.ErrInsufficientStock, productID, st.Units, qty)
		}
		st.Units -= qty
		st.UnitsHeld += qty
		return nil
	})
}

// ConfirmSale moves qty from UnitsHeld to UnitsSold.
func (l *Ledger) ConfirmSale(ctx context.Context, tx Repo, productID string, qty int) (shop.Stock, error) {
	return l.apply(ctx, tx, "confirm", productID, qty, func(st *shop.Stock) error {
		if st.UnitsHeld < qty {
			return heldUnderflow(productID, st.UnitsHeld, qty)
		}
		st.UnitsHeld -= qty
		st.UnitsSold += qty
		return nil
	})
}

// ReleaseHeld gives held units back to Units.
func (l *Ledger) ReleaseHeld(ctx context.Context, tx Repo, productID string, qty int) (shop.Stock, error) {
	return l.apply(ctx, tx, "release", productID, qty, func(st *shop.Stock) error {
		if st.UnitsHeld < qty {
			return heldUnderflow(productID, st.UnitsHeld, qty)
		}
		st.UnitsHeld -= qty
		st.Units += qty
		return nil
	})
}

// Restore gives sold units back to Units after a refund.
func (l *Ledger) Restore(ctx context.Context, tx Repo, productID string, qty int) (shop.Stock, error) {
	return l.apply(ctx, tx, "restore", productID, qty, func(st *shop.Stock) error {
		if st.UnitsSold < qty {
			return fmt.Errorf("%w: product %s has %d units sold, cannot restore %d", shop.ErrIntegrity, productID, st.UnitsSold, qty)
		}
		st.UnitsSold -= qty
		st.Units += qty
		return nil
	})
}

func heldUnderflow(productID string, held, qty int) error {
	return fmt.Errorf("%w: product %s has %d units held, cannot take %d", shop.ErrIntegrity, productID, held, qty)
}

func (l *Ledger) apply(ctx context.Context, tx Repo, op, productID string, qty int, mutate func(*shop.Stock) error) (st shop.Stock, err error) {
	defer func() { l.metrics.Stock(op, err) }()

	if qty <= 0 {
		return shop.Stock{}, fmt.Errorf("%w: %d", shop.ErrInvalidQuantity, qty)
	}
	st, err = tx.LockStock(ctx, productID)
	if err != nil {
		return shop.Stock{}, fmt.Errorf("inventory: lock stock %s: %w", productID, err)
	}
	if err = mutate(&st); err != nil {
		return st, err
	}
	st.Touch(l.now())
	if err = tx.SaveStock(ctx, st); err != nil {
		return st, fmt.Errorf("inventory: save stock %s: %w", productID, err)
	}
	if err = l.syncAvailability(ctx, tx, st); err != nil {
		return st, err
	}
	return st, nil
}

// syncAvailability keeps Product.IsAvailable equal to Units > 0.
func (l *Ledger) syncAvailability(ctx context.Context, tx Repo, st shop.Stock) error {
	p, err := tx.Product(ctx, st.ProductID)
	if err != nil {
		return fmt.Errorf("inventory: load product %s: %w", st.ProductID, err)
	}
	cache.Mark(ctx, cache.ProductKey(p.Slug))
	available := st.Units > 0
	if p.IsAvailable == available {
		return nil
	}
	if err := tx.SetProductAvailability(ctx, p.ID, available); err != nil {
		return fmt.Errorf("inventory: product availability %s: %w", p.ID, err)
	}
	return nil
}
