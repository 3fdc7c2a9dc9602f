package promotion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

// Scheduler moves promotions through pending -> active -> expired and keeps
// the product price in step: changedPrice while active, originalPrice after.
type Scheduler struct {
	Store store.Store
	Cache cache.Cache
	Log   *zap.Logger
	Now   func() time.Time
}

// Refresh applies every due status change in one transaction and returns
// how many promotions changed.
func (s *Scheduler) Refresh(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, tracker := cache.Track(ctx)
	changed := 0
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changed = 0
		promos, err := tx.OpenPromotions(ctx)
		if err != nil {
			return fmt.Errorf("promotion: list open: %w", err)
		}
		for _, p := range promos {
			next := p.StatusAt(now)
			if next == p.Status {
				continue
			}
			if err := s.advance(ctx, tx, p, next, now); err != nil {
				return err
			}
			log.Info("promotion_status_changed",
				zap.String("promotion_id", p.ID),
				zap.String("product_id", p.ProductID),
				zap.String("from", string(p.Status)),
				zap.String("to", string(next)))
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	tracker.Flush(ctx, s.Cache, log)
	return changed, nil
}

func (s *Scheduler) advance(ctx context.Context, tx store.Tx, p shop.Promotion, next shop.PromotionStatus, now time.Time) error {
	product, err := tx.Product(ctx, p.ProductID)
	if err != nil {
		return fmt.Errorf("promotion %s: load product: %w", p.ID, err)
	}
	price := product.Price
	switch next {
	case shop.PromotionActive:
		price = p.ChangedPrice
	case shop.PromotionExpired:
		// A promotion that expired without ever activating never touched the price.
		if p.Status == shop.PromotionActive {
			price = p.OriginalPrice
		}
	}
	if !price.Equal(product.Price) {
		if err := tx.SetProductPrice(ctx, product.ID, price); err != nil {
			return fmt.Errorf("promotion %s: set price: %w", p.ID, err)
		}
		cache.Mark(ctx, cache.ProductKey(product.Slug))
	}
	p.Status = next
	p.Touch(now)
	if err := tx.SavePromotion(ctx, p); err != nil {
		return fmt.Errorf("promotion %s: save: %w", p.ID, err)
	}
	return nil
}
