// Package orders turns a checkout request into an order snapshot. Stock is
// only checked here; it is reserved when the order is paid.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/events"
	"github.com/ariefcatur/go-realtime-payments/internal/inventory"
	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
	"github.com/ariefcatur/go-realtime-payments/internal/telemetry"
)

const DefaultMaxItemQuantity = 10

type ItemRequest struct {
	Slug     string `json:"slug"`
	Quantity int    `json:"quantity"`
}

type Service struct {
	Store           store.Store
	Cache           cache.Cache
	CacheTTL        time.Duration
	Events          events.Publisher
	Log             *zap.Logger
	Metrics         *metrics.Metrics
	MaxItemQuantity int
	ServiceName     string
	Now             func() time.Time
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) maxQuantity() int {
	if s.MaxItemQuantity > 0 {
		return s.MaxItemQuantity
	}
	return DefaultMaxItemQuantity
}

func (s *Service) ttl() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return cache.DefaultTTL
}

// CreateOrder snapshots name, slug and price of every requested product into
// a new order waiting for payment. Repeated slugs are merged.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []ItemRequest) (o shop.Order, err error) {
	ctx, uc := telemetry.Start(ctx, "create_order", s.log(), s.Metrics,
		attribute.String("user.id", userID), attribute.Int("order.lines", len(items)))
	defer func() { uc.Done(err, zap.String("user_id", userID), zap.String("order_id", o.ID)) }()

	lines, err := s.normalize(items)
	if err != nil {
		return shop.Order{}, err
	}

	ctx, tracker := cache.Track(ctx)
	err = s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.now()
		o = shop.Order{
			ID:         uuid.NewString(),
			CustomerID: userID,
			Status:     shop.OrderWaitingPayment,
		}
		o.Touch(now)
		for _, l := range lines {
			it, err := snapshot(ctx, tx, l)
			if err != nil {
				return err
			}
			o.Items = append(o.Items, it)
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("orders: insert: %w", err)
		}
		cache.Mark(ctx, cache.UserOrdersKey(userID))
		return nil
	})
	if err != nil {
		return shop.Order{}, err
	}
	tracker.Flush(ctx, s.Cache, s.log())

	events.Emit(ctx, s.Events, s.log(), shop.TopicOrderCreated, shop.EventOrderCreated, s.ServiceName, o.ID,
		shop.OrderCreatedPayload{OrderID: o.ID, CustomerID: userID, Items: o.Items, Total: o.Total()})
	return o, nil
}

func (s *Service) normalize(items []ItemRequest) ([]ItemRequest, error) {
	if len(items) == 0 {
		return nil, shop.ErrEmptyOrder
	}
	idx := map[string]int{}
	var out []ItemRequest
	for _, it := range items {
		if it.Slug == "" {
			return nil, fmt.Errorf("%w: item without product", shop.ErrValidation)
		}
		if it.Quantity < 1 {
			return nil, fmt.Errorf("%w: %s x%d", shop.ErrInvalidQuantity, it.Slug, it.Quantity)
		}
		if i, ok := idx[it.Slug]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.Slug] = len(out)
		out = append(out, it)
	}
	for _, it := range out {
		if it.Quantity > s.maxQuantity() {
			return nil, fmt.Errorf("%w: %s x%d exceeds %d", shop.ErrInvalidQuantity, it.Slug, it.Quantity, s.maxQuantity())
		}
	}
	return out, nil
}

func snapshot(ctx context.Context, tx store.Tx, l ItemRequest) (shop.Item, error) {
	p, err := tx.ProductBySlug(ctx, l.Slug)
	if errors.Is(err, shop.ErrNotFound) {
		return shop.Item{}, fmt.Errorf("%w: product %q does not exist", shop.ErrValidation, l.Slug)
	}
	if err != nil {
		return shop.Item{}, fmt.Errorf("orders: load product %s: %w", l.Slug, err)
	}
	st, err := tx.Stock(ctx, p.ID)
	if err != nil {
		return shop.Item{}, fmt.Errorf("orders: load stock %s: %w", l.Slug, err)
	}
	if !p.IsAvailable || !inventory.CanSell(st, l.Quantity) {
		return shop.Item{}, fmt.Errorf("%w: %w: %s has %d units, %d requested",
			shop.ErrValidation, shop.ErrInsufficientStock, l.Slug, st.Units, l.Quantity)
	}
	return shop.Item{
		ProductID: p.ID,
		Name:      p.Name,
		Slug:      p.Slug,
		Price:     p.Price,
		Quantity:  l.Quantity,
	}, nil
}

// GetOrder serves the committed order through the read-through cache.
func (s *Service) GetOrder(ctx context.Context, id string) (shop.Order, error) {
	return cache.ReadThrough(ctx, s.Cache, s.log(), cache.OrderKey(id), s.ttl(), func(ctx context.Context) (shop.Order, error) {
		return s.Store.Order(ctx, id)
	})
}
