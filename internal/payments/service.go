// Package payments drives a payment through its state machine and applies
// the matching stock, promotion and balance changes in the same transaction.
//
//	pending -> completed | cancelled | failed
//	completed -> refunded
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/balance"
	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/events"
	"github.com/ariefcatur/go-realtime-payments/internal/inventory"
	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
	"github.com/ariefcatur/go-realtime-payments/internal/promotion"
	"github.com/ariefcatur/go-realtime-payments/internal/roles"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

type Service struct {
	store      store.Store
	cache      cache.Cache
	events     events.Publisher
	log        *zap.Logger
	metrics    *metrics.Metrics
	inventory  *inventory.Ledger
	promotions *promotion.Engine
	balance    *balance.Ledger
	roles      *roles.Service

	ServiceName string
	CacheTTL    time.Duration
	Now         func() time.Time
}

func New(st store.Store, c cache.Cache, pub events.Publisher, log *zap.Logger, m *metrics.Metrics) *Service {
	if c == nil {
		c = cache.Nop()
	}
	if pub == nil {
		pub = events.Nop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:       st,
		cache:       c,
		events:      pub,
		log:         log,
		metrics:     m,
		ServiceName: "payments",
		CacheTTL:    cache.DefaultTTL,
	}
	// s.now reads s.Now on every call, so a clock set after New still applies.
	s.inventory = inventory.NewLedger(m, s.now)
	s.promotions = promotion.NewEngine(m, s.now)
	s.balance = balance.NewLedger(s.now)
	s.roles = &roles.Service{Store: st, Cache: c, Log: log, Now: s.now}
	return s
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// GetPayment serves the committed payment through the read-through cache.
func (s *Service) GetPayment(ctx context.Context, id string) (shop.Payment, error) {
	return cache.ReadThrough(ctx, s.cache, s.log, cache.PaymentKey(id), s.CacheTTL, func(ctx context.Context) (shop.Payment, error) {
		p, err := s.store.Payment(ctx, id)
		if err != nil {
			return shop.Payment{}, err
		}
		if p.DeletedAt != nil {
			return shop.Payment{}, fmt.Errorf("payment %s: %w", id, shop.ErrPaymentDeleted)
		}
		return p, nil
	})
}

// lockPayment loads a live payment and its order under lock.
func lockPayment(ctx context.Context, tx store.Tx, id string) (shop.Payment, shop.Order, error) {
	p, err := tx.LockPayment(ctx, id)
	if err != nil {
		return shop.Payment{}, shop.Order{}, fmt.Errorf("payments: lock payment %s: %w", id, err)
	}
	if p.DeletedAt != nil {
		return shop.Payment{}, shop.Order{}, fmt.Errorf("payment %s: %w", id, shop.ErrPaymentDeleted)
	}
	o, err := tx.LockOrder(ctx, p.OrderID)
	if err != nil {
		return shop.Payment{}, shop.Order{}, fmt.Errorf("payments: lock order %s: %w", p.OrderID, err)
	}
	return p, o, nil
}

// byProduct returns items sorted by product so stock rows are always locked
// in the same order.
func byProduct(items []shop.Item) []shop.Item {
	out := append([]shop.Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func byCode(codes []shop.PaymentCode) []shop.PaymentCode {
	out := append([]shop.PaymentCode(nil), codes...)
	sort.Slice(out, func(i, j int) bool { return out[i].CodeID < out[j].CodeID })
	return out
}

func markPayment(ctx context.Context, p shop.Payment) {
	cache.Mark(ctx,
		cache.PaymentKey(p.ID),
		cache.UserPaymentsKey(p.CustomerID),
		cache.OrderKey(p.OrderID),
		cache.UserOrdersKey(p.CustomerID))
}

func paymentLink(id string) string { return "/payments/" + id }

var statusEvent = map[shop.PaymentStatus]string{
	shop.PaymentCompleted: shop.EventPaymentCompleted,
	shop.PaymentCancelled: shop.EventPaymentCancelled,
	shop.PaymentFailed:    shop.EventPaymentFailed,
	shop.PaymentRefunded:  shop.EventPaymentRefunded,
}

func (s *Service) emitStatus(ctx context.Context, p shop.Payment, from shop.PaymentStatus) {
	events.Emit(ctx, s.events, s.log, shop.TopicPaymentStatus, statusEvent[p.Status], s.ServiceName, p.OrderID,
		shop.PaymentStatusPayload{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			From:      from,
			Status:    p.Status,
			Amount:    p.Amount,
			Method:    p.Method,
		})
}

// isProgrammerError reports failures that mean the call itself was wrong:
// they leave nothing to compensate and are surfaced unchanged.
func isProgrammerError(err error) bool {
	return errors.Is(err, shop.ErrIllegalTransition) || errors.Is(err, shop.ErrNotFound)
}
