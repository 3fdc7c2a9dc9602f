package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/events"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
	"github.com/ariefcatur/go-realtime-payments/internal/telemetry"
)

// CreatePayment prices the order with the given codes, reserves its stock,
// counts the code usage and tries to settle the amount from the user's
// balance. Everything happens in one transaction: on any error no payment,
// reservation or usage is left behind. A payment the balance fully covers
// is completed before returning; otherwise it stays pending for an external
// gateway.
func (s *Service) CreatePayment(ctx context.Context, userID, orderID string, method shop.PaymentMethod, codes []string) (p shop.Payment, err error) {
	ctx, uc := telemetry.Start(ctx, "create_payment", s.log, s.metrics,
		attribute.String("user.id", userID),
		attribute.String("order.id", orderID),
		attribute.String("payment.method", string(method)),
		attribute.Int("payment.codes", len(codes)))
	defer func() {
		s.metrics.PaymentCreated(string(method), err)
		uc.Set(attribute.String("payment.status", string(p.Status)))
		uc.Done(err,
			zap.String("order_id", orderID),
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.String("amount", p.Amount.StringFixed(2)))
	}()

	if !method.Valid() {
		return shop.Payment{}, fmt.Errorf("%w: %q", shop.ErrInvalidMethod, method)
	}
	if err := uniqueCodes(codes); err != nil {
		return shop.Payment{}, err
	}

	ctx, tracker := cache.Track(ctx)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = s.create(ctx, tx, userID, orderID, method, codes)
		return err
	})
	if err != nil {
		return shop.Payment{}, err
	}
	tracker.Flush(ctx, s.cache, s.log)

	events.Emit(ctx, s.events, s.log, shop.TopicPaymentCreated, shop.EventPaymentCreated, s.ServiceName, p.OrderID,
		shop.PaymentStatusPayload{PaymentID: p.ID, OrderID: p.OrderID, Status: shop.PaymentPending, Amount: p.Amount, Method: p.Method})
	if p.Status == shop.PaymentCompleted {
		s.emitStatus(ctx, p, shop.PaymentPending)
	}
	return p, nil
}

func uniqueCodes(codes []string) error {
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			return fmt.Errorf("%w: %s", shop.ErrDuplicateCode, c)
		}
		seen[c] = true
	}
	return nil
}

func (s *Service) create(ctx context.Context, tx store.Tx, userID, orderID string, method shop.PaymentMethod, codes []string) (shop.Payment, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return shop.Payment{}, fmt.Errorf("payments: lock order %s: %w", orderID, err)
	}
	if o.CustomerID != userID {
		return shop.Payment{}, fmt.Errorf("order %s: %w", orderID, shop.ErrNotFound)
	}
	if o.IsPaid {
		return shop.Payment{}, shop.ErrOrderPaid
	}
	if o.Status == shop.OrderCancelled {
		return shop.Payment{}, shop.ErrOrderCancelled
	}
	if len(o.Items) == 0 {
		return shop.Payment{}, shop.ErrEmptyOrder
	}
	switch live, err := tx.LivePaymentForOrder(ctx, o.ID); {
	case err == nil:
		return shop.Payment{}, fmt.Errorf("%w: %s is %s", shop.ErrOrderHasPayment, live.ID, live.Status)
	case !errors.Is(err, shop.ErrNotFound):
		return shop.Payment{}, fmt.Errorf("payments: live payment of %s: %w", o.ID, err)
	}

	now := s.now()
	total := o.Total()
	p := shop.Payment{
		ID:         uuid.NewString(),
		CustomerID: userID,
		OrderID:    o.ID,
		Method:     method,
		Amount:     total,
		Status:     shop.PaymentPending,
	}
	p.Touch(now)
	if err := tx.InsertPayment(ctx, p); err != nil {
		return shop.Payment{}, fmt.Errorf("payments: insert: %w", err)
	}
	markPayment(ctx, p)

	items := byProduct(o.Items)
	for _, it := range items {
		if err := s.promotions.CheckCurrent(ctx, tx, it.ProductID); err != nil {
			return shop.Payment{}, fmt.Errorf("product %s: %w", it.Slug, err)
		}
	}

	for _, code := range codes {
		discount, pc, err := s.applyCode(ctx, tx, p, items, code)
		if err != nil {
			return shop.Payment{}, err
		}
		total = total.Sub(discount)
		p.Codes = append(p.Codes, pc)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	for _, it := range items {
		if _, err := s.inventory.Reserve(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return shop.Payment{}, err
		}
	}

	for _, pc := range byCode(p.Codes) {
		if err := s.promotions.IncrementUsage(ctx, tx, pc.CodeID, userID); err != nil {
			return shop.Payment{}, err
		}
	}

	p.Amount = total
	if _, err := s.balance.Record(ctx, tx, userID, shop.HistoryPaymentCreate,
		fmt.Sprintf("Payment created for order %s, %s due", o.ID, total.StringFixed(2)), paymentLink(p.ID)); err != nil {
		return shop.Payment{}, err
	}

	res, err := s.balance.PayWithBalance(ctx, tx, userID, total, paymentLink(p.ID))
	if err != nil {
		return shop.Payment{}, err
	}
	if !res.Paid && method == shop.MethodBalance {
		return shop.Payment{}, fmt.Errorf("%w: %s available, %s due", shop.ErrBalanceTooLow, res.Balance.StringFixed(2), total.StringFixed(2))
	}
	if err := tx.SavePayment(ctx, p); err != nil {
		return shop.Payment{}, fmt.Errorf("payments: save %s: %w", p.ID, err)
	}
	if res.Paid {
		if p, _, err = s.finish(ctx, tx, p, o); err != nil {
			return shop.Payment{}, err
		}
	}
	return p, nil
}

// applyCode validates code and returns the discount it gives the order. A
// code scoped away from an item skips that item; a code that fits no item
// at all is rejected.
func (s *Service) applyCode(ctx context.Context, tx store.Tx, p shop.Payment, items []shop.Item, code string) (decimal.Decimal, shop.PaymentCode, error) {
	c, err := s.promotions.Lookup(ctx, tx, code)
	if err != nil {
		return decimal.Zero, shop.PaymentCode{}, err
	}
	if err := s.promotions.IsValid(ctx, tx, c, p.CustomerID); err != nil {
		return decimal.Zero, shop.PaymentCode{}, err
	}

	discount := decimal.Zero
	applied := false
	for _, it := range items {
		product, err := tx.Product(ctx, it.ProductID)
		if err != nil {
			return decimal.Zero, shop.PaymentCode{}, fmt.Errorf("payments: load product %s: %w", it.ProductID, err)
		}
		price, err := s.promotions.ApplyDiscount(ctx, tx, c, product, it.Price)
		if errors.Is(err, shop.ErrCodeNotApplicable) {
			continue
		}
		if err != nil {
			return decimal.Zero, shop.PaymentCode{}, err
		}
		discount = discount.Add(it.Price.Sub(price).Mul(decimal.NewFromInt(int64(it.Quantity))))
		applied = true
	}
	if !applied {
		return decimal.Zero, shop.PaymentCode{}, fmt.Errorf("%w: %s fits no item of the order", shop.ErrCodeNotApplicable, code)
	}

	pc := shop.PaymentCode{PaymentID: p.ID, CodeID: c.ID, Code: c.Code, AppliedAt: s.now()}
	if err := tx.LinkPromotionCode(ctx, pc); err != nil {
		return decimal.Zero, shop.PaymentCode{}, fmt.Errorf("payments: link code %s: %w", code, err)
	}
	return discount, pc, nil
}
