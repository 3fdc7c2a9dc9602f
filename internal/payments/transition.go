package payments

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
	"github.com/ariefcatur/go-realtime-payments/internal/telemetry"
)

// finish completes a pending payment: grants roles for role products,
// confirms the held stock and finalizes the order.
func (s *Service) finish(ctx context.Context, tx store.Tx, p shop.Payment, o shop.Order) (shop.Payment, shop.Order, error) {
	if p.Status != shop.PaymentPending {
		return p, o, fmt.Errorf("%w: %s -> %s", shop.ErrIllegalTransition, p.Status, shop.PaymentCompleted)
	}
	if o.Status != shop.OrderWaitingPayment {
		return p, o, fmt.Errorf("%w: order %s is %s", shop.ErrIllegalTransition, o.ID, o.Status)
	}
	for _, it := range byProduct(o.Items) {
		if _, err := s.inventory.ConfirmSale(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return p, o, err
		}
		product, err := tx.Product(ctx, it.ProductID)
		if err != nil {
			return p, o, fmt.Errorf("payments: load product %s: %w", it.ProductID, err)
		}
		if product.IsRole() {
			if _, err := s.roles.Grant(ctx, tx, p.CustomerID, product.RoleTypeID); err != nil {
				return p, o, err
			}
		}
	}

	now := s.now()
	p.Status = shop.PaymentCompleted
	p.Touch(now)
	if err := tx.SavePayment(ctx, p); err != nil {
		return p, o, fmt.Errorf("payments: save %s: %w", p.ID, err)
	}
	o.Status = shop.OrderFinalized
	o.IsPaid = true
	o.Touch(now)
	if err := tx.SaveOrderStatus(ctx, o); err != nil {
		return p, o, fmt.Errorf("payments: save order %s: %w", o.ID, err)
	}
	if _, err := s.balance.Record(ctx, tx, p.CustomerID, shop.HistoryPaymentSuccess,
		fmt.Sprintf("Payment of %s for order %s completed", p.Amount.StringFixed(2), o.ID), paymentLink(p.ID)); err != nil {
		return p, o, err
	}
	markPayment(ctx, p)
	return p, o, nil
}

// FinishSuccessfulPayment completes a pending payment once the gateway has
// confirmed it. If completing fails, the payment is moved to failed in a new
// transaction and the original error is returned.
func (s *Service) FinishSuccessfulPayment(ctx context.Context, paymentID string) (err error) {
	ctx, uc := telemetry.Start(ctx, "finish_payment", s.log, s.metrics, attribute.String("payment.id", paymentID))
	defer func() { uc.Done(err, zap.String("payment_id", paymentID)) }()

	ctx, tracker := cache.Track(ctx)
	var (
		p    shop.Payment
		from shop.PaymentStatus
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var (
			o   shop.Order
			err error
		)
		p, o, err = lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		from = p.Status
		p, _, err = s.finish(ctx, tx, p, o)
		return err
	})
	// from stays empty when the payment could not be loaded
	if from != "" {
		s.metrics.Transition(string(from), string(shop.PaymentCompleted), err)
	}
	if err == nil {
		tracker.Flush(ctx, s.cache, s.log)
		s.emitStatus(ctx, p, from)
		return nil
	}
	if from != shop.PaymentPending {
		return err
	}

	s.log.Warn("payment_finish_failed", zap.String("payment_id", paymentID), zap.Error(err))
	failed := shop.PaymentFailed
	if cerr := s.ProcessPaymentStatus(ctx, paymentID, &failed); cerr != nil {
		return errors.Join(err, cerr)
	}
	return fmt.Errorf("payments: finish %s: %w", paymentID, err)
}

// ProcessPaymentStatus moves a payment to newStatus, or to its default
// compensation when newStatus is nil (completed -> refunded, pending ->
// cancelled), and undoes the payment's effects on stock, promotion usage and
// balance. Only pending and completed payments can be processed.
func (s *Service) ProcessPaymentStatus(ctx context.Context, paymentID string, newStatus *shop.PaymentStatus) (err error) {
	ctx, uc := telemetry.Start(ctx, "process_payment_status", s.log, s.metrics, attribute.String("payment.id", paymentID))
	var from, to shop.PaymentStatus
	defer func() {
		uc.Done(err, zap.String("payment_id", paymentID), zap.String("from", string(from)), zap.String("status", string(to)))
	}()

	ctx, tracker := cache.Track(ctx)
	var p shop.Payment
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, o, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		from = cur.Status
		if to, err = target(cur.Status, newStatus); err != nil {
			return err
		}
		p, err = s.compensate(ctx, tx, cur, o, to)
		return err
	})
	if err != nil {
		if to == "" && newStatus != nil {
			to = *newStatus
		}
		s.metrics.Transition(string(from), string(to), err)
		return s.processingError(paymentID, to, err)
	}
	s.metrics.Transition(string(from), string(to), nil)
	tracker.Flush(ctx, s.cache, s.log)
	s.emitStatus(ctx, p, from)
	return nil
}

// target resolves the status a compensating transition moves to.
func target(from shop.PaymentStatus, requested *shop.PaymentStatus) (shop.PaymentStatus, error) {
	if requested == nil {
		to, ok := shop.DefaultCompensation(from)
		if !ok {
			return "", fmt.Errorf("%w: %s has no compensation", shop.ErrIllegalTransition, from)
		}
		return to, nil
	}
	// completing is FinishSuccessfulPayment's job
	if *requested == shop.PaymentCompleted || !shop.CanTransition(from, *requested) {
		return "", fmt.Errorf("%w: %s -> %s", shop.ErrIllegalTransition, from, *requested)
	}
	return *requested, nil
}

// compensate undoes a pending or completed payment and stores it as to.
// Held stock is released for a pending payment; sold stock is restored for a
// completed one, whose amount is also refunded to the balance.
func (s *Service) compensate(ctx context.Context, tx store.Tx, p shop.Payment, o shop.Order, to shop.PaymentStatus) (shop.Payment, error) {
	from := p.Status
	for _, it := range byProduct(o.Items) {
		var err error
		if from == shop.PaymentPending {
			_, err = s.inventory.ReleaseHeld(ctx, tx, it.ProductID, it.Quantity)
		} else {
			_, err = s.inventory.Restore(ctx, tx, it.ProductID, it.Quantity)
		}
		if err != nil {
			return p, err
		}
	}

	now := s.now()
	o.Status = shop.OrderCancelled
	o.IsPaid = false
	o.Touch(now)
	if err := tx.SaveOrderStatus(ctx, o); err != nil {
		return p, fmt.Errorf("payments: save order %s: %w", o.ID, err)
	}

	for _, pc := range byCode(p.Codes) {
		if err := s.promotions.RestoreUsage(ctx, tx, pc.CodeID, p.CustomerID); err != nil {
			return p, err
		}
	}

	p.Status = to
	p.Touch(now)
	if err := tx.SavePayment(ctx, p); err != nil {
		return p, fmt.Errorf("payments: save %s: %w", p.ID, err)
	}

	if to == shop.PaymentRefunded {
		if _, err := s.balance.RefundToBalance(ctx, tx, p.CustomerID, p.Amount, paymentLink(p.ID)); err != nil {
			return p, err
		}
	} else if _, err := s.balance.Record(ctx, tx, p.CustomerID, shop.HistoryPaymentFail,
		fmt.Sprintf("Payment for order %s %s", o.ID, to), paymentLink(p.ID)); err != nil {
		return p, err
	}
	markPayment(ctx, p)
	return p, nil
}

// processingError logs and wraps a failed compensation. Illegal transitions
// and unknown payments changed nothing and are returned as they are.
func (s *Service) processingError(paymentID string, to shop.PaymentStatus, err error) error {
	if isProgrammerError(err) {
		return err
	}
	s.log.Error("payment_processing_failed",
		zap.String("payment_id", paymentID),
		zap.String("status", string(to)),
		zap.Error(err))
	return &shop.ProcessingError{PaymentID: paymentID, Status: to, Err: err}
}

// DeletePayment soft-deletes a payment. A pending or completed payment is
// compensated first, in the same transaction.
func (s *Service) DeletePayment(ctx context.Context, paymentID string) (err error) {
	ctx, uc := telemetry.Start(ctx, "delete_payment", s.log, s.metrics, attribute.String("payment.id", paymentID))
	defer func() { uc.Done(err, zap.String("payment_id", paymentID)) }()

	ctx, tracker := cache.Track(ctx)
	var (
		p    shop.Payment
		from shop.PaymentStatus
		to   shop.PaymentStatus
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, o, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		p, from = cur, cur.Status
		if next, ok := shop.DefaultCompensation(cur.Status); ok {
			to = next
			if p, err = s.compensate(ctx, tx, cur, o, next); err != nil {
				return err
			}
		}
		now := s.now()
		p.DeletedAt = &now
		p.Touch(now)
		if err := tx.SavePayment(ctx, p); err != nil {
			return fmt.Errorf("payments: delete %s: %w", p.ID, err)
		}
		markPayment(ctx, p)
		return nil
	})
	if err != nil {
		return s.processingError(paymentID, to, err)
	}
	tracker.Flush(ctx, s.cache, s.log)
	if to != "" {
		s.metrics.Transition(string(from), string(to), nil)
		s.emitStatus(ctx, p, from)
	}
	return nil
}
