package shop

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrIllegalTransition = errors.New("illegal payment status transition")
	ErrPaymentProcessing = errors.New("payment processing failed")
	// ErrIntegrity marks counters that would go negative. It is never retried.
	ErrIntegrity = errors.New("data integrity violation")
)

var (
	ErrEmptyOrder        = fmt.Errorf("%w: order has no items", ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: invalid payment amount", ErrValidation)
	ErrInvalidMethod     = fmt.Errorf("%w: unknown payment method", ErrValidation)
	ErrOrderPaid         = fmt.Errorf("%w: order is already paid", ErrValidation)
	ErrOrderCancelled    = fmt.Errorf("%w: order is cancelled", ErrValidation)
	ErrOrderHasPayment   = fmt.Errorf("%w: order already has a pending or completed payment", ErrValidation)
	ErrStalePromotion    = fmt.Errorf("%w: product promotion is out of date, create another order", ErrValidation)
	ErrCodeDisabled      = fmt.Errorf("%w: promotion code is disabled", ErrValidation)
	ErrCodeNotStarted    = fmt.Errorf("%w: promotion code is not valid yet", ErrValidation)
	ErrCodeExpired       = fmt.Errorf("%w: promotion code has expired", ErrValidation)
	ErrCodeExhausted     = fmt.Errorf("%w: promotion code usage limit reached", ErrValidation)
	ErrCodeUserLimit     = fmt.Errorf("%w: promotion code already used by this user", ErrValidation)
	ErrCodeNotApplicable = fmt.Errorf("%w: promotion code does not apply to product", ErrValidation)
	ErrCodeNotStackable  = fmt.Errorf("%w: promotion code cannot be combined with an active promotion", ErrValidation)
	ErrDuplicateCode     = fmt.Errorf("%w: promotion code applied twice", ErrValidation)
	ErrBalanceTooLow     = fmt.Errorf("%w: balance does not cover the payment", ErrValidation)
	ErrPaymentDeleted    = fmt.Errorf("payment deleted: %w", ErrNotFound)
)

// ProcessingError wraps a failure raised while settling a payment.
type ProcessingError struct {
	PaymentID string
	Status    PaymentStatus
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("payment %s -> %s: %v", e.PaymentID, e.Status, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrPaymentProcessing }
