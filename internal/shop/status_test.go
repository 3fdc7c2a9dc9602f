package shop

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []PaymentStatus{PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded, PaymentCancelled}
	allowed := map[[2]PaymentStatus]bool{
		{PaymentPending, PaymentCompleted}:  true,
		{PaymentPending, PaymentCancelled}:  true,
		{PaymentPending, PaymentFailed}:     true,
		{PaymentCompleted, PaymentRefunded}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]PaymentStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestDefaultCompensation(t *testing.T) {
	to, ok := DefaultCompensation(PaymentCompleted)
	assert.True(t, ok)
	assert.Equal(t, PaymentRefunded, to)

	to, ok = DefaultCompensation(PaymentPending)
	assert.True(t, ok)
	assert.Equal(t, PaymentCancelled, to)

	for _, s := range []PaymentStatus{PaymentFailed, PaymentRefunded, PaymentCancelled} {
		_, ok := DefaultCompensation(s)
		assert.False(t, ok, s)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrCodeExhausted, ErrValidation)
	assert.ErrorIs(t, ErrPaymentDeleted, ErrNotFound)

	cause := fmt.Errorf("stock: %w", ErrIntegrity)
	var err error = &ProcessingError{PaymentID: "p1", Status: PaymentRefunded, Err: cause}
	assert.ErrorIs(t, err, ErrPaymentProcessing)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "p1 -> refunded")
}
