// Package gateway applies payment results reported by external gateways.
package gateway

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/kafka"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

type Payments interface {
	FinishSuccessfulPayment(ctx context.Context, paymentID string) error
	ProcessPaymentStatus(ctx context.Context, paymentID string, newStatus *shop.PaymentStatus) error
}

type Dedup interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Handler struct {
	Payments Payments
	Dedup    Dedup
	Log      *zap.Logger
}

// Handle is a kafka.Handler for the gateway result topic. It returns an
// error only when the message should be redelivered.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	env, err := kafka.Decode(m.Value)
	if err != nil {
		log.Error("gateway_bad_message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != shop.EventGatewayResult {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID))

	first, err := h.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug("gateway_duplicate")
		return nil
	}

	res, err := kafka.UnwrapPayload[shop.GatewayResultPayload](env.Payload)
	if err != nil {
		log.Error("gateway_bad_payload", zap.Error(err))
		return nil
	}
	log = log.With(zap.String("payment_id", res.PaymentID), zap.String("outcome", res.Outcome))

	switch res.Outcome {
	case shop.GatewaySucceeded:
		err = h.Payments.FinishSuccessfulPayment(ctx, res.PaymentID)
	case shop.GatewayFailed:
		failed := shop.PaymentFailed
		err = h.Payments.ProcessPaymentStatus(ctx, res.PaymentID, &failed)
	default:
		log.Error("gateway_unknown_outcome")
		return nil
	}

	switch {
	case err == nil:
		log.Info("gateway_result_applied", zap.String("reference", res.Reference))
		return nil
	case permanent(err):
		log.Warn("gateway_result_rejected", zap.Error(err))
		return nil
	}
	if rerr := h.Dedup.Release(ctx, env.EventID); rerr != nil {
		log.Warn("gateway_dedup_release_failed", zap.Error(rerr))
	}
	return fmt.Errorf("gateway result %s: %w", env.EventID, err)
}

// permanent errors would fail the same way on redelivery.
func permanent(err error) bool {
	return errors.Is(err, shop.ErrIllegalTransition) ||
		errors.Is(err, shop.ErrNotFound) ||
		errors.Is(err, shop.ErrValidation)
}
