package events

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

// Emit wraps payload in an envelope and publishes it. The state change it
// reports is already committed, so failures are only logged.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, topic, eventType, producer, orderID string, payload any) {
	if p == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	env, err := shop.NewEnvelope(eventType, producer, orderID, payload)
	if err != nil {
		log.Warn("event_encode_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	if err := p.PublishEvent(ctx, topic, shop.PartitionKey(orderID), env); err != nil {
		log.Warn("event_publish_failed",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
