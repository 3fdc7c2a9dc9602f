package shop

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventPaymentCreated   = "PaymentCreated"
	EventPaymentCompleted = "PaymentCompleted"
	EventPaymentCancelled = "PaymentCancelled"
	EventPaymentFailed    = "PaymentFailed"
	EventPaymentRefunded  = "PaymentRefunded"
	EventGatewayResult    = "GatewayResult"
)

const (
	TopicOrderCreated   = "order.created"
	TopicPaymentCreated = "payment.created"
	TopicPaymentStatus  = "payment.status"
	TopicGatewayResult  = "payment.gateway.result"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds a v1 envelope around payload.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Items      []Item          `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

type PaymentStatusPayload struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	From      PaymentStatus   `json:"from,omitempty"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
}

const (
	GatewaySucceeded = "succeeded"
	GatewayFailed    = "failed"
)

// GatewayResultPayload is what an external payment gateway reports back.
type GatewayResultPayload struct {
	PaymentID string `json:"payment_id"`
	Outcome   string `json:"outcome"`
	Reference string `json:"reference,omitempty"`
}
