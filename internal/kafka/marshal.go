package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

func Encode(env shop.Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.EventType, err)
	}
	return b, nil
}

func Decode(b []byte) (shop.Envelope, error) {
	var env shop.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return shop.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the event-specific payload.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
