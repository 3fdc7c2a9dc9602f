// Package events is the outbound side of the domain events. Services publish
// only after their transaction has committed.
package events

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key []byte, env shop.Envelope) error
}

type nop struct{}

func (nop) PublishEvent(context.Context, string, []byte, shop.Envelope) error { return nil }

func Nop() Publisher { return nop{} }

// Published is one event captured by a Recorder.
type Published struct {
	Topic    string
	Key      string
	Envelope shop.Envelope
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) PublishEvent(_ context.Context, topic string, key []byte, env shop.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Key: string(key), Envelope: env})
	return nil
}

func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Envelope.EventType)
	}
	return out
}
