// Package cache is the read-through cache port the services invalidate after
// every committed mutation. Eviction policy belongs to the implementation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

const (
	KeyOrder        = "order:%s"
	KeyPayment      = "payment:%s"
	KeyUserOrders   = "orders:user:%s"
	KeyUserPayments = "payments:user:%s"
	KeyProduct      = "product:%s"
	KeyUser         = "user:%s"
	DefaultTTL      = 5 * time.Minute
)

func OrderKey(id string) string        { return fmt.Sprintf(KeyOrder, id) }
func PaymentKey(id string) string      { return fmt.Sprintf(KeyPayment, id) }
func UserOrdersKey(id string) string   { return fmt.Sprintf(KeyUserOrders, id) }
func UserPaymentsKey(id string) string { return fmt.Sprintf(KeyUserPayments, id) }
func ProductKey(slug string) string    { return fmt.Sprintf(KeyProduct, slug) }
func UserKey(id string) string         { return fmt.Sprintf(KeyUser, id) }

type nop struct{}

func (nop) Get(context.Context, string) ([]byte, error)               { return nil, ErrMiss }
func (nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nop) Invalidate(context.Context, ...string) error              { return nil }

// Nop never stores anything.
func Nop() Cache { return nop{} }

// Memory is a process-local Cache; expired entries are dropped on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value   []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Has reports whether key is currently stored.
func (m *Memory) Has(key string) bool {
	_, err := m.Get(context.Background(), key)
	return err == nil
}
