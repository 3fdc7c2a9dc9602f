package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-payments/internal/kafka"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

type call struct {
	op        string
	paymentID string
}

type fakePayments struct {
	calls []call
	err   error
}

func (f *fakePayments) FinishSuccessfulPayment(_ context.Context, id string) error {
	f.calls = append(f.calls, call{"finish", id})
	return f.err
}

func (f *fakePayments) ProcessPaymentStatus(_ context.Context, id string, s *shop.PaymentStatus) error {
	f.calls = append(f.calls, call{string(*s), id})
	return f.err
}

type fakeDedup struct{ seen map[string]bool }

func (d *fakeDedup) Claim(_ context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *fakeDedup) Release(_ context.Context, id string) error {
	delete(d.seen, id)
	return nil
}

func message(t *testing.T, eventType string, payload shop.GatewayResultPayload) (kafkago.Message, shop.Envelope) {
	t.Helper()
	env, err := shop.NewEnvelope(eventType, "gateway", "o1", payload)
	require.NoError(t, err)
	b, err := kafka.Encode(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}, env
}

func newHandler(err error) (*Handler, *fakePayments, *fakeDedup) {
	p := &fakePayments{err: err}
	d := &fakeDedup{seen: map[string]bool{}}
	return &Handler{Payments: p, Dedup: d}, p, d
}

func TestHandleOutcomes(t *testing.T) {
	ctx := context.Background()
	h, p, _ := newHandler(nil)

	ok, _ := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p1", Outcome: shop.GatewaySucceeded})
	failed, _ := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p2", Outcome: shop.GatewayFailed})
	require.NoError(t, h.Handle(ctx, ok))
	require.NoError(t, h.Handle(ctx, failed))

	assert.Equal(t, []call{{"finish", "p1"}, {"failed", "p2"}}, p.calls)
}

func TestHandleSkipsDuplicatesAndOtherEvents(t *testing.T) {
	ctx := context.Background()
	h, p, _ := newHandler(nil)

	m, _ := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p1", Outcome: shop.GatewaySucceeded})
	require.NoError(t, h.Handle(ctx, m))
	require.NoError(t, h.Handle(ctx, m))

	other, _ := message(t, shop.EventPaymentCreated, shop.GatewayResultPayload{PaymentID: "p9"})
	require.NoError(t, h.Handle(ctx, other))
	require.NoError(t, h.Handle(ctx, kafkago.Message{Value: []byte("not json")}))

	unknown, _ := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p3", Outcome: "maybe"})
	require.NoError(t, h.Handle(ctx, unknown))

	assert.Len(t, p.calls, 1)
}

func TestHandlePermanentErrorIsDropped(t *testing.T) {
	h, _, d := newHandler(fmt.Errorf("wrapped: %w", shop.ErrIllegalTransition))
	m, env := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p1", Outcome: shop.GatewaySucceeded})

	require.NoError(t, h.Handle(context.Background(), m))
	assert.True(t, d.seen[env.EventID])
}

func TestHandleTransientErrorIsRetried(t *testing.T) {
	boom := errors.New("connection reset")
	h, p, d := newHandler(boom)
	m, env := message(t, shop.EventGatewayResult, shop.GatewayResultPayload{PaymentID: "p1", Outcome: shop.GatewayFailed})

	err := h.Handle(context.Background(), m)
	require.ErrorIs(t, err, boom)
	assert.False(t, d.seen[env.EventID], "claim released for redelivery")

	p.err = nil
	require.NoError(t, h.Handle(context.Background(), m))
	assert.Len(t, p.calls, 2)
}
