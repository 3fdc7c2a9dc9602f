package balance

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/memory"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func withUser(balance string) *memory.Store {
	s := memory.New()
	s.AddUser(shop.User{ID: "u1", Username: "ana", Balance: dec(balance)})
	return s
}

func TestPayWithBalanceExact(t *testing.T) {
	s := withUser("50.00")
	l := NewLedger(nil)

	ctx, tr := cache.Track(context.Background())
	var res Result
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = l.PayWithBalance(ctx, tx, "u1", dec("50.00"), "/payments/p1")
		return err
	}))

	assert.True(t, res.Paid)
	assert.Equal(t, shop.HistoryBalance, res.History.Type)
	assert.Equal(t, "/payments/p1", res.History.Link)
	assert.True(t, s.UserByID("u1").Balance.IsZero())
	assert.Len(t, s.Histories("u1"), 1)
	assert.Equal(t, []string{cache.UserKey("u1")}, tr.Keys())
}

func TestPayWithBalanceInsufficientDebitsNothing(t *testing.T) {
	s := withUser("20")
	l := NewLedger(nil)

	var res Result
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = l.PayWithBalance(ctx, tx, "u1", dec("25"), "")
		return err
	}))

	assert.False(t, res.Paid)
	assert.True(t, dec("20").Equal(res.Balance))
	assert.True(t, dec("20").Equal(s.UserByID("u1").Balance))
	assert.Empty(t, s.Histories("u1"))
}

func TestRefundToBalance(t *testing.T) {
	s := withUser("5")
	l := NewLedger(nil)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		h, err := l.RefundToBalance(ctx, tx, "u1", dec("7.50"), "")
		assert.Equal(t, shop.HistoryRefund, h.Type)
		return err
	}))
	assert.True(t, dec("12.50").Equal(s.UserByID("u1").Balance))
}

func TestUnknownUserIsNotFound(t *testing.T) {
	s := memory.New()
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := NewLedger(nil).RefundToBalance(ctx, tx, "ghost", dec("1"), "")
		return err
	})
	require.ErrorIs(t, err, shop.ErrNotFound)
}

func TestNegativeAmountRejected(t *testing.T) {
	s := withUser("5")
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := NewLedger(nil).PayWithBalance(ctx, tx, "u1", dec("-1"), "")
		return err
	})
	require.ErrorIs(t, err, shop.ErrValidation)
}

func TestConcurrentPaymentsNeverDoubleSpend(t *testing.T) {
	s := withUser("100")
	l := NewLedger(nil)

	var (
		mu    sync.Mutex
		spent = decimal.Zero
		wg    sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var res Result
			err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				var err error
				res, err = l.PayWithBalance(ctx, tx, "u1", dec("15"), "")
				return err
			})
			if err != nil {
				t.Errorf("pay: %v", err)
				return
			}
			if res.Paid {
				mu.Lock()
				spent = spent.Add(dec("15"))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.True(t, dec("90").Equal(spent), "spent %s", spent)
	assert.True(t, dec("10").Equal(s.UserByID("u1").Balance))
	assert.Len(t, s.Histories("u1"), 6)
}
