package promotion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-payments/internal/memory"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func tenPercent() shop.PromotionCode {
	return shop.PromotionCode{
		ID: "c1", Code: "TEN", DiscountPercentage: pct("10"),
		UsageLimit: 1, UserUsageLimit: 1, Enabled: true,
	}
}

func newEngine() *Engine {
	return NewEngine(nil, func() time.Time { return now })
}

func inTx(t *testing.T, s *memory.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	return s.InTx(context.Background(), fn)
}

func TestIsValid(t *testing.T) {
	before, after := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*shop.PromotionCode)
		used   int
		want   error
	}{
		{name: "ok", mutate: func(*shop.PromotionCode) {}},
		{name: "disabled", mutate: func(c *shop.PromotionCode) { c.Enabled = false }, want: shop.ErrCodeDisabled},
		{name: "not started", mutate: func(c *shop.PromotionCode) { c.StartAt = &after }, want: shop.ErrCodeNotStarted},
		{name: "expired", mutate: func(c *shop.PromotionCode) { c.ExpiresAt = &before }, want: shop.ErrCodeExpired},
		{name: "exhausted", mutate: func(c *shop.PromotionCode) { c.UsageCount = 1 }, want: shop.ErrCodeExhausted},
		{name: "user limit", mutate: func(c *shop.PromotionCode) { c.UsageLimit = 5 }, used: 1, want: shop.ErrCodeUserLimit},
		{name: "inside window", mutate: func(c *shop.PromotionCode) { c.StartAt, c.ExpiresAt = &before, &after }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			c := tenPercent()
			tt.mutate(&c)
			s.AddPromotionCode(c)
			e := newEngine()
			if tt.used > 0 {
				require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
					return tx.SaveCodeUsage(ctx, shop.CodeUsage{UserID: "u1", CodeID: c.ID, Count: tt.used})
				}))
			}
			err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
				return e.IsValid(ctx, tx, c, "u1")
			})
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, shop.ErrValidation)
		})
	}
}

func TestLookupUnknownCode(t *testing.T) {
	s := memory.New()
	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := newEngine().Lookup(ctx, tx, "NOPE")
		return err
	})
	require.ErrorIs(t, err, shop.ErrValidation)
}

func TestDiscount(t *testing.T) {
	mug := shop.Product{ID: "p1", Slug: "mug"}
	vip := shop.Product{ID: "p2", Slug: "vip", RoleTypeID: "rt1"}

	tests := []struct {
		name     string
		code     shop.PromotionCode
		product  shop.Product
		price    string
		promoted bool
		want     string
		err      error
	}{
		{name: "percentage", code: tenPercent(), product: mug, price: "100.00", want: "90"},
		{name: "amount", code: shop.PromotionCode{DiscountAmount: pct("15")}, product: mug, price: "40", want: "25"},
		{name: "amount floors at zero", code: shop.PromotionCode{DiscountAmount: pct("50")}, product: mug, price: "40", want: "0"},
		{name: "percentage rounds to cents", code: shop.PromotionCode{DiscountPercentage: pct("33")}, product: mug, price: "9.99", want: "6.69"},
		{name: "other product", code: shop.PromotionCode{ProductID: "p9", DiscountAmount: pct("1")}, product: mug, price: "10", err: shop.ErrCodeNotApplicable},
		{name: "role code on plain product", code: shop.PromotionCode{RoleTypeID: "rt1", UsableInRoles: true, DiscountAmount: pct("1")}, product: mug, price: "10", err: shop.ErrCodeNotApplicable},
		{name: "role product without role usage", code: shop.PromotionCode{DiscountAmount: pct("1")}, product: vip, price: "10", err: shop.ErrCodeNotApplicable},
		{name: "role product", code: shop.PromotionCode{RoleTypeID: "rt1", UsableInRoles: true, DiscountAmount: pct("1")}, product: vip, price: "10", want: "9"},
		{name: "not stackable", code: tenPercent(), product: mug, price: "10", promoted: true, err: shop.ErrCodeNotStackable},
		{name: "stackable", code: shop.PromotionCode{CanWithPromotion: true, DiscountPercentage: pct("50")}, product: mug, price: "10", promoted: true, want: "5"},
		{name: "no discount kind", code: shop.PromotionCode{}, product: mug, price: "10", err: shop.ErrIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discount(tt.code, tt.product, dec(tt.price), tt.promoted)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestApplyDiscountSeesActivePromotion(t *testing.T) {
	s := memory.New()
	mug := shop.Product{ID: "p1", Slug: "mug", Price: dec("80")}
	s.AddProduct(mug, 1)
	s.AddPromotion(shop.Promotion{ID: "pr1", ProductID: "p1", Status: shop.PromotionActive})

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := newEngine().ApplyDiscount(ctx, tx, tenPercent(), mug, mug.Price)
		return err
	})
	require.ErrorIs(t, err, shop.ErrCodeNotStackable)
}

func TestIncrementAndRestoreUsage(t *testing.T) {
	s := memory.New()
	c := tenPercent()
	c.UsageLimit, c.UserUsageLimit = 3, 2
	s.AddPromotionCode(c)
	e := newEngine()

	incr := func() error {
		return inTx(t, s, func(ctx context.Context, tx store.Tx) error { return e.IncrementUsage(ctx, tx, c.ID, "u1") })
	}
	restore := func() error {
		return inTx(t, s, func(ctx context.Context, tx store.Tx) error { return e.RestoreUsage(ctx, tx, c.ID, "u1") })
	}

	require.NoError(t, incr())
	require.NoError(t, incr())
	require.ErrorIs(t, incr(), shop.ErrCodeUserLimit)
	assert.Equal(t, 2, s.Code("TEN").UsageCount)
	u, ok := s.Usage("u1", c.ID)
	require.True(t, ok)
	assert.Equal(t, 2, u.Count)

	require.NoError(t, restore())
	u, _ = s.Usage("u1", c.ID)
	assert.Equal(t, 1, u.Count)

	require.NoError(t, restore())
	_, ok = s.Usage("u1", c.ID)
	assert.False(t, ok, "usage row is removed at zero")
	assert.Equal(t, 0, s.Code("TEN").UsageCount)

	require.NoError(t, restore(), "restoring past zero floors")
	assert.Equal(t, 0, s.Code("TEN").UsageCount)
}

func TestConcurrentIncrementNeverOverRedeems(t *testing.T) {
	s := memory.New()
	c := tenPercent()
	c.UsageLimit, c.UserUsageLimit = 5, 1
	s.AddPromotionCode(c)
	e := newEngine()

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		user := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return e.IncrementUsage(ctx, tx, c.ID, user)
			})
			if err == nil {
				atomic.AddInt64(&ok, 1)
			} else if !errors.Is(err, shop.ErrCodeExhausted) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	// the same user racing itself is bounded by the per-user limit
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return e.IncrementUsage(ctx, tx, c.ID, "same")
			})
		}()
	}
	wg.Wait()

	got := s.Code("TEN").UsageCount
	assert.Equal(t, 5, got)
	assert.LessOrEqual(t, ok, int64(5))
	if u, found := s.Usage("same", c.ID); found {
		assert.Equal(t, 1, u.Count)
	}
}

func TestCheckCurrent(t *testing.T) {
	s := memory.New()
	s.AddPromotion(shop.Promotion{
		ID: "pr1", ProductID: "p1", Status: shop.PromotionPending,
		StartsAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour),
	})
	s.AddPromotion(shop.Promotion{
		ID: "pr2", ProductID: "p2", Status: shop.PromotionActive,
		StartsAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour),
	})
	e := newEngine()

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error { return e.CheckCurrent(ctx, tx, "p1") })
	require.ErrorIs(t, err, shop.ErrStalePromotion)
	err = inTx(t, s, func(ctx context.Context, tx store.Tx) error { return e.CheckCurrent(ctx, tx, "p2") })
	require.NoError(t, err)
}
