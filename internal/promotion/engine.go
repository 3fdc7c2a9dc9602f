// Package promotion validates and prices promotion codes and keeps their
// usage counters. Counter updates lock the code row, so they must run inside
// the caller's transaction.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

var hundred = decimal.NewFromInt(100)

type Repo interface {
	store.PromotionRepo
}

type Engine struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine checks code windows and promotion status against now; nil means
// the wall clock.
func NewEngine(m *metrics.Metrics, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{metrics: m, now: now}
}

// Lookup loads a code by its public string.
func (e *Engine) Lookup(ctx context.Context, tx Repo, code string) (shop.PromotionCode, error) {
	c, err := tx.PromotionCode(ctx, code)
	if errors.Is(err, shop.ErrNotFound) {
		return shop.PromotionCode{}, fmt.Errorf("%w: promotion code %q does not exist", shop.ErrValidation, code)
	}
	if err != nil {
		return shop.PromotionCode{}, fmt.Errorf("promotion: load code %q: %w", code, err)
	}
	return c, nil
}

// IsValid checks status, window and both usage caps.
func (e *Engine) IsValid(ctx context.Context, tx Repo, c shop.PromotionCode, userID string) error {
	if err := checkWindow(c, e.now()); err != nil {
		return err
	}
	if c.UsageCount >= c.UsageLimit {
		return fmt.Errorf("%w (%s)", shop.ErrCodeExhausted, c.Code)
	}
	u, _, err := e.usage(ctx, tx, userID, c.ID)
	if err != nil {
		return err
	}
	if u.Count >= c.UserUsageLimit {
		return fmt.Errorf("%w (%s)", shop.ErrCodeUserLimit, c.Code)
	}
	return nil
}

func checkWindow(c shop.PromotionCode, now time.Time) error {
	switch {
	case !c.Enabled:
		return fmt.Errorf("%w (%s)", shop.ErrCodeDisabled, c.Code)
	case c.StartAt != nil && now.Before(*c.StartAt):
		return fmt.Errorf("%w (%s)", shop.ErrCodeNotStarted, c.Code)
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return fmt.Errorf("%w (%s)", shop.ErrCodeExpired, c.Code)
	}
	return nil
}

// ApplyDiscount returns the unit price of product after c is applied to
// price. Scope mismatches return ErrCodeNotApplicable; a product with an
// active promotion rejects non-stackable codes with ErrCodeNotStackable.
func (e *Engine) ApplyDiscount(ctx context.Context, tx Repo, c shop.PromotionCode, p shop.Product, price decimal.Decimal) (decimal.Decimal, error) {
	promos, err := tx.PromotionsByProduct(ctx, p.ID)
	if err != nil {
		return price, fmt.Errorf("promotion: load promotions for %s: %w", p.ID, err)
	}
	return Discount(c, p, price, hasActive(promos))
}

// Discount is the pure pricing rule behind ApplyDiscount.
func Discount(c shop.PromotionCode, p shop.Product, price decimal.Decimal, promoted bool) (decimal.Decimal, error) {
	if c.RoleTypeID != "" && c.RoleTypeID != p.RoleTypeID {
		return price, fmt.Errorf("%w: %s is restricted to a role", shop.ErrCodeNotApplicable, c.Code)
	}
	if p.IsRole() && !c.UsableInRoles {
		return price, fmt.Errorf("%w: %s cannot be used on roles", shop.ErrCodeNotApplicable, c.Code)
	}
	if c.ProductID != "" && c.ProductID != p.ID {
		return price, fmt.Errorf("%w: %s is scoped to another product", shop.ErrCodeNotApplicable, c.Code)
	}
	if promoted && !c.CanWithPromotion {
		return price, fmt.Errorf("%w (%s on %s)", shop.ErrCodeNotStackable, c.Code, p.Slug)
	}

	var out decimal.Decimal
	switch {
	case c.DiscountAmount.Valid:
		out = price.Sub(c.DiscountAmount.Decimal)
	case c.DiscountPercentage.Valid:
		out = price.Sub(price.Mul(c.DiscountPercentage.Decimal).Div(hundred))
	default:
		return price, fmt.Errorf("%w: %s has no discount", shop.ErrIntegrity, c.Code)
	}
	if out.IsNegative() {
		out = decimal.Zero
	}
	return out.Round(2), nil
}

func hasActive(promos []shop.Promotion) bool {
	for _, p := range promos {
		if p.Status == shop.PromotionActive {
			return true
		}
	}
	return false
}

// IncrementUsage bumps both counters under the code row lock. The caps are
// checked again here, so two racing redemptions cannot both pass them.
func (e *Engine) IncrementUsage(ctx context.Context, tx Repo, codeID, userID string) (err error) {
	defer func() { e.metrics.Promo("increment_" + metrics.Outcome(err)) }()

	c, err := tx.LockPromotionCode(ctx, codeID)
	if err != nil {
		return fmt.Errorf("promotion: lock code %s: %w", codeID, err)
	}
	if c.UsageCount >= c.UsageLimit {
		return fmt.Errorf("%w (%s)", shop.ErrCodeExhausted, c.Code)
	}
	u, _, err := e.usage(ctx, tx, userID, codeID)
	if err != nil {
		return err
	}
	if u.Count >= c.UserUsageLimit {
		return fmt.Errorf("%w (%s)", shop.ErrCodeUserLimit, c.Code)
	}

	now := e.now()
	c.UsageCount++
	c.Touch(now)
	if err := tx.SavePromotionCode(ctx, c); err != nil {
		return fmt.Errorf("promotion: save code %s: %w", codeID, err)
	}
	u.Count++
	u.Touch(now)
	if err := tx.SaveCodeUsage(ctx, u); err != nil {
		return fmt.Errorf("promotion: save usage %s/%s: %w", userID, codeID, err)
	}
	return nil
}

// RestoreUsage undoes one IncrementUsage. Both counters floor at zero and the
// per-user row is removed once it reaches zero.
func (e *Engine) RestoreUsage(ctx context.Context, tx Repo, codeID, userID string) (err error) {
	defer func() { e.metrics.Promo("restore_" + metrics.Outcome(err)) }()

	c, err := tx.LockPromotionCode(ctx, codeID)
	if err != nil {
		return fmt.Errorf("promotion: lock code %s: %w", codeID, err)
	}
	now := e.now()
	if c.UsageCount > 0 {
		c.UsageCount--
		c.Touch(now)
		if err := tx.SavePromotionCode(ctx, c); err != nil {
			return fmt.Errorf("promotion: save code %s: %w", codeID, err)
		}
	}

	u, found, err := e.usage(ctx, tx, userID, codeID)
	if err != nil || !found {
		return err
	}
	if u.Count <= 1 {
		if err := tx.DeleteCodeUsage(ctx, userID, codeID); err != nil {
			return fmt.Errorf("promotion: delete usage %s/%s: %w", userID, codeID, err)
		}
		return nil
	}
	u.Count--
	u.Touch(now)
	if err := tx.SaveCodeUsage(ctx, u); err != nil {
		return fmt.Errorf("promotion: save usage %s/%s: %w", userID, codeID, err)
	}
	return nil
}

// usage returns the stored counter, or a zero one for a first redemption.
func (e *Engine) usage(ctx context.Context, tx Repo, userID, codeID string) (shop.CodeUsage, bool, error) {
	u, err := tx.CodeUsage(ctx, userID, codeID)
	if errors.Is(err, shop.ErrNotFound) {
		return shop.CodeUsage{UserID: userID, CodeID: codeID}, false, nil
	}
	if err != nil {
		return shop.CodeUsage{}, false, fmt.Errorf("promotion: load usage %s/%s: %w", userID, codeID, err)
	}
	return u, true, nil
}

// CheckCurrent fails with ErrStalePromotion when a stored promotion status on
// productID no longer matches its window, meaning the product price may be
// out of date until the scheduler catches up.
func (e *Engine) CheckCurrent(ctx context.Context, tx Repo, productID string) error {
	promos, err := tx.PromotionsByProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("promotion: load promotions for %s: %w", productID, err)
	}
	now := e.now()
	for _, p := range promos {
		if p.Status != p.StatusAt(now) {
			return fmt.Errorf("%w (promotion %s)", shop.ErrStalePromotion, p.ID)
		}
	}
	return nil
}
