// Package balance debits and credits the internal user balance. Each change
// locks the user row and appends a history entry in the same transaction.
package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

type Ledger struct {
	now func() time.Time
}

// NewLedger uses now for history timestamps; nil means the wall clock.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{now: now}
}

func CanPay(u shop.User, amount decimal.Decimal) bool {
	return u.Balance.GreaterThanOrEqual(amount)
}

// Result is what PayWithBalance reports. When Paid is false nothing was
// debited and Balance holds the user's current balance.
type Result struct {
	Paid    bool
	History shop.History
	Balance decimal.Decimal
}

// PayWithBalance debits the whole amount or nothing.
func (l *Ledger) PayWithBalance(ctx context.Context, tx store.UserRepo, userID string, amount decimal.Decimal, link string) (Result, error) {
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", shop.ErrInvalidAmount, amount)
	}
	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("balance: lock user %s: %w", userID, err)
	}
	if !CanPay(u, amount) {
		return Result{Paid: false, Balance: u.Balance}, nil
	}
	left := u.Balance.Sub(amount)
	if err := tx.SaveBalance(ctx, userID, left); err != nil {
		return Result{}, fmt.Errorf("balance: debit %s: %w", userID, err)
	}
	h, err := l.record(ctx, tx, userID, shop.HistoryBalance,
		fmt.Sprintf("Paid %s from balance, %s left", amount.StringFixed(2), left.StringFixed(2)), link)
	if err != nil {
		return Result{}, err
	}
	return Result{Paid: true, History: h, Balance: left}, nil
}

// RefundToBalance credits amount back to the user.
func (l *Ledger) RefundToBalance(ctx context.Context, tx store.UserRepo, userID string, amount decimal.Decimal, link string) (shop.History, error) {
	if amount.IsNegative() {
		return shop.History{}, fmt.Errorf("%w: %s", shop.ErrInvalidAmount, amount)
	}
	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		return shop.History{}, fmt.Errorf("balance: lock user %s: %w", userID, err)
	}
	total := u.Balance.Add(amount)
	if err := tx.SaveBalance(ctx, userID, total); err != nil {
		return shop.History{}, fmt.Errorf("balance: credit %s: %w", userID, err)
	}
	return l.record(ctx, tx, userID, shop.HistoryRefund,
		fmt.Sprintf("Refunded %s to balance, %s total", amount.StringFixed(2), total.StringFixed(2)), link)
}

// Record appends a history entry that does not move money.
func (l *Ledger) Record(ctx context.Context, tx store.UserRepo, userID string, typ shop.HistoryType, info, link string) (shop.History, error) {
	return l.record(ctx, tx, userID, typ, info, link)
}

func (l *Ledger) record(ctx context.Context, tx store.UserRepo, userID string, typ shop.HistoryType, info, link string) (shop.History, error) {
	h := shop.History{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Info:      info,
		Link:      link,
		CreatedAt: l.now(),
	}
	if err := tx.AppendHistory(ctx, h); err != nil {
		return shop.History{}, fmt.Errorf("balance: append history %s: %w", userID, err)
	}
	cache.Mark(ctx, cache.UserKey(userID))
	return h, nil
}
