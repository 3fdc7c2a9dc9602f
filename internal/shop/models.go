package shop

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auditable carries the timestamps every persisted entity has.
type Auditable struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets UpdatedAt (and CreatedAt on first use).
func (a *Auditable) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

type Product struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"is_available"`
	// RoleTypeID is set for products whose purchase grants a role.
	RoleTypeID string `json:"role_type_id,omitempty"`
	Auditable
}

func (p Product) IsRole() bool { return p.RoleTypeID != "" }

// Stock counts: Units sellable now, UnitsHeld reserved by pending payments,
// UnitsSold confirmed.
type Stock struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
	UnitsHeld int    `json:"units_held"`
	UnitsSold int    `json:"units_sold"`
	Auditable
}

// Total is preserved by every inventory ledger operation.
func (s Stock) Total() int { return s.Units + s.UnitsHeld + s.UnitsSold }

// Promotion is a scheduled price change on one product.
type Promotion struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	StartsAt      time.Time       `json:"starts_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Status        PromotionStatus `json:"status"`
	ChangedPrice  decimal.Decimal `json:"changed_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Auditable
}

// StatusAt derives the status the promotion should have at now.
func (p Promotion) StatusAt(now time.Time) PromotionStatus {
	switch {
	case now.After(p.ExpiresAt):
		return PromotionExpired
	case !now.Before(p.StartsAt):
		return PromotionActive
	default:
		return PromotionPending
	}
}

// PromotionCode is a redeemable coupon. Exactly one of DiscountAmount and
// DiscountPercentage is valid.
type PromotionCode struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	Name               string              `json:"name"`
	ProductID          string              `json:"product_id,omitempty"`
	RoleTypeID         string              `json:"role_type_id,omitempty"`
	DiscountAmount     decimal.NullDecimal `json:"discount_amount"`
	DiscountPercentage decimal.NullDecimal `json:"discount_percentage"`
	UsageLimit         int                 `json:"usage_limit"`
	UsageCount         int                 `json:"usage_count"`
	UserUsageLimit     int                 `json:"user_usage_limit"`
	StartAt            *time.Time          `json:"start_at,omitempty"`
	ExpiresAt          *time.Time          `json:"expires_at,omitempty"`
	Enabled            bool                `json:"enabled"`
	CanWithPromotion   bool                `json:"can_with_promotion"`
	UsableInRoles      bool                `json:"usable_in_roles"`
	Auditable
}

// CodeUsage is the per (user, code) redemption counter.
type CodeUsage struct {
	UserID string `json:"user_id"`
	CodeID string `json:"code_id"`
	Count  int    `json:"count"`
	Auditable
}

type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
	Auditable
}

// History is an immutable, append-only record of a balance or payment event.
type History struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Type      HistoryType `json:"type"`
	Info      string      `json:"info"`
	Link      string      `json:"link,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type RoleType struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	EffectiveDays int             `json:"effective_days"`
}

func (rt RoleType) Effective() time.Duration {
	return time.Duration(rt.EffectiveDays) * 24 * time.Hour
}

type Role struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleTypeID string     `json:"role_type_id"`
	Status     RoleStatus `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Auditable
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	IsPaid     bool        `json:"is_paid"`
	Items      []Item      `json:"items"`
	Auditable
}

// Total sums the snapshot prices, never the live product price.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Item is a line of an order with name/slug/price captured at order creation.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Payment struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	OrderID    string          `json:"order_id"`
	Method     PaymentMethod   `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	Status     PaymentStatus   `json:"status"`
	Codes      []PaymentCode   `json:"used_coupons"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	Auditable
}

// Live reports whether the payment still holds its order: not deleted and
// pending or completed.
func (p Payment) Live() bool {
	return p.DeletedAt == nil && (p.Status == PaymentPending || p.Status == PaymentCompleted)
}

// PaymentCode links a payment to a promotion code it used.
type PaymentCode struct {
	PaymentID string    `json:"payment_id"`
	CodeID    string    `json:"code_id"`
	Code      string    `json:"code"`
	AppliedAt time.Time `json:"applied_at"`
}
