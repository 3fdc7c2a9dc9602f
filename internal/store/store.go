// Package store declares the persistence ports the domain services run on.
//
// Every Lock* method takes a pessimistic row lock that is held until the
// enclosing transaction commits or rolls back. Implementations must return
// shop.ErrNotFound (wrapped or bare) for missing rows.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

type ProductRepo interface {
	Product(ctx context.Context, id string) (shop.Product, error)
	ProductBySlug(ctx context.Context, slug string) (shop.Product, error)
	SetProductAvailability(ctx context.Context, id string, available bool) error
	SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error
}

type StockRepo interface {
	// Stock reads without locking.
	Stock(ctx context.Context, productID string) (shop.Stock, error)
	LockStock(ctx context.Context, productID string) (shop.Stock, error)
	SaveStock(ctx context.Context, s shop.Stock) error
}

type PromotionRepo interface {
	PromotionsByProduct(ctx context.Context, productID string) ([]shop.Promotion, error)
	// OpenPromotions lists every promotion not yet expired.
	OpenPromotions(ctx context.Context) ([]shop.Promotion, error)
	SavePromotion(ctx context.Context, p shop.Promotion) error

	PromotionCode(ctx context.Context, code string) (shop.PromotionCode, error)
	LockPromotionCode(ctx context.Context, id string) (shop.PromotionCode, error)
	SavePromotionCode(ctx context.Context, c shop.PromotionCode) error
	CodeUsage(ctx context.Context, userID, codeID string) (shop.CodeUsage, error)
	SaveCodeUsage(ctx context.Context, u shop.CodeUsage) error
	DeleteCodeUsage(ctx context.Context, userID, codeID string) error
}

type UserRepo interface {
	LockUser(ctx context.Context, id string) (shop.User, error)
	SaveBalance(ctx context.Context, id string, balance decimal.Decimal) error
	AppendHistory(ctx context.Context, h shop.History) error
}

type RoleRepo interface {
	RoleType(ctx context.Context, id string) (shop.RoleType, error)
	// LockActiveRole returns the user's active role of the given type.
	LockActiveRole(ctx context.Context, userID, roleTypeID string, now time.Time) (shop.Role, error)
	SaveRole(ctx context.Context, r shop.Role) error
	ExpireRoles(ctx context.Context, now time.Time) (int, error)
}

type OrderRepo interface {
	InsertOrder(ctx context.Context, o shop.Order) error
	Order(ctx context.Context, id string) (shop.Order, error)
	LockOrder(ctx context.Context, id string) (shop.Order, error)
	SaveOrderStatus(ctx context.Context, o shop.Order) error
}

type PaymentRepo interface {
	InsertPayment(ctx context.Context, p shop.Payment) error
	Payment(ctx context.Context, id string) (shop.Payment, error)
	LockPayment(ctx context.Context, id string) (shop.Payment, error)
	// LivePaymentForOrder returns the order's live payment (see
	// shop.Payment.Live). Callers hold the order lock.
	LivePaymentForOrder(ctx context.Context, orderID string) (shop.Payment, error)
	SavePayment(ctx context.Context, p shop.Payment) error
	LinkPromotionCode(ctx context.Context, pc shop.PaymentCode) error
}

// Tx is one relational transaction.
type Tx interface {
	ProductRepo
	StockRepo
	PromotionRepo
	UserRepo
	RoleRepo
	OrderRepo
	PaymentRepo
}

// Store runs transactions and serves committed reads.
type Store interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Order(ctx context.Context, id string) (shop.Order, error)
	Payment(ctx context.Context, id string) (shop.Payment, error)
}
