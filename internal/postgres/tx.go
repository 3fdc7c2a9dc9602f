package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
)

// Tx runs the repository queries on one pgx transaction, or on the pool
// for committed reads.
type Tx struct {
	q querier
}

const productCols = `id, slug, name, price, is_available, COALESCE(role_type_id, ''), created_at, updated_at`

func scanProduct(row pgx.Row) (shop.Product, error) {
	var p shop.Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Price, &p.IsAvailable, &p.RoleTypeID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *Tx) Product(ctx context.Context, id string) (shop.Product, error) {
	p, err := scanProduct(t.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
	if err != nil {
		return shop.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *Tx) ProductBySlug(ctx context.Context, slug string) (shop.Product, error) {
	p, err := scanProduct(t.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE slug = $1`, slug))
	if err != nil {
		return shop.Product{}, notFound(err, "product", slug)
	}
	return p, nil
}

func (t *Tx) SetProductAvailability(ctx context.Context, id string, available bool) error {
	return t.exec(ctx, "product", id,
		`UPDATE products SET is_available = $2, updated_at = now() WHERE id = $1`, id, available)
}

func (t *Tx) SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	return t.exec(ctx, "product", id,
		`UPDATE products SET price = $2, updated_at = now() WHERE id = $1`, id, price)
}

const stockCols = `product_id, units, units_held, units_sold, created_at, updated_at`

func (t *Tx) stock(ctx context.Context, sql, productID string) (shop.Stock, error) {
	var s shop.Stock
	err := t.q.QueryRow(ctx, sql, productID).
		Scan(&s.ProductID, &s.Units, &s.UnitsHeld, &s.UnitsSold, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return shop.Stock{}, notFound(err, "stock", productID)
	}
	return s, nil
}

func (t *Tx) Stock(ctx context.Context, productID string) (shop.Stock, error) {
	return t.stock(ctx, `SELECT `+stockCols+` FROM stocks WHERE product_id = $1`, productID)
}

func (t *Tx) LockStock(ctx context.Context, productID string) (shop.Stock, error) {
	return t.stock(ctx, `SELECT `+stockCols+` FROM stocks WHERE product_id = $1 FOR UPDATE`, productID)
}

func (t *Tx) SaveStock(ctx context.Context, s shop.Stock) error {
	return t.exec(ctx, "stock", s.ProductID,
		`UPDATE stocks SET units = $2, units_held = $3, units_sold = $4, updated_at = $5 WHERE product_id = $1`,
		s.ProductID, s.Units, s.UnitsHeld, s.UnitsSold, s.UpdatedAt)
}

const promotionCols = `id, product_id, starts_at, expires_at, status, changed_price, original_price, created_at, updated_at`

func (t *Tx) promotions(ctx context.Context, sql string, args ...any) ([]shop.Promotion, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: promotions: %w", err)
	}
	defer rows.Close()

	var out []shop.Promotion
	for rows.Next() {
		var (
			p      shop.Promotion
			status string
		)
		if err := rows.Scan(&p.ID, &p.ProductID, &p.StartsAt, &p.ExpiresAt, &status,
			&p.ChangedPrice, &p.OriginalPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan promotion: %w", err)
		}
		p.Status = shop.PromotionStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *Tx) PromotionsByProduct(ctx context.Context, productID string) ([]shop.Promotion, error) {
	return t.promotions(ctx, `SELECT `+promotionCols+` FROM promotions WHERE product_id = $1 ORDER BY id`, productID)
}

func (t *Tx) OpenPromotions(ctx context.Context) ([]shop.Promotion, error) {
	return t.promotions(ctx, `SELECT `+promotionCols+` FROM promotions WHERE status <> $1 ORDER BY id FOR UPDATE`,
		string(shop.PromotionExpired))
}

func (t *Tx) SavePromotion(ctx context.Context, p shop.Promotion) error {
	return t.exec(ctx, "promotion", p.ID,
		`UPDATE promotions SET status = $2, updated_at = $3 WHERE id = $1`,
		p.ID, string(p.Status), p.UpdatedAt)
}

const codeCols = `id, code, name, COALESCE(product_id, ''), COALESCE(role_type_id, ''),
	discount_amount, discount_percentage, usage_limit, usage_count, user_usage_limit,
	start_at, expires_at, enabled, can_with_promotion, usable_in_roles, created_at, updated_at`

func (t *Tx) code(ctx context.Context, sql, key string) (shop.PromotionCode, error) {
	var c shop.PromotionCode
	err := t.q.QueryRow(ctx, sql, key).Scan(
		&c.ID, &c.Code, &c.Name, &c.ProductID, &c.RoleTypeID,
		&c.DiscountAmount, &c.DiscountPercentage, &c.UsageLimit, &c.UsageCount, &c.UserUsageLimit,
		&c.StartAt, &c.ExpiresAt, &c.Enabled, &c.CanWithPromotion, &c.UsableInRoles, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return shop.PromotionCode{}, notFound(err, "promotion code", key)
	}
	return c, nil
}

func (t *Tx) PromotionCode(ctx context.Context, code string) (shop.PromotionCode, error) {
	return t.code(ctx, `SELECT `+codeCols+` FROM promotion_codes WHERE code = $1`, code)
}

func (t *Tx) LockPromotionCode(ctx context.Context, id string) (shop.PromotionCode, error) {
	return t.code(ctx, `SELECT `+codeCols+` FROM promotion_codes WHERE id = $1 FOR UPDATE`, id)
}

func (t *Tx) SavePromotionCode(ctx context.Context, c shop.PromotionCode) error {
	return t.exec(ctx, "promotion code", c.ID,
		`UPDATE promotion_codes SET usage_count = $2, updated_at = $3 WHERE id = $1`,
		c.ID, c.UsageCount, c.UpdatedAt)
}

func (t *Tx) CodeUsage(ctx context.Context, userID, codeID string) (shop.CodeUsage, error) {
	u := shop.CodeUsage{UserID: userID, CodeID: codeID}
	err := t.q.QueryRow(ctx,
		`SELECT count, created_at, updated_at FROM promotion_code_usages WHERE user_id = $1 AND code_id = $2`,
		userID, codeID).Scan(&u.Count, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return shop.CodeUsage{}, notFound(err, "code usage", userID+"/"+codeID)
	}
	return u, nil
}

func (t *Tx) SaveCodeUsage(ctx context.Context, u shop.CodeUsage) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO promotion_code_usages (user_id, code_id, count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, code_id) DO UPDATE SET count = EXCLUDED.count, updated_at = EXCLUDED.updated_at`,
		u.UserID, u.CodeID, u.Count, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save code usage: %w", err)
	}
	return nil
}

func (t *Tx) DeleteCodeUsage(ctx context.Context, userID, codeID string) error {
	_, err := t.q.Exec(ctx, `DELETE FROM promotion_code_usages WHERE user_id = $1 AND code_id = $2`, userID, codeID)
	if err != nil {
		return fmt.Errorf("postgres: delete code usage: %w", err)
	}
	return nil
}

func (t *Tx) LockUser(ctx context.Context, id string) (shop.User, error) {
	var u shop.User
	err := t.q.QueryRow(ctx,
		`SELECT id, username, balance, created_at, updated_at FROM users WHERE id = $1 FOR UPDATE`, id).
		Scan(&u.ID, &u.Username, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return shop.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (t *Tx) SaveBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return t.exec(ctx, "user", id, `UPDATE users SET balance = $2, updated_at = now() WHERE id = $1`, id, balance)
}

func (t *Tx) AppendHistory(ctx context.Context, h shop.History) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO user_histories (id, user_id, type, info, link, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.UserID, string(h.Type), h.Info, h.Link, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	return nil
}

func (t *Tx) RoleType(ctx context.Context, id string) (shop.RoleType, error) {
	var rt shop.RoleType
	err := t.q.QueryRow(ctx, `SELECT id, name, price, effective_days FROM role_types WHERE id = $1`, id).
		Scan(&rt.ID, &rt.Name, &rt.Price, &rt.EffectiveDays)
	if err != nil {
		return shop.RoleType{}, notFound(err, "role type", id)
	}
	return rt, nil
}

func (t *Tx) LockActiveRole(ctx context.Context, userID, roleTypeID string, now time.Time) (shop.Role, error) {
	var (
		r      shop.Role
		status string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, user_id, role_type_id, status, expires_at, created_at, updated_at
		FROM roles
		WHERE user_id = $1 AND role_type_id = $2 AND status = $3 AND expires_at > $4
		ORDER BY expires_at DESC
		LIMIT 1
		FOR UPDATE`,
		userID, roleTypeID, string(shop.RoleActive), now).
		Scan(&r.ID, &r.UserID, &r.RoleTypeID, &status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return shop.Role{}, notFound(err, "role", userID+"/"+roleTypeID)
	}
	r.Status = shop.RoleStatus(status)
	return r, nil
}

func (t *Tx) SaveRole(ctx context.Context, r shop.Role) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO roles (id, user_id, role_type_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		r.ID, r.UserID, r.RoleTypeID, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save role %s: %w", r.ID, err)
	}
	return nil
}

func (t *Tx) ExpireRoles(ctx context.Context, now time.Time) (int, error) {
	ct, err := t.q.Exec(ctx,
		`UPDATE roles SET status = $1, updated_at = $3 WHERE status = $2 AND expires_at <= $3`,
		string(shop.RoleExpired), string(shop.RoleActive), now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire roles: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (t *Tx) InsertOrder(ctx context.Context, o shop.Order) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (id, customer_id, status, is_paid, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.CustomerID, string(o.Status), o.IsPaid, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert order: %w", err)
	}
	for i, it := range o.Items {
		_, err := t.q.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, slug, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.ProductID, it.Name, it.Slug, it.Price, it.Quantity)
		if err != nil {
			return fmt.Errorf("postgres: insert order item: %w", err)
		}
	}
	return nil
}

func (t *Tx) order(ctx context.Context, sql, id string) (shop.Order, error) {
	var (
		o      shop.Order
		status string
	)
	err := t.q.QueryRow(ctx, sql, id).
		Scan(&o.ID, &o.CustomerID, &status, &o.IsPaid, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return shop.Order{}, notFound(err, "order", id)
	}
	o.Status = shop.OrderStatus(status)

	rows, err := t.q.Query(ctx, `
		SELECT product_id, name, slug, price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return shop.Order{}, fmt.Errorf("postgres: order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it shop.Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Slug, &it.Price, &it.Quantity); err != nil {
			return shop.Order{}, fmt.Errorf("postgres: scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

const orderCols = `id, customer_id, status, is_paid, created_at, updated_at`

func (t *Tx) Order(ctx context.Context, id string) (shop.Order, error) {
	return t.order(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (t *Tx) LockOrder(ctx context.Context, id string) (shop.Order, error) {
	return t.order(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *Tx) SaveOrderStatus(ctx context.Context, o shop.Order) error {
	return t.exec(ctx, "order", o.ID,
		`UPDATE orders SET status = $2, is_paid = $3, updated_at = $4 WHERE id = $1`,
		o.ID, string(o.Status), o.IsPaid, o.UpdatedAt)
}

func (t *Tx) InsertPayment(ctx context.Context, p shop.Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (id, customer_id, order_id, method, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.CustomerID, p.OrderID, string(p.Method), p.Amount, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert payment: %w", err)
	}
	return nil
}

const paymentCols = `id, customer_id, order_id, method, amount, status, deleted_at, created_at, updated_at`

func (t *Tx) payment(ctx context.Context, sql, id string) (shop.Payment, error) {
	var (
		p              shop.Payment
		method, status string
	)
	err := t.q.QueryRow(ctx, sql, id).
		Scan(&p.ID, &p.CustomerID, &p.OrderID, &method, &p.Amount, &status, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return shop.Payment{}, notFound(err, "payment", id)
	}
	p.Method = shop.PaymentMethod(method)
	p.Status = shop.PaymentStatus(status)

	rows, err := t.q.Query(ctx, `
		SELECT payment_id, code_id, code, applied_at
		FROM payment_promotion_codes WHERE payment_id = $1 ORDER BY applied_at, code_id`, id)
	if err != nil {
		return shop.Payment{}, fmt.Errorf("postgres: payment codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pc shop.PaymentCode
		if err := rows.Scan(&pc.PaymentID, &pc.CodeID, &pc.Code, &pc.AppliedAt); err != nil {
			return shop.Payment{}, fmt.Errorf("postgres: scan payment code: %w", err)
		}
		p.Codes = append(p.Codes, pc)
	}
	return p, rows.Err()
}

func (t *Tx) Payment(ctx context.Context, id string) (shop.Payment, error) {
	return t.payment(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id)
}

func (t *Tx) LockPayment(ctx context.Context, id string) (shop.Payment, error) {
	return t.payment(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (t *Tx) LivePaymentForOrder(ctx context.Context, orderID string) (shop.Payment, error) {
	var id string
	err := t.q.QueryRow(ctx, `
		SELECT id FROM payments
		WHERE order_id = $1 AND status IN ($2, $3) AND deleted_at IS NULL
		LIMIT 1`,
		orderID, string(shop.PaymentPending), string(shop.PaymentCompleted)).Scan(&id)
	if err != nil {
		return shop.Payment{}, notFound(err, "live payment for order", orderID)
	}
	return t.Payment(ctx, id)
}

func (t *Tx) SavePayment(ctx context.Context, p shop.Payment) error {
	return t.exec(ctx, "payment", p.ID,
		`UPDATE payments SET amount = $2, status = $3, deleted_at = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Amount, string(p.Status), p.DeletedAt, p.UpdatedAt)
}

func (t *Tx) LinkPromotionCode(ctx context.Context, pc shop.PaymentCode) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO payment_promotion_codes (payment_id, code_id, code, applied_at) VALUES ($1, $2, $3, $4)`,
		pc.PaymentID, pc.CodeID, pc.Code, pc.AppliedAt)
	if err != nil {
		return fmt.Errorf("postgres: link code %s: %w", pc.Code, err)
	}
	return nil
}

// exec runs an UPDATE that must hit exactly one row.
func (t *Tx) exec(ctx context.Context, what, id, sql string, args ...any) error {
	ct, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: update %s %s: %w", what, id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", what, id, shop.ErrNotFound)
	}
	return nil
}
