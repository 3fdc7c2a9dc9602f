package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

var _ store.Tx = (*Tx)(nil)

// overlay holds a transaction's uncommitted writes for one table.
type overlay[T any] struct {
	rows map[string]T
	gone map[string]bool
}

func newOverlay[T any]() *overlay[T] {
	return &overlay[T]{rows: map[string]T{}, gone: map[string]bool{}}
}

func (o *overlay[T]) put(key string, v T) {
	o.rows[key] = v
	delete(o.gone, key)
}

func (o *overlay[T]) del(key string) {
	delete(o.rows, key)
	o.gone[key] = true
}

func (o *overlay[T]) applyTo(base map[string]T) {
	for k, v := range o.rows {
		base[k] = v
	}
	for k := range o.gone {
		delete(base, k)
	}
}

type Tx struct {
	s    *Store
	held []string
	owns map[string]bool
	done bool

	products *overlay[shop.Product]
	stocks   *overlay[shop.Stock]
	promos   *overlay[shop.Promotion]
	codes    *overlay[shop.PromotionCode]
	usages   *overlay[shop.CodeUsage]
	users    *overlay[shop.User]
	roles    *overlay[shop.Role]
	orders   *overlay[shop.Order]
	payments *overlay[shop.Payment]
	history  []shop.History
}

func newTx(s *Store) *Tx {
	return &Tx{
		s:        s,
		owns:     map[string]bool{},
		products: newOverlay[shop.Product](),
		stocks:   newOverlay[shop.Stock](),
		promos:   newOverlay[shop.Promotion](),
		codes:    newOverlay[shop.PromotionCode](),
		usages:   newOverlay[shop.CodeUsage](),
		users:    newOverlay[shop.User](),
		roles:    newOverlay[shop.Role](),
		orders:   newOverlay[shop.Order](),
		payments: newOverlay[shop.Payment](),
	}
}

func (t *Tx) commit() {
	t.s.mu.Lock()
	t.products.applyTo(t.s.products)
	t.stocks.applyTo(t.s.stocks)
	t.promos.applyTo(t.s.promos)
	t.codes.applyTo(t.s.codes)
	t.usages.applyTo(t.s.usages)
	t.users.applyTo(t.s.users)
	t.roles.applyTo(t.s.roles)
	t.orders.applyTo(t.s.orders)
	t.payments.applyTo(t.s.payments)
	t.s.history = append(t.s.history, t.history...)
	t.s.mu.Unlock()
}

func (t *Tx) release() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.releaseLock(t.held[i])
	}
}

func (t *Tx) lock(ctx context.Context, key string) error {
	if t.owns[key] {
		return nil
	}
	if err := t.s.acquire(ctx, key); err != nil {
		return err
	}
	t.owns[key] = true
	t.held = append(t.held, key)
	return nil
}

func read[T any](t *Tx, o *overlay[T], base map[string]T, key string) (T, bool) {
	if v, ok := o.rows[key]; ok {
		return v, true
	}
	var zero T
	if o.gone[key] {
		return zero, false
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := base[key]
	return v, ok
}

// scan merges committed rows with the transaction's writes, sorted by key.
func scan[T any](t *Tx, o *overlay[T], base map[string]T) []T {
	merged := map[string]T{}
	t.s.mu.RLock()
	for k, v := range base {
		merged[k] = v
	}
	t.s.mu.RUnlock()
	for k, v := range o.rows {
		merged[k] = v
	}
	for k := range o.gone {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, merged[k])
	}
	return out
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, shop.ErrNotFound)
}

// ---- products ----

func (t *Tx) Product(_ context.Context, id string) (shop.Product, error) {
	p, ok := read(t, t.products, t.s.products, id)
	if !ok {
		return shop.Product{}, notFound("product", id)
	}
	return p, nil
}

func (t *Tx) ProductBySlug(ctx context.Context, slug string) (shop.Product, error) {
	t.s.mu.RLock()
	id, ok := t.s.slugs[slug]
	t.s.mu.RUnlock()
	if !ok {
		return shop.Product{}, notFound("product", slug)
	}
	return t.Product(ctx, id)
}

func (t *Tx) SetProductAvailability(ctx context.Context, id string, available bool) error {
	p, err := t.Product(ctx, id)
	if err != nil {
		return err
	}
	p.IsAvailable = available
	p.Touch(time.Now().UTC())
	t.products.put(id, p)
	return nil
}

func (t *Tx) SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	p, err := t.Product(ctx, id)
	if err != nil {
		return err
	}
	p.Price = price
	p.Touch(time.Now().UTC())
	t.products.put(id, p)
	return nil
}

// ---- stock ----

func (t *Tx) Stock(_ context.Context, productID string) (shop.Stock, error) {
	st, ok := read(t, t.stocks, t.s.stocks, productID)
	if !ok {
		return shop.Stock{}, notFound("stock", productID)
	}
	return st, nil
}

func (t *Tx) LockStock(ctx context.Context, productID string) (shop.Stock, error) {
	if err := t.lock(ctx, "stock:"+productID); err != nil {
		return shop.Stock{}, err
	}
	return t.Stock(ctx, productID)
}

func (t *Tx) SaveStock(_ context.Context, st shop.Stock) error {
	t.stocks.put(st.ProductID, st)
	return nil
}

// ---- promotions & codes ----

func (t *Tx) PromotionsByProduct(_ context.Context, productID string) ([]shop.Promotion, error) {
	var out []shop.Promotion
	for _, p := range scan(t, t.promos, t.s.promos) {
		if p.ProductID == productID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *Tx) OpenPromotions(_ context.Context) ([]shop.Promotion, error) {
	var out []shop.Promotion
	for _, p := range scan(t, t.promos, t.s.promos) {
		if p.Status != shop.PromotionExpired {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *Tx) SavePromotion(_ context.Context, p shop.Promotion) error {
	t.promos.put(p.ID, p)
	return nil
}

func (t *Tx) PromotionCode(_ context.Context, code string) (shop.PromotionCode, error) {
	t.s.mu.RLock()
	id, ok := t.s.codeIDs[code]
	t.s.mu.RUnlock()
	if !ok {
		return shop.PromotionCode{}, notFound("promotion code", code)
	}
	c, ok := read(t, t.codes, t.s.codes, id)
	if !ok {
		return shop.PromotionCode{}, notFound("promotion code", code)
	}
	return c, nil
}

func (t *Tx) LockPromotionCode(ctx context.Context, id string) (shop.PromotionCode, error) {
	if err := t.lock(ctx, "code:"+id); err != nil {
		return shop.PromotionCode{}, err
	}
	c, ok := read(t, t.codes, t.s.codes, id)
	if !ok {
		return shop.PromotionCode{}, notFound("promotion code", id)
	}
	return c, nil
}

func (t *Tx) SavePromotionCode(_ context.Context, c shop.PromotionCode) error {
	t.codes.put(c.ID, c)
	return nil
}

func (t *Tx) CodeUsage(_ context.Context, userID, codeID string) (shop.CodeUsage, error) {
	u, ok := read(t, t.usages, t.s.usages, usageKey(userID, codeID))
	if !ok {
		return shop.CodeUsage{}, notFound("code usage", usageKey(userID, codeID))
	}
	return u, nil
}

func (t *Tx) SaveCodeUsage(_ context.Context, u shop.CodeUsage) error {
	t.usages.put(usageKey(u.UserID, u.CodeID), u)
	return nil
}

func (t *Tx) DeleteCodeUsage(_ context.Context, userID, codeID string) error {
	t.usages.del(usageKey(userID, codeID))
	return nil
}

// ---- users ----

func (t *Tx) LockUser(ctx context.Context, id string) (shop.User, error) {
	if err := t.lock(ctx, "user:"+id); err != nil {
		return shop.User{}, err
	}
	u, ok := read(t, t.users, t.s.users, id)
	if !ok {
		return shop.User{}, notFound("user", id)
	}
	return u, nil
}

func (t *Tx) SaveBalance(_ context.Context, id string, balance decimal.Decimal) error {
	u, ok := read(t, t.users, t.s.users, id)
	if !ok {
		return notFound("user", id)
	}
	u.Balance = balance
	u.Touch(time.Now().UTC())
	t.users.put(id, u)
	return nil
}

func (t *Tx) AppendHistory(_ context.Context, h shop.History) error {
	t.history = append(t.history, h)
	return nil
}

// ---- roles ----

func (t *Tx) RoleType(_ context.Context, id string) (shop.RoleType, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rt, ok := t.s.roleTypes[id]
	if !ok {
		return shop.RoleType{}, notFound("role type", id)
	}
	return rt, nil
}

func (t *Tx) LockActiveRole(ctx context.Context, userID, roleTypeID string, now time.Time) (shop.Role, error) {
	for _, r := range scan(t, t.roles, t.s.roles) {
		if r.UserID != userID || r.RoleTypeID != roleTypeID {
			continue
		}
		if err := t.lock(ctx, "role:"+r.ID); err != nil {
			return shop.Role{}, err
		}
		r, ok := read(t, t.roles, t.s.roles, r.ID)
		if ok && r.Status == shop.RoleActive && r.ExpiresAt.After(now) {
			return r, nil
		}
	}
	return shop.Role{}, notFound("active role", userID+"/"+roleTypeID)
}

func (t *Tx) SaveRole(_ context.Context, r shop.Role) error {
	t.roles.put(r.ID, r)
	return nil
}

func (t *Tx) ExpireRoles(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for _, r := range scan(t, t.roles, t.s.roles) {
		if r.Status != shop.RoleActive || r.ExpiresAt.After(now) {
			continue
		}
		if err := t.lock(ctx, "role:"+r.ID); err != nil {
			return n, err
		}
		r.Status = shop.RoleExpired
		r.Touch(now)
		t.roles.put(r.ID, r)
		n++
	}
	return n, nil
}

// ---- orders ----

func (t *Tx) InsertOrder(_ context.Context, o shop.Order) error {
	if _, exists := read(t, t.orders, t.s.orders, o.ID); exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	t.orders.put(o.ID, cloneOrder(o))
	return nil
}

func (t *Tx) Order(_ context.Context, id string) (shop.Order, error) {
	o, ok := read(t, t.orders, t.s.orders, id)
	if !ok {
		return shop.Order{}, notFound("order", id)
	}
	return cloneOrder(o), nil
}

func (t *Tx) LockOrder(ctx context.Context, id string) (shop.Order, error) {
	if err := t.lock(ctx, "order:"+id); err != nil {
		return shop.Order{}, err
	}
	return t.Order(ctx, id)
}

func (t *Tx) SaveOrderStatus(_ context.Context, o shop.Order) error {
	cur, ok := read(t, t.orders, t.s.orders, o.ID)
	if !ok {
		return notFound("order", o.ID)
	}
	cur.Status = o.Status
	cur.IsPaid = o.IsPaid
	cur.UpdatedAt = o.UpdatedAt
	t.orders.put(o.ID, cur)
	return nil
}

// ---- payments ----

func (t *Tx) InsertPayment(_ context.Context, p shop.Payment) error {
	if _, exists := read(t, t.payments, t.s.payments, p.ID); exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	t.payments.put(p.ID, clonePayment(p))
	return nil
}

func (t *Tx) Payment(_ context.Context, id string) (shop.Payment, error) {
	p, ok := read(t, t.payments, t.s.payments, id)
	if !ok {
		return shop.Payment{}, notFound("payment", id)
	}
	return clonePayment(p), nil
}

func (t *Tx) LockPayment(ctx context.Context, id string) (shop.Payment, error) {
	if err := t.lock(ctx, "payment:"+id); err != nil {
		return shop.Payment{}, err
	}
	return t.Payment(ctx, id)
}

func (t *Tx) LivePaymentForOrder(_ context.Context, orderID string) (shop.Payment, error) {
	for _, p := range scan(t, t.payments, t.s.payments) {
		if p.OrderID == orderID && p.Live() {
			return clonePayment(p), nil
		}
	}
	return shop.Payment{}, notFound("live payment for order", orderID)
}

func (t *Tx) SavePayment(_ context.Context, p shop.Payment) error {
	cur, ok := read(t, t.payments, t.s.payments, p.ID)
	if !ok {
		return notFound("payment", p.ID)
	}
	p.Codes = cur.Codes
	t.payments.put(p.ID, clonePayment(p))
	return nil
}

func (t *Tx) LinkPromotionCode(_ context.Context, pc shop.PaymentCode) error {
	p, ok := read(t, t.payments, t.s.payments, pc.PaymentID)
	if !ok {
		return notFound("payment", pc.PaymentID)
	}
	p = clonePayment(p)
	p.Codes = append(p.Codes, pc)
	t.payments.put(p.ID, p)
	return nil
}
