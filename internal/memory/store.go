// Package memory is an in-process store.Store. Row locks are held until the
// transaction ends and writes stay private to the transaction until commit,
// so it reproduces the locking behaviour the services rely on in Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu    sync.RWMutex
	locks map[string]chan struct{}

	products  map[string]shop.Product
	slugs     map[string]string
	stocks    map[string]shop.Stock
	promos    map[string]shop.Promotion
	codes     map[string]shop.PromotionCode
	codeIDs   map[string]string
	usages    map[string]shop.CodeUsage
	users     map[string]shop.User
	history   []shop.History
	roleTypes map[string]shop.RoleType
	roles     map[string]shop.Role
	orders    map[string]shop.Order
	payments  map[string]shop.Payment
}

func New() *Store {
	return &Store{
		locks:     map[string]chan struct{}{},
		products:  map[string]shop.Product{},
		slugs:     map[string]string{},
		stocks:    map[string]shop.Stock{},
		promos:    map[string]shop.Promotion{},
		codes:     map[string]shop.PromotionCode{},
		codeIDs:   map[string]string{},
		usages:    map[string]shop.CodeUsage{},
		users:     map[string]shop.User{},
		roleTypes: map[string]shop.RoleType{},
		roles:     map[string]shop.Role{},
		orders:    map[string]shop.Order{},
		payments:  map[string]shop.Payment{},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := newTx(s)
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) Order(_ context.Context, id string) (shop.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return shop.Order{}, fmt.Errorf("order %s: %w", id, shop.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *Store) Payment(_ context.Context, id string) (shop.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return shop.Payment{}, fmt.Errorf("payment %s: %w", id, shop.ErrNotFound)
	}
	return clonePayment(p), nil
}

// acquire blocks until the named row lock is free or ctx is done.
func (s *Store) acquire(ctx context.Context, key string) error {
	s.mu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) releaseLock(key string) {
	s.mu.RLock()
	ch := s.locks[key]
	s.mu.RUnlock()
	<-ch
}

// ---- seeding & inspection, used by tests and local runs ----

func (s *Store) AddProduct(p shop.Product, units int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.IsAvailable = units > 0
	s.products[p.ID] = p
	s.slugs[p.Slug] = p.ID
	s.stocks[p.ID] = shop.Stock{ProductID: p.ID, Units: units}
}

func (s *Store) AddUser(u shop.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddPromotionCode(c shop.PromotionCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.ID] = c
	s.codeIDs[c.Code] = c.ID
}

func (s *Store) AddPromotion(p shop.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[p.ID] = p
}

func (s *Store) AddRoleType(rt shop.RoleType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleTypes[rt.ID] = rt
}

func (s *Store) AddRole(r shop.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
}

func (s *Store) StockOf(productID string) shop.Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stocks[productID]
}

func (s *Store) ProductByID(id string) shop.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products[id]
}

func (s *Store) UserByID(id string) shop.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

func (s *Store) Code(code string) shop.PromotionCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codes[s.codeIDs[code]]
}

func (s *Store) Usage(userID, codeID string) (shop.CodeUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usages[usageKey(userID, codeID)]
	return u, ok
}

func (s *Store) PromotionByID(id string) shop.Promotion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promos[id]
}

func (s *Store) Histories(userID string) []shop.History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []shop.History
	for _, h := range s.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) Roles(userID string) []shop.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []shop.Role
	for _, r := range s.roles {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func usageKey(userID, codeID string) string { return userID + "|" + codeID }

func cloneOrder(o shop.Order) shop.Order {
	o.Items = append([]shop.Item(nil), o.Items...)
	return o
}

func clonePayment(p shop.Payment) shop.Payment {
	p.Codes = append([]shop.PaymentCode(nil), p.Codes...)
	return p
}
