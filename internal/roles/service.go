// Package roles grants the time-limited roles sold as role-type products.
package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/cache"
	"github.com/ariefcatur/go-realtime-payments/internal/shop"
	"github.com/ariefcatur/go-realtime-payments/internal/store"
)

type Service struct {
	Store store.Store // only needed by ExpireRoles
	Cache cache.Cache
	Log   *zap.Logger
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Grant extends the user's active role of roleTypeID by the role type's
// effective period, or creates a new active role when there is none.
func (s *Service) Grant(ctx context.Context, tx store.RoleRepo, userID, roleTypeID string) (shop.Role, error) {
	rt, err := tx.RoleType(ctx, roleTypeID)
	if err != nil {
		return shop.Role{}, fmt.Errorf("roles: load type %s: %w", roleTypeID, err)
	}
	now := s.now()

	r, err := tx.LockActiveRole(ctx, userID, roleTypeID, now)
	switch {
	case err == nil:
		r.ExpiresAt = r.ExpiresAt.Add(rt.Effective())
	case errors.Is(err, shop.ErrNotFound):
		r = shop.Role{
			ID:         uuid.NewString(),
			UserID:     userID,
			RoleTypeID: roleTypeID,
			Status:     shop.RoleActive,
			ExpiresAt:  now.Add(rt.Effective()),
		}
	default:
		return shop.Role{}, fmt.Errorf("roles: lock active %s/%s: %w", userID, roleTypeID, err)
	}
	r.Touch(now)
	if err := tx.SaveRole(ctx, r); err != nil {
		return shop.Role{}, fmt.Errorf("roles: save %s: %w", r.ID, err)
	}
	cache.Mark(ctx, cache.UserKey(userID))
	return r, nil
}

// ExpireRoles marks every overdue active role as expired.
func (s *Service) ExpireRoles(ctx context.Context) (int, error) {
	var n int
	err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.ExpireRoles(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("roles: expire: %w", err)
	}
	if n > 0 && s.Log != nil {
		s.Log.Info("roles_expired", zap.Int("count", n))
	}
	return n, nil
}
