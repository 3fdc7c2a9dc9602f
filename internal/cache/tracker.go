package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Tracker collects the keys a transaction dirtied so they can be invalidated
// once, right after the commit succeeds. A rolled back transaction simply
// drops its tracker.
type Tracker struct {
	mu   sync.Mutex
	keys []string
	seen map[string]bool
}

type trackerKey struct{}

// Track returns a context carrying a fresh Tracker.
func Track(ctx context.Context) (context.Context, *Tracker) {
	t := &Tracker{seen: map[string]bool{}}
	return context.WithValue(ctx, trackerKey{}, t), t
}

// Mark records keys on the tracker carried by ctx, if any.
func Mark(ctx context.Context, keys ...string) {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		if !t.seen[k] {
			t.seen[k] = true
			t.keys = append(t.keys, k)
		}
	}
}

func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}

// Flush invalidates every marked key. Failures are logged, not returned:
// the mutation is already committed.
func (t *Tracker) Flush(ctx context.Context, c Cache, log *zap.Logger) {
	keys := t.Keys()
	if len(keys) == 0 || c == nil {
		return
	}
	if err := c.Invalidate(ctx, keys...); err != nil && log != nil {
		log.Warn("cache_invalidate_failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
