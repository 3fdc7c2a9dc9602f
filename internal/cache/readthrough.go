package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ReadThrough returns the cached JSON value under key, or calls load and
// caches its result. Cache failures are logged and fall back to load.
func ReadThrough[T any](ctx context.Context, c Cache, log *zap.Logger, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	if log == nil {
		log = zap.NewNop()
	}

	b, err := c.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		log.Warn("cache_decode_failed", zap.String("key", key))
	case !errors.Is(err, ErrMiss):
		log.Warn("cache_get_failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		if err := c.Set(ctx, key, b, ttl); err != nil {
			log.Warn("cache_set_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}
