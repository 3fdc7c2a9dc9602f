package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a consumer has already handled.
type Dedup struct {
	rdb      redis.Cmdable
	consumer string
	ttl      time.Duration
}

func NewDedup(rdb redis.Cmdable, consumer string) *Dedup {
	return &Dedup{rdb: rdb, consumer: consumer, ttl: TTLDedup}
}

func (d *Dedup) key(eventID string) string { return fmt.Sprintf(KeyDedup, d.consumer, eventID) }

// Claim returns true for the first caller with eventID.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.key(eventID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup claim %s: %w", eventID, err)
	}
	return ok, nil
}

// Release forgets eventID so a failed event can be processed again.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	if err := d.rdb.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("redis dedup release %s: %w", eventID, err)
	}
	return nil
}
