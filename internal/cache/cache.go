// Package cache holds small JSON caches keyed by string.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Load is cache-aside: a hit is decoded into a fresh T, a miss calls load
// and stores the result for ttl. Cache errors count as misses.
func Load[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	var cached T
	if hit, err := c.GetJSON(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	_ = c.SetJSON(ctx, key, v, ttl)
	return v, nil
}
