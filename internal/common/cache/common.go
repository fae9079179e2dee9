package cache

import (
	"context"
	"time"
)

// GetWithCached implements cache-aside: it returns the cached value for key, or
// calls fn, stores its result with ttl (0 means no expiry) and returns it.
// Cache read and write failures degrade to computing the value.
//
// Example:
//
//	data, err := GetWithCached(ctx, c, key, 0,
//		func(b []byte) string { return string(b) },
//		func(s string) ([]byte, error) { return []byte(s), nil },
//		func(ctx context.Context) ([]byte, error) { return render(ctx) })
func GetWithCached[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, bool, error) {
	var zero T

	if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
		if result, err := unmarshal(cached); err == nil {
			return result, true, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, false, err
	}

	_ = cache.Set(ctx, key, marshal(data), ttl)
	return data, false, nil
}
