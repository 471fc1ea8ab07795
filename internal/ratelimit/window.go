// Package ratelimit provides Redis-backed fixed-window attempt counters.
// The identity core consumes them through its AttemptWindow interface, so
// nothing there touches Redis directly.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis transport failures so callers can map them to a
// transient error class.
var ErrUnavailable = errors.New("ratelimit: redis unavailable")

const keyPrefix = "idw:"

// Window counts attempts per key inside a fixed TTL window.
type Window struct {
	rdb *redis.Client
}

// New wraps an existing client.
func New(rdb *redis.Client) *Window {
	return &Window{rdb: rdb}
}

// Incr adds one attempt under key and returns the new count. The first
// increment in a window arms the TTL.
func (w *Window) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := w.rdb.Incr(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := w.rdb.Expire(ctx, keyPrefix+key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

// Count reads the current attempt count without touching it. A missing key
// counts as zero.
func (w *Window) Count(ctx context.Context, key string) (int64, error) {
	count, err := w.rdb.Get(ctx, keyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Ping reports backend health for readiness probes.
func (w *Window) Ping(ctx context.Context) error {
	if err := w.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
