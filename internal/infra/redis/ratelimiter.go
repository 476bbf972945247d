package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	defaultNamespace         = "rate_limiter"
	minPause                 = 5 * time.Millisecond
)

// Counters outlive their one-second window by a second.
var hitScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], 2)
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a distributed fixed-window limiter backed by Redis.
// Counters are bucketed by namespace, key and unix second, so the request
// guard and the provider throttle can share one Redis without colliding.
type RedisRateLimiter struct {
	client    *goredis.Client
	namespace string
	limit     int64
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, namespace string, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, namespace, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	namespace string,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:    client,
		namespace: namespace,
		limit:     limitPerSec,
		now:       nowFn,
		sleep:     sleepFn,
	}, nil
}

// Allow counts one hit against key in the current one-second window.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := r.hit(ctx, key)
	return allowed, err
}

// Wait blocks until key gets a slot, sleeping to the start of the next
// window after every rejected hit.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, window, err := r.hit(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		pause := window.Add(time.Second).Sub(r.now())
		if pause < minPause {
			pause = minPause
		}
		if err := r.sleep(ctx, pause); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) hit(ctx context.Context, key string) (bool, time.Time, error) {
	if r == nil || r.client == nil {
		return false, time.Time{}, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, time.Time{}, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	window := r.now().UTC().Truncate(time.Second)
	counterKey := fmt.Sprintf("%s:%s:%d", r.namespace, normalized, window.Unix())
	count, err := hitScript.Run(ctx, r.client, []string{counterKey}).Int64()
	if err != nil {
		return false, window, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return count <= r.limit, window, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
