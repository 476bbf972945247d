package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// fakeClock drives the limiter's window selection and records pauses.
type fakeClock struct {
	now    time.Time
	pauses []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.pauses = append(c.pauses, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(t *testing.T, rdb *goredis.Client, namespace string, limit int64, clock *fakeClock) *RedisRateLimiter {
	t.Helper()

	limiter, err := newRedisRateLimiter(rdb, namespace, limit, clock.Now, clock.Sleep)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	return limiter
}

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	limiter := newTestLimiter(t, newTestRedisClient(t), "test", 2, clock)

	testCases := []struct {
		name    string
		key     string
		advance time.Duration
		want    bool
	}{
		{name: "first hit", key: "provider:sms", want: true},
		{name: "second hit", key: "provider:sms", want: true},
		{name: "over limit", key: "provider:sms", want: false},
		{name: "other key has its own window", key: "provider:email", want: true},
		{name: "normalized key shares the counter", key: " Provider:SMS ", want: false},
		{name: "next window", key: "provider:sms", advance: time.Second, want: true},
	}

	for _, tc := range testCases {
		clock.now = clock.now.Add(tc.advance)
		allowed, err := limiter.Allow(context.Background(), tc.key)
		if err != nil {
			t.Fatalf("%s: Allow() error = %v", tc.name, err)
		}
		if allowed != tc.want {
			t.Fatalf("%s: Allow(%q) = %v, want %v", tc.name, tc.key, allowed, tc.want)
		}
	}
}

func TestRedisRateLimiterBlankKey(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_100, 0)}
	limiter := newTestLimiter(t, newTestRedisClient(t), "test", 1, clock)

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() error = nil for blank key")
	}
	if err := limiter.Wait(context.Background(), ""); err == nil {
		t.Fatal("Wait() error = nil for blank key")
	}
	if _, err := newRedisRateLimiter(nil, "test", 1, nil, nil); err == nil {
		t.Fatal("newRedisRateLimiter() error = nil for nil client")
	}
}

func TestRedisRateLimiterNamespaces(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	clock := &fakeClock{now: time.Unix(1_700_000_200, 0)}
	requests := newTestLimiter(t, rdb, "request", 1, clock)
	providers := newTestLimiter(t, rdb, "provider", 1, clock)

	if allowed, err := requests.Allow(context.Background(), "sms"); err != nil || !allowed {
		t.Fatalf("requests.Allow() = %v, %v, want true, nil", allowed, err)
	}
	if allowed, err := providers.Allow(context.Background(), "sms"); err != nil || !allowed {
		t.Fatalf("providers.Allow() = %v, %v, want true, nil", allowed, err)
	}
	if allowed, err := requests.Allow(context.Background(), "sms"); err != nil || allowed {
		t.Fatalf("requests.Allow() = %v, %v, want false, nil", allowed, err)
	}
}

func TestRedisRateLimiterWaitSleepsToNextWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_300, 0).Add(300 * time.Millisecond)}
	limiter := newTestLimiter(t, newTestRedisClient(t), "test", 1, clock)

	for i := 0; i < 2; i++ {
		if err := limiter.Wait(context.Background(), "provider:push"); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}
	if len(clock.pauses) != 1 || clock.pauses[0] != 700*time.Millisecond {
		t.Fatalf("pauses = %v, want [700ms]", clock.pauses)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_400, 0)
	limiter, err := newRedisRateLimiter(newTestRedisClient(t), "test", 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	if allowed, err := limiter.Allow(context.Background(), "provider:sms"); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want true, nil", allowed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "provider:sms")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), "not-a-url"); err == nil {
		t.Fatal("NewRedis() error = nil for invalid url")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
