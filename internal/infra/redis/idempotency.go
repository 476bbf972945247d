package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const defaultIdempotencyTTL = 10 * time.Minute

var _ ratelimit.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore claims request keys with SET NX so a repeated request
// inside the TTL is detected by every instance.
type IdempotencyStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) (*IdempotencyStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return &IdempotencyStore{client: client, ttl: ttl}, nil
}

func (s *IdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	redisKey, err := idempotencyKey(key)
	if err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	claimed, err := s.client.SetNX(ctx, redisKey, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return claimed, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	redisKey, err := idempotencyKey(key)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func idempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("idempotency key is required")
	}
	return "idempotent:" + key, nil
}
