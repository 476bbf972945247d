package ratelimit

import "context"

// RateLimiter throttles operations sharing a key across dispatcher instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// IdempotencyStore remembers keys that have already been accepted.
type IdempotencyStore interface {
	// Claim records key and reports false when it is already held.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
