package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestIdempotencyStoreClaimAndRelease(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	store, err := NewIdempotencyStore(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewIdempotencyStore() error = %v", err)
	}

	claimed, err := store.Claim(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	claimed, err = store.Claim(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed {
		t.Fatal("second claim should be rejected")
	}

	if err := store.Release(context.Background(), "abc"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	claimed, err = store.Claim(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !claimed {
		t.Fatal("claim after release should succeed")
	}
}

func TestIdempotencyStoreKeyExpires(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	store, err := NewIdempotencyStore(rdb, 30*time.Second)
	if err != nil {
		t.Fatalf("NewIdempotencyStore() error = %v", err)
	}

	if claimed, err := store.Claim(context.Background(), "key"); err != nil || !claimed {
		t.Fatalf("Claim() = (%v, %v), want (true, nil)", claimed, err)
	}
	if !mr.Exists("idempotent:key") {
		t.Fatal("expected idempotent:key to be stored")
	}
	if ttl := mr.TTL("idempotent:key"); ttl != 30*time.Second {
		t.Fatalf("TTL = %s, want 30s", ttl)
	}

	mr.FastForward(31 * time.Second)

	if claimed, err := store.Claim(context.Background(), "key"); err != nil || !claimed {
		t.Fatalf("Claim() after expiry = (%v, %v), want (true, nil)", claimed, err)
	}
}

func TestIdempotencyStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store, err := NewIdempotencyStore(newTestRedisClient(t), 0)
	if err != nil {
		t.Fatalf("NewIdempotencyStore() error = %v", err)
	}
	if _, err := store.Claim(context.Background(), "  "); err == nil {
		t.Fatal("Claim() error = nil, want error")
	}
	if err := store.Release(context.Background(), ""); err == nil {
		t.Fatal("Release() error = nil, want error")
	}
}

func TestNewIdempotencyStoreRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewIdempotencyStore(nil, time.Minute); err == nil {
		t.Fatal("NewIdempotencyStore(nil) error = nil, want error")
	}
}
