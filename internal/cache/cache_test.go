package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestMemoryCache_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, err := c.Get(ctx, "Name Tag"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	if err := c.Set(ctx, "Name Tag", []byte("5020;6"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "Name Tag")
	if err != nil || string(got) != "5020;6" {
		t.Fatalf("got %q, %v", got, err)
	}

	n, _ := c.Len(ctx)
	if n != 1 {
		t.Fatalf("len=%d", n)
	}
}

func TestMemoryCache_TTLExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_ = c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Fatalf("expired entry not dropped, len=%d", n)
	}
}

func TestMemoryCache_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, 0)
	buf[0] = 'x'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("cache aliased caller buffer: %q", got)
	}
}

func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; integration test skipped")
	}
	ctx := context.Background()

	c, err := NewRedisCache(RedisConfig{Addr: addr, KeyPrefix: "listingsync:test:" + time.Now().Format("150405.000")})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	defer c.client.Del(ctx, c.hashKey())

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Set(ctx, "Name Tag", []byte("5020;6"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "Name Tag")
	if err != nil || string(got) != "5020;6" {
		t.Fatalf("got %q, %v", got, err)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Fatalf("len=%d", n)
	}
}
