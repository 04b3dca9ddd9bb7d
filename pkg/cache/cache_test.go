package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("got %q, want v", got)
	}

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCache_RateLimit(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.RateLimit(ctx, "client", 3, time.Minute)
		if err != nil {
			t.Fatalf("rate limit: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("request %d: remaining %d, want %d", i+1, res.Remaining, 3-(i+1))
		}
	}

	res, err := c.RateLimit(ctx, "client", 3, time.Minute)
	if err != nil {
		t.Fatalf("rate limit: %v", err)
	}
	if res.Allowed {
		t.Error("4th request should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining %d, want 0", res.Remaining)
	}
}

func TestMemoryCache_RateLimitWindowReset(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if _, err := c.RateLimit(ctx, "client", 2, time.Minute); err != nil {
			t.Fatalf("rate limit: %v", err)
		}
	}
	if res, _ := c.RateLimit(ctx, "client", 2, time.Minute); res.Allowed {
		t.Fatal("window should be exhausted")
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	res, err := c.RateLimit(ctx, "client", 2, time.Minute)
	if err != nil {
		t.Fatalf("rate limit: %v", err)
	}
	if !res.Allowed {
		t.Error("new window should allow requests again")
	}
}

func TestKeyBuilders(t *testing.T) {
	if k := EmbeddingKey("model-a", "hello"); !strings.HasPrefix(k, "embedding:model-a:") {
		t.Errorf("unexpected embedding key %q", k)
	}
	if EmbeddingKey("m", "a") == EmbeddingKey("m", "b") {
		t.Error("different texts must produce different embedding keys")
	}
	if SearchKey("q", "hybrid", 8, false) == SearchKey("q", "hybrid", 8, true) {
		t.Error("filter presence must change the search key")
	}
	if RewriteKey("hyde", "q") == RewriteKey("multiquery", "q") {
		t.Error("strategy must change the rewrite key")
	}
	if !strings.HasPrefix(RateLimitKey("1.2.3.4"), "rate-limit:") {
		t.Error("rate limit key missing prefix")
	}
}

func TestVectorDigest(t *testing.T) {
	a := VectorDigest([]float32{1, 0, 0})
	if a != VectorDigest([]float32{1, 0, 0}) {
		t.Error("equal vectors must share a digest")
	}
	if a == VectorDigest([]float32{0, 1, 0}) {
		t.Error("different vectors must not share a digest")
	}
	if a == VectorDigest([]float32{1, 0}) {
		t.Error("vector length must change the digest")
	}
}

func TestMemoryCache_KeysAndReset(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "b", []byte("2"), time.Minute); err != nil {
		t.Fatal(err)
	}

	n, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys, got %d", n)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, _ = c.Keys(ctx)
	if n != 0 {
		t.Errorf("expected empty cache after reset, got %d keys", n)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("reset should drop stored values")
	}
}
