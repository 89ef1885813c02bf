package idempotency

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"crypto-gateway/models"
)

func TestKey(t *testing.T) {
	a := Key(models.ProviderCoinbase, "chg_1", []byte(`{"a":1}`))
	b := Key(models.ProviderCoinbase, "chg_1", []byte(`{"a":1}`))
	if a != b {
		t.Fatal("key must be deterministic")
	}
	if !strings.HasPrefix(a, "webhook:coinbase:chg_1:") {
		t.Fatalf("unexpected key %s", a)
	}

	if Key(models.ProviderCoinbase, "chg_1", []byte(`{"a":2}`)) == a {
		t.Fatal("different bodies must produce different keys")
	}
	if Key(models.ProviderBTCPay, "chg_1", []byte(`{"a":1}`)) == a {
		t.Fatal("different providers must produce different keys")
	}
}

func TestNoopGuardNeverSeesAnything(t *testing.T) {
	var g Guard = NoopGuard{}
	for i := 0; i < 3; i++ {
		if err := g.Remember(context.Background(), "k"); err != nil {
			t.Fatal(err)
		}
		seen, err := g.Seen(context.Background(), "k")
		if err != nil || seen {
			t.Fatalf("seen %d = %v, %v", i, seen, err)
		}
	}
}

func newRedisGuard(t *testing.T, ttl time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisGuard(rdb, ttl), mr
}

func TestRedisGuard(t *testing.T) {
	g, mr := newRedisGuard(t, time.Hour)
	ctx := context.Background()
	key := Key(models.ProviderBTCPay, "inv_1", []byte(`{}`))

	seen, err := g.Seen(ctx, key)
	if err != nil || seen {
		t.Fatalf("fresh key seen = %v, %v", seen, err)
	}
	if mr.Exists(key) {
		t.Fatal("Seen must not write the key")
	}

	if err := g.Remember(ctx, key); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := g.Remember(ctx, key); err != nil {
		t.Fatalf("second Remember: %v", err)
	}
	seen, err = g.Seen(ctx, key)
	if err != nil || !seen {
		t.Fatalf("remembered key seen = %v, %v", seen, err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if seen, _ := g.Seen(ctx, key); seen {
		t.Fatal("key must expire after the ttl")
	}
}

func TestRedisGuardHonoursCancellation(t *testing.T) {
	g, mr := newRedisGuard(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Seen(ctx, "k"); err == nil {
		t.Fatal("Seen on a cancelled context must fail")
	}
	if err := g.Remember(ctx, "k"); err == nil {
		t.Fatal("Remember on a cancelled context must fail")
	}
	if mr.Exists("k") {
		t.Fatal("cancelled Remember wrote the key")
	}
}

func TestRedisGuardUnavailable(t *testing.T) {
	g, mr := newRedisGuard(t, time.Hour)
	mr.Close()

	if _, err := g.Seen(context.Background(), "k"); err == nil {
		t.Fatal("Seen must report an unreachable server")
	}
}
