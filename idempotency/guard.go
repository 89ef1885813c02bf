// Package idempotency drops webhook deliveries that were already processed.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-gateway/models"
)

// Guard remembers deliveries whose result is already committed to the store.
// Seen is a read-only check; Remember is only called once the store has
// settled the delivery, so a failed or interrupted attempt leaves no mark.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// Key identifies one delivery: the same provider, external id and body bytes
func Key(p models.Provider, externalID string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("webhook:%s:%s:%s", p, externalID, hex.EncodeToString(sum[:]))
}

// RedisGuard keeps settled deliveries in Redis so replays are dropped across
// instances
type RedisGuard struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisGuard creates a guard whose entries expire after ttl
func NewRedisGuard(rdb redis.UniversalClient, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Remember(ctx context.Context, key string) error {
	return g.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Err()
}

// NoopGuard never reports a delivery as seen. The store's status
// compare-and-swap still prevents double application.
type NoopGuard struct{}

func (NoopGuard) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopGuard) Remember(context.Context, string) error { return nil }
