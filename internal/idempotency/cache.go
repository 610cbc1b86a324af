package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/go-thumbnailer/internal/store"
)

// Fingerprint is the SHA-256 of the raw payload, hex encoded.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache maps payload fingerprints to the job created for them. Entries are
// written once and expire after ttl.
type Cache struct {
	client redis.Cmdable
	keys   store.Keyspace
	ttl    time.Duration
}

func NewCache(client redis.Cmdable, keys store.Keyspace, ttl time.Duration) *Cache {
	return &Cache{client: client, keys: keys, ttl: ttl}
}

func (c *Cache) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	jobID, err := c.client.Get(ctx, c.keys.Idempotency(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return jobID, true, nil
}

// Record stores jobID for fingerprint unless an entry already exists. It
// reports whether this call created the entry.
func (c *Cache) Record(ctx context.Context, fingerprint, jobID string) (bool, error) {
	return c.client.SetNX(ctx, c.keys.Idempotency(fingerprint), jobID, c.ttl).Result()
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}
