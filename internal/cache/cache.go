// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "cache").Logger()

// Cache is a small JSON read-through cache over Redis. A nil *Cache is valid
// and behaves as a cache that always misses, so callers never need to branch
// on whether Redis is configured.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps a Redis client. Passing a nil client yields a nil (disabled) cache.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// BookKey is the cache key for a book snapshot.
func BookKey(id uuid.UUID) string {
	return "book:" + id.String()
}

// Get unmarshals the cached value into v and reports whether it was a hit.
func (c *Cache) Get(ctx context.Context, key string, v interface{}) bool {
	if c == nil {
		return false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	return json.Unmarshal([]byte(val), v) == nil
}

// Set stores v under key with the configured TTL. Failures are logged and
// otherwise ignored; the database remains the source of truth.
func (c *Cache) Set(ctx context.Context, key string, v interface{}) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Delete drops key, if present.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}
