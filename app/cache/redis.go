package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenKeyPrefix  = "sentry:seen:"
	DefaultSeenTTL = 7 * 24 * time.Hour
)

// SeenCache remembers content URLs known to be in the store so repeat runs can skip
// them without a database round trip. The store stays authoritative: a miss only
// means the database has to be asked.
type SeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSeenCache connects to Redis at addr and verifies the connection.
func NewSeenCache(ctx context.Context, addr string, ttl time.Duration) (*SeenCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}

	return &SeenCache{client: client, ttl: ttl}, nil
}

func (c *SeenCache) Seen(ctx context.Context, url string) (bool, error) {
	count, err := c.client.Exists(ctx, seenKey(url)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check seen url: %w", err)
	}
	return count > 0, nil
}

func (c *SeenCache) MarkSeen(ctx context.Context, url string) error {
	if err := c.client.Set(ctx, seenKey(url), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark url seen: %w", err)
	}
	return nil
}

// Health reports connectivity and the number of cached keys.
func (c *SeenCache) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}

	return health
}

func (c *SeenCache) Close() error {
	return c.client.Close()
}

func seenKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return seenKeyPrefix + hex.EncodeToString(sum[:])
}
