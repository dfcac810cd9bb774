package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyPrefix namespaces notification keys in Redis
const DefaultIdempotencyPrefix = "posting-engine:delivered:"

// RedisIdempotencyStore shares delivered notification keys across instances
type RedisIdempotencyStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisIdempotencyStore wraps an existing client. The client is not
// closed by the store.
func NewRedisIdempotencyStore(client redis.Cmdable, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultIdempotencyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed sets the key with SET NX so only the first caller wins
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark %s delivered: %w", key, err)
	}
	return ok, nil
}

// IsProcessed reports whether the key is present
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check %s delivered: %w", key, err)
	}
	return n > 0, nil
}

// Close is a no-op; the owner of the client closes it
func (s *RedisIdempotencyStore) Close() error { return nil }

// NewIdempotencyStore picks the Redis store when a client is available and
// the in-process store otherwise.
func NewIdempotencyStore(client redis.Cmdable) shared.IdempotencyStore {
	if client == nil {
		return NewMemoryIdempotencyStore(0)
	}
	return NewRedisIdempotencyStore(client, "")
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
