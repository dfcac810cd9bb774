package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which notifications were already delivered so a
// republished event does not reach the sink twice.
type IdempotencyStore interface {
	// MarkProcessed returns true if the key was newly marked, false if it was already present
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	Close() error
}
