// Package lock provides run guards that keep the governance backfill to a
// single concurrent runner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/postingengine/internal/application/governance"
	"go.uber.org/zap"
)

// RedisGuard holds a Redis lock for the duration of a run. The TTL bounds
// how long a crashed runner can block the next one.
type RedisGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGuard creates a guard backed by client
func NewRedisGuard(client redislock.RedisClient, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{locker: redislock.New(client), ttl: ttl, logger: logger}
}

// Acquire obtains key without waiting
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	l, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, governance.ErrBackfillRunning
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	g.logger.Debug("Run lock obtained", zap.String("key", key), zap.Duration("ttl", g.ttl))

	return func(ctx context.Context) error {
		err := l.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			g.logger.Warn("Run lock expired before release", zap.String("key", key))
			return nil
		}
		return err
	}, nil
}

// LocalGuard serializes runs inside one process. Used when Redis is off.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard creates a LocalGuard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

// Acquire claims key, failing if it is already held
func (g *LocalGuard) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, governance.ErrBackfillRunning
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
		return nil
	}, nil
}

var (
	_ governance.BackfillGuard = (*RedisGuard)(nil)
	_ governance.BackfillGuard = (*LocalGuard)(nil)
)
