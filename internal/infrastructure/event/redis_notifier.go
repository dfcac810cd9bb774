package event

import (
	"context"
	"fmt"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/redis/go-redis/v9"
)

// Publisher is the part of a Redis client the notifier uses
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier forwards notifications to a Redis pub/sub channel as JSON
// envelopes
type RedisNotifier struct {
	client  Publisher
	channel string
}

// NewRedisNotifier creates a notifier publishing to channel
func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// EventTypes lists the notifications forwarded to Redis
func (n *RedisNotifier) EventTypes() []string {
	return []string{
		catalog.EventTypeCatalogEntrySubmitted,
		catalog.EventTypeCatalogEntryReviewed,
		trade.EventTypeDocumentPosted,
	}
}

// Handle publishes the envelope for evt
func (n *RedisNotifier) Handle(ctx context.Context, evt shared.DomainEvent) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.EventType(), n.channel, err)
	}
	return nil
}

var _ shared.EventHandler = (*RedisNotifier)(nil)
