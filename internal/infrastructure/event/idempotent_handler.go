package event

import (
	"context"
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"go.uber.org/zap"
)

// IdempotentHandler drops events whose id was already delivered through it
type IdempotentHandler struct {
	next   shared.EventHandler
	store  shared.IdempotencyStore
	name   string
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotentHandler wraps next. name scopes the keys so two wrapped
// handlers can each receive the same event once.
func NewIdempotentHandler(name string, next shared.EventHandler, store shared.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotentHandler{next: next, store: store, name: name, ttl: ttl, logger: logger}
}

// EventTypes delegates to the wrapped handler
func (h *IdempotentHandler) EventTypes() []string {
	return h.next.EventTypes()
}

// Handle delivers evt once per ttl. A store failure delivers anyway; a
// duplicate notification is preferred over a lost one.
func (h *IdempotentHandler) Handle(ctx context.Context, evt shared.DomainEvent) error {
	key := h.name + ":" + evt.Metadata().ID.String()

	fresh, err := h.store.MarkProcessed(ctx, key, h.ttl)
	switch {
	case err != nil:
		h.logger.Warn("Idempotency store unavailable, delivering",
			zap.String("key", key), zap.Error(err))
	case !fresh:
		h.logger.Debug("Duplicate notification skipped", zap.String("key", key))
		return nil
	}
	return h.next.Handle(ctx, evt)
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
