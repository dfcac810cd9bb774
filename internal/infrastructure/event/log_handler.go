package event

import (
	"context"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// LogHandler writes one structured line per notification
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a LogHandler
func NewLogHandler(l *zap.Logger) *LogHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogHandler{logger: l.Named("notifications")}
}

// EventTypes returns nil: the handler receives everything
func (h *LogHandler) EventTypes() []string { return nil }

// Handle logs evt with fields specific to its type
func (h *LogHandler) Handle(ctx context.Context, evt shared.DomainEvent) error {
	meta := evt.Metadata()
	fields := []zap.Field{
		zap.String("event_type", meta.Type),
		zap.String("event_id", meta.ID.String()),
		zap.String("aggregate_id", meta.AggregateID.String()),
	}
	switch e := evt.(type) {
	case *catalog.CatalogEntrySubmittedEvent:
		fields = append(fields, zap.String("display_name", e.DisplayName))
	case *catalog.CatalogEntryReviewedEvent:
		fields = append(fields,
			zap.String("previous_status", string(e.PreviousStatus)),
			zap.String("new_status", string(e.NewStatus)))
	case *trade.DocumentPostedEvent:
		fields = append(fields,
			zap.String("kind", string(e.Kind)),
			zap.String("grand_total", e.GrandTotal.StringFixed(2)),
			zap.Int("movements", len(e.Movements)))
	}
	logger.Enrich(ctx, h.logger).Info("Notification", fields...)
	return nil
}

var _ shared.EventHandler = (*LogHandler)(nil)
