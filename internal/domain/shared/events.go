package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact raised by an aggregate and published after commit
type DomainEvent interface {
	EventType() string
	Metadata() EventMeta
}

// EventMeta identifies an event and the aggregate that raised it. Events
// embed it so the fields are serialized next to the payload.
type EventMeta struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	// TenantID is nil when the aggregate is platform owned
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewEventMeta stamps a new event id and the current time
func NewEventMeta(eventType, aggregateType string, aggregateID uuid.UUID, tenantID *uuid.UUID) EventMeta {
	meta := EventMeta{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
	}
	if tenantID != nil && *tenantID != uuid.Nil {
		tid := *tenantID
		meta.TenantID = &tid
	}
	return meta
}

// EventType implements DomainEvent
func (m EventMeta) EventType() string { return m.Type }

// Metadata implements DomainEvent
func (m EventMeta) Metadata() EventMeta { return m }

// EventPublisher is the notification sink the governance and posting
// services write into after commit
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventHandler receives published events. Empty EventTypes means every type.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}
