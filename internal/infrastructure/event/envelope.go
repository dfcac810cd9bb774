package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Envelope is the wire form of a notification
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	TenantID      *uuid.UUID      `json:"tenant_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps evt. A nil tenant id marks a platform-owned subject.
func NewEnvelope(evt shared.DomainEvent) (*Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	meta := evt.Metadata()
	return &Envelope{
		EventID:       meta.ID,
		EventType:     meta.Type,
		AggregateType: meta.AggregateType,
		AggregateID:   meta.AggregateID,
		TenantID:      meta.TenantID,
		OccurredAt:    meta.OccurredAt.UTC(),
		Payload:       payload,
	}, nil
}

// Encode returns the JSON form of the envelope for evt
func Encode(evt shared.DomainEvent) ([]byte, error) {
	env, err := NewEnvelope(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
