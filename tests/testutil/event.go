package testutil

import (
	"context"
	"sync"

	"github.com/erp/postingengine/internal/domain/shared"
)

// RecordingHandler records every event it receives. It works both as a bus
// subscriber and as a direct EventPublisher.
type RecordingHandler struct {
	mu         sync.Mutex
	eventTypes []string
	events     []shared.DomainEvent
	err        error
}

// NewRecordingHandler creates a handler for eventTypes; none means all types
func NewRecordingHandler(eventTypes ...string) *RecordingHandler {
	return &RecordingHandler{eventTypes: eventTypes}
}

// EventTypes returns the event types this handler subscribes to.
func (h *RecordingHandler) EventTypes() []string {
	return h.eventTypes
}

// Handle records event and returns the configured error
func (h *RecordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

// Publish records events in order
func (h *RecordingHandler) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, e := range events {
		if err := h.Handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// SetError makes later Handle calls fail with err
func (h *RecordingHandler) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Events returns a copy of the recorded events
func (h *RecordingHandler) Events() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]shared.DomainEvent, len(h.events))
	copy(out, h.events)
	return out
}

// Types returns the recorded event types in arrival order
func (h *RecordingHandler) Types() []string {
	events := h.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

// Reset drops recorded events and the configured error
func (h *RecordingHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
	h.err = nil
}
