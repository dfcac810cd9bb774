package catalog

import (
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Aggregate type constant
const AggregateTypeCatalogEntry = "CatalogEntry"

// Event type constants
const (
	EventTypeCatalogEntrySubmitted = "CatalogEntrySubmitted"
	EventTypeCatalogEntryReviewed  = "CatalogEntryReviewed"
)

// CatalogEntrySubmittedEvent is raised when an entry enters the review queue
type CatalogEntrySubmittedEvent struct {
	shared.EventMeta
	EntryID            uuid.UUID `json:"entry_id"`
	DisplayName        string    `json:"display_name"`
	ClassificationCode *string   `json:"classification_code,omitempty"`
}

// NewCatalogEntrySubmittedEvent creates a CatalogEntrySubmittedEvent
func NewCatalogEntrySubmittedEvent(e *CatalogEntry) *CatalogEntrySubmittedEvent {
	return &CatalogEntrySubmittedEvent{
		EventMeta:          shared.NewEventMeta(EventTypeCatalogEntrySubmitted, AggregateTypeCatalogEntry, e.ID, e.SubmittingTenantID),
		EntryID:            e.ID,
		DisplayName:        e.DisplayName,
		ClassificationCode: e.ClassificationCode,
	}
}

// CatalogEntryReviewedEvent is raised when a reviewer approves or rejects an entry
type CatalogEntryReviewedEvent struct {
	shared.EventMeta
	EntryID            uuid.UUID  `json:"entry_id"`
	PreviousStatus     Status     `json:"previous_status"`
	NewStatus          Status     `json:"new_status"`
	ReviewerID         *uuid.UUID `json:"reviewer_id,omitempty"`
	ClassificationCode *string    `json:"classification_code,omitempty"`
	RejectionReason    *string    `json:"rejection_reason,omitempty"`
}

// NewCatalogEntryReviewedEvent creates a CatalogEntryReviewedEvent
func NewCatalogEntryReviewedEvent(e *CatalogEntry, previous Status) *CatalogEntryReviewedEvent {
	return &CatalogEntryReviewedEvent{
		EventMeta:          shared.NewEventMeta(EventTypeCatalogEntryReviewed, AggregateTypeCatalogEntry, e.ID, e.SubmittingTenantID),
		EntryID:            e.ID,
		PreviousStatus:     previous,
		NewStatus:          e.Status,
		ReviewerID:         e.ReviewerID,
		ClassificationCode: e.ClassificationCode,
		RejectionReason:    e.RejectionReason,
	}
}
