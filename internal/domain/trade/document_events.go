package trade

import (
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate type constant
const AggregateTypeDocument = "Document"

// EventTypeDocumentPosted is raised after a document is finalized
const EventTypeDocumentPosted = "DocumentPosted"

// StockMovement is the signed quantity a posting applied to one product
type StockMovement struct {
	ProductID uuid.UUID       `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
	After     decimal.Decimal `json:"after"`
}

// DocumentPostedEvent is published once the posting transaction committed
type DocumentPostedEvent struct {
	shared.EventMeta
	DocumentID uuid.UUID       `json:"document_id"`
	Kind       DocumentKind    `json:"kind"`
	Number     string          `json:"number,omitempty"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	PostedBy   *uuid.UUID      `json:"posted_by,omitempty"`
	Movements  []StockMovement `json:"movements"`
}

// NewDocumentPostedEvent creates a DocumentPostedEvent
func NewDocumentPostedEvent(d *Document, movements []StockMovement) *DocumentPostedEvent {
	return &DocumentPostedEvent{
		EventMeta:  shared.NewEventMeta(EventTypeDocumentPosted, AggregateTypeDocument, d.ID, &d.TenantID),
		DocumentID: d.ID,
		Kind:       d.Kind,
		Number:     d.Number,
		GrandTotal: d.GrandTotal,
		PostedBy:   d.FinalizedBy,
		Movements:  movements,
	}
}
