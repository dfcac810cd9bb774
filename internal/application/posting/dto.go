package posting

import (
	"time"

	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CreateDocumentInput is the content of a new draft
type CreateDocumentInput struct {
	Kind   trade.DocumentKind
	Number string
	Lines  []trade.LineInput
}

// LineResponse is the read model of a document line
type LineResponse struct {
	ID             uuid.UUID       `json:"id"`
	LineNo         int             `json:"line_no"`
	CatalogEntryID *uuid.UUID      `json:"catalog_entry_id,omitempty"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
}

// DocumentResponse is the read model of a document
type DocumentResponse struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Kind        string          `json:"kind"`
	Number      string          `json:"number"`
	State       string          `json:"state"`
	Lines       []LineResponse  `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxTotal    decimal.Decimal `json:"tax_total"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	FinalizedAt *time.Time      `json:"finalized_at,omitempty"`
	FinalizedBy *uuid.UUID      `json:"finalized_by,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ToDocumentResponse maps the aggregate to its read model
func ToDocumentResponse(d *trade.Document) DocumentResponse {
	return DocumentResponse{
		ID:       d.ID,
		TenantID: d.TenantID,
		Kind:     string(d.Kind),
		Number:   d.Number,
		State:    d.State.String(),
		Lines: lo.Map(d.Lines, func(l trade.LineItem, _ int) LineResponse {
			return LineResponse{
				ID:             l.ID,
				LineNo:         l.LineNo,
				CatalogEntryID: l.CatalogEntryID,
				Description:    l.Description,
				Quantity:       l.Quantity,
				UnitPrice:      l.UnitPrice,
				LineTotal:      l.LineTotal,
				TaxRate:        l.TaxRate,
				TaxAmount:      l.TaxAmount,
			}
		}),
		Subtotal:    d.Subtotal,
		TaxTotal:    d.TaxTotal,
		GrandTotal:  d.GrandTotal,
		FinalizedAt: d.FinalizedAt,
		FinalizedBy: d.FinalizedBy,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// PostResult is returned by a successful post
type PostResult struct {
	Document  DocumentResponse      `json:"document"`
	Movements []trade.StockMovement `json:"movements"`
}

// StockResponse is the read model of a stock row
type StockResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Version   int             `json:"version"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// ToStockResponse maps a stock row to its read model
func ToStockResponse(row *inventory.StockRow) StockResponse {
	updated := row.UpdatedAt
	return StockResponse{
		ProductID: row.ProductID,
		Quantity:  row.Quantity,
		Version:   row.Version,
		UpdatedAt: &updated,
	}
}
