package trade

import (
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentKind distinguishes invoices from purchase bills
type DocumentKind string

const (
	DocumentKindInvoice      DocumentKind = "invoice"
	DocumentKindPurchaseBill DocumentKind = "purchase_bill"
)

// IsValid checks if the kind is known
func (k DocumentKind) IsValid() bool {
	return k == DocumentKindInvoice || k == DocumentKindPurchaseBill
}

// ConsumesStock reports whether posting this kind takes goods out of stock
func (k DocumentKind) ConsumesStock() bool {
	return k == DocumentKindInvoice
}

// DocumentState is the lifecycle state of a document
type DocumentState string

const (
	DocumentStateDraft     DocumentState = "draft"
	DocumentStateFinalized DocumentState = "finalized"
	DocumentStateCancelled DocumentState = "cancelled"
)

// String returns the string representation of the state
func (s DocumentState) String() string {
	return string(s)
}

const amountScale = 2

// LineItem is one line of a document. CatalogEntryID stays nil until the
// tenant links the line to a catalog entry.
type LineItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	DocumentID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo         int             `gorm:"not null"`
	CatalogEntryID *uuid.UUID      `gorm:"type:uuid;index"`
	Description    string          `gorm:"type:varchar(255);not null;default:''"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(9,4);not null;default:0"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
}

// TableName returns the table name for GORM
func (LineItem) TableName() string {
	return "document_lines"
}

// LineInput is the caller-supplied content of a line
type LineInput struct {
	CatalogEntryID *uuid.UUID
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
}

func newLineItem(documentID uuid.UUID, lineNo int, in LineInput) (LineItem, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return LineItem{}, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if in.UnitPrice.IsNegative() {
		return LineItem{}, shared.NewDomainError("INVALID_PRICE", "Unit price cannot be negative")
	}
	return LineItem{
		ID:             uuid.New(),
		DocumentID:     documentID,
		LineNo:         lineNo,
		CatalogEntryID: in.CatalogEntryID,
		Description:    in.Description,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		LineTotal:      in.Quantity.Mul(in.UnitPrice).Round(amountScale),
		TaxRate:        decimal.Zero,
		TaxAmount:      decimal.Zero,
	}, nil
}

// IsLinked reports whether the line references a catalog entry
func (l LineItem) IsLinked() bool {
	return l.CatalogEntryID != nil && *l.CatalogEntryID != uuid.Nil
}

// Document is an invoice or purchase bill owned by one tenant.
// Lines and totals are frozen once the document is finalized.
type Document struct {
	shared.TenantAggregateRoot
	Kind        DocumentKind    `gorm:"type:varchar(20);not null"`
	Number      string          `gorm:"type:varchar(50);not null;default:''"`
	State       DocumentState   `gorm:"type:varchar(20);not null;default:'draft';index"`
	Lines       []LineItem      `gorm:"foreignKey:DocumentID;references:ID"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	TaxTotal    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	GrandTotal  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	FinalizedAt *time.Time
	FinalizedBy *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (Document) TableName() string {
	return "documents"
}

// NewDocument creates a draft document
func NewDocument(tenantID uuid.UUID, createdBy *uuid.UUID, kind DocumentKind, number string, lines []LineInput) (*Document, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_KIND", "Document kind must be invoice or purchase_bill")
	}
	if len(number) > 50 {
		return nil, shared.NewDomainError("INVALID_NUMBER", "Document number cannot exceed 50 characters")
	}

	doc := &Document{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, createdBy),
		Kind:                kind,
		Number:              number,
		State:               DocumentStateDraft,
	}
	if err := doc.setLines(lines); err != nil {
		return nil, err
	}
	return doc, nil
}

// IsDraft reports whether the document can still be edited or posted
func (d *Document) IsDraft() bool {
	return d.State == DocumentStateDraft
}

// ReplaceLines swaps the full line list of a draft
func (d *Document) ReplaceLines(lines []LineInput) error {
	if !d.IsDraft() {
		return shared.ErrInvalidTransition.WithMessage("Lines of a finalized document cannot change")
	}
	if err := d.setLines(lines); err != nil {
		return err
	}
	d.UpdatedAt = time.Now()
	d.IncrementVersion()
	return nil
}

func (d *Document) setLines(inputs []LineInput) error {
	lines := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		line, err := newLineItem(d.ID, i+1, in)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	d.Lines = lines
	d.recalculate()
	return nil
}

func (d *Document) recalculate() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, l := range d.Lines {
		subtotal = subtotal.Add(l.LineTotal)
		tax = tax.Add(l.TaxAmount)
	}
	d.Subtotal = subtotal
	d.TaxTotal = tax
	d.GrandTotal = subtotal.Add(tax)
}

// StockDemand sums line quantities per catalog entry. Unlinked lines are
// ignored; posting only runs after final-mode validation linked them all.
func (d *Document) StockDemand() map[uuid.UUID]decimal.Decimal {
	demand := make(map[uuid.UUID]decimal.Decimal)
	for _, l := range d.Lines {
		if !l.IsLinked() {
			continue
		}
		id := *l.CatalogEntryID
		demand[id] = demand[id].Add(l.Quantity)
	}
	return demand
}

// Finalize freezes taxes and totals and moves the draft to finalized.
// rates maps catalog entry id to the tax rate of its classification.
func (d *Document) Finalize(actorID *uuid.UUID, rates map[uuid.UUID]decimal.Decimal, changes []StockMovement) error {
	if !d.IsDraft() {
		return shared.ErrInvalidTransition.WithMessage("Only draft documents can be posted")
	}
	if len(d.Lines) == 0 {
		return shared.NewDomainError("EMPTY_DOCUMENT", "A document needs at least one line to be posted")
	}

	for i := range d.Lines {
		line := &d.Lines[i]
		rate := decimal.Zero
		if line.IsLinked() {
			rate = rates[*line.CatalogEntryID]
		}
		line.TaxRate = rate
		line.TaxAmount = line.LineTotal.Mul(rate).Round(amountScale)
	}
	d.recalculate()

	now := time.Now()
	d.State = DocumentStateFinalized
	d.FinalizedAt = &now
	d.FinalizedBy = actorID
	d.UpdatedAt = now
	d.IncrementVersion()

	d.AddDomainEvent(NewDocumentPostedEvent(d, changes))

	return nil
}
