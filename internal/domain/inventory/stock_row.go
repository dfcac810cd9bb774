package inventory

import (
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockRow is the quantity on hand of one product for one tenant.
// The product identity is the catalog entry id. Only the posting engine
// changes Quantity, inside the transaction that finalizes a document.
type StockRow struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_rows_tenant_product,priority:1"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_rows_tenant_product,priority:2"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Version   int             `gorm:"not null;default:1"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockRow) TableName() string {
	return "stock_rows"
}

// NewStockRow creates an empty stock row
func NewStockRow(tenantID, productID uuid.UUID) (*StockRow, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	now := time.Now()
	return &StockRow{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ProductID: productID,
		Quantity:  decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanCover reports whether quantity can be taken without going negative
func (s *StockRow) CanCover(quantity decimal.Decimal) bool {
	return s.Quantity.GreaterThanOrEqual(quantity)
}

// Decrease takes quantity out of stock. It fails with an
// InsufficientStockError and leaves the row unchanged on shortfall.
func (s *StockRow) Decrease(quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if !s.CanCover(quantity) {
		return shared.NewInsufficientStockError(s.ProductID, quantity, s.Quantity)
	}
	s.Quantity = s.Quantity.Sub(quantity)
	s.touch()
	return nil
}

// Increase adds quantity to stock
func (s *StockRow) Increase(quantity decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	s.Quantity = s.Quantity.Add(quantity)
	s.touch()
	return nil
}

func (s *StockRow) touch() {
	s.UpdatedAt = time.Now()
	s.Version++
}
