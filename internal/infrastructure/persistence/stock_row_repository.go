package persistence

import (
	"context"

	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockRowRepository implements StockRowRepository using GORM
type GormStockRowRepository struct {
	db *gorm.DB
}

// NewGormStockRowRepository creates a new GormStockRowRepository
func NewGormStockRowRepository(db *gorm.DB) *GormStockRowRepository {
	return &GormStockRowRepository{db: db}
}

// FindByProduct reads a row without locking
func (r *GormStockRowRepository) FindByProduct(ctx context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	var row inventory.StockRow
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Take(&row).Error; err != nil {
		return nil, translateError(err)
	}
	return &row, nil
}

// LockForUpdate reads a row with SELECT ... FOR UPDATE. The wait is bounded
// by the transaction's lock_timeout; running out surfaces as ErrLockTimeout.
func (r *GormStockRowRepository) LockForUpdate(ctx context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	var row inventory.StockRow
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Take(&row).Error; err != nil {
		return nil, translateError(err)
	}
	return &row, nil
}

// LockOrCreateForUpdate inserts a zero row if none exists, then locks it.
// A concurrent insert of the same row is absorbed by ON CONFLICT DO NOTHING.
func (r *GormStockRowRepository) LockOrCreateForUpdate(ctx context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	fresh, err := inventory.NewStockRow(tenantID, productID)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "product_id"}},
			DoNothing: true,
		}).
		Create(fresh).Error; err != nil {
		return nil, translateError(err)
	}
	return r.LockForUpdate(ctx, tenantID, productID)
}

// Save writes a row guarded by the previous version
func (r *GormStockRowRepository) Save(ctx context.Context, row *inventory.StockRow) error {
	result := r.db.WithContext(ctx).
		Model(&inventory.StockRow{}).
		Where("id = ? AND version = ?", row.ID, row.Version-1).
		Updates(map[string]interface{}{
			"quantity":   row.Quantity,
			"version":    row.Version,
			"updated_at": row.UpdatedAt,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithMessage("Stock row was modified by another transaction")
	}
	return nil
}

var _ inventory.StockRowRepository = (*GormStockRowRepository)(nil)
