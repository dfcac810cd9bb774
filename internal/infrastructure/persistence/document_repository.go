package persistence

import (
	"context"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDocumentRepository implements DocumentRepository using GORM
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository creates a new GormDocumentRepository
func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

// FindByIDForTenant loads a document with its lines in line order
func (r *GormDocumentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*trade.Document, error) {
	return r.find(ctx, r.db.WithContext(ctx), tenantID, id)
}

// LockForUpdate loads a document holding its row lock (SELECT ... FOR UPDATE)
func (r *GormDocumentRepository) LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*trade.Document, error) {
	return r.find(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *GormDocumentRepository) find(ctx context.Context, query *gorm.DB, tenantID, id uuid.UUID) (*trade.Document, error) {
	var doc trade.Document
	if err := query.Where("tenant_id = ? AND id = ?", tenantID, id).Take(&doc).Error; err != nil {
		return nil, translateError(err)
	}
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Order("line_no ASC").
		Find(&doc.Lines).Error; err != nil {
		return nil, translateError(err)
	}
	return &doc, nil
}

// Create inserts a draft and its lines
func (r *GormDocumentRepository) Create(ctx context.Context, doc *trade.Document) error {
	return translateError(r.db.WithContext(ctx).Create(doc).Error)
}

// SaveWithLock rewrites the header guarded by the previous version, then
// replaces the line set
func (r *GormDocumentRepository) SaveWithLock(ctx context.Context, doc *trade.Document) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&trade.Document{}).
			Where("id = ? AND tenant_id = ? AND version = ?", doc.ID, doc.TenantID, doc.Version-1).
			Updates(map[string]interface{}{
				"number":       doc.Number,
				"state":        doc.State,
				"subtotal":     doc.Subtotal,
				"tax_total":    doc.TaxTotal,
				"grand_total":  doc.GrandTotal,
				"finalized_at": doc.FinalizedAt,
				"finalized_by": doc.FinalizedBy,
				"version":      doc.Version,
				"updated_at":   doc.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict.WithMessage("Document was modified by another transaction")
		}

		if err := tx.Where("document_id = ?", doc.ID).Delete(&trade.LineItem{}).Error; err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return nil
		}
		return tx.Create(&doc.Lines).Error
	})
	return translateError(err)
}

var _ trade.DocumentRepository = (*GormDocumentRepository)(nil)
