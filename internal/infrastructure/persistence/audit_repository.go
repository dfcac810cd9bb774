package persistence

import (
	"context"

	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditRepository implements the append-only audit repository using GORM
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Create inserts an audit entry
func (r *GormAuditRepository) Create(ctx context.Context, entry *audit.Entry) error {
	return translateError(r.db.WithContext(ctx).Create(entry).Error)
}

// FindBySubject returns the trail of a subject oldest first, limited to
// tenantID and platform entries when tenantID is set
func (r *GormAuditRepository) FindBySubject(ctx context.Context, subjectType audit.SubjectType, subjectID uuid.UUID, tenantID *uuid.UUID) ([]audit.Entry, error) {
	query := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID)
	if tenantID != nil {
		query = query.Where("(tenant_id = ? OR tenant_id IS NULL)", *tenantID)
	}

	var entries []audit.Entry
	if err := query.Order("occurred_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

// CountBySubject counts every entry of a subject
func (r *GormAuditRepository) CountBySubject(ctx context.Context, subjectType audit.SubjectType, subjectID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&audit.Entry{}).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}

var _ audit.Repository = (*GormAuditRepository)(nil)
