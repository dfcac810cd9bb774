package persistence

import (
	"context"
	"fmt"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogEntryRepository implements CatalogEntryRepository using GORM
type GormCatalogEntryRepository struct {
	db *gorm.DB
}

// NewGormCatalogEntryRepository creates a new GormCatalogEntryRepository
func NewGormCatalogEntryRepository(db *gorm.DB) *GormCatalogEntryRepository {
	return &GormCatalogEntryRepository{db: db}
}

// FindByID finds a catalog entry by its ID
func (r *GormCatalogEntryRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.CatalogEntry, error) {
	var entry catalog.CatalogEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error; err != nil {
		return nil, translateError(err)
	}
	return &entry, nil
}

// FindByIDs finds the catalog entries that exist among ids
func (r *GormCatalogEntryRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.CatalogEntry, error) {
	if len(ids) == 0 {
		return []catalog.CatalogEntry{}, nil
	}
	var entries []catalog.CatalogEntry
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

// FindByNormalizedName finds the entry holding an equivalence key
func (r *GormCatalogEntryRepository) FindByNormalizedName(ctx context.Context, normalizedName string) (*catalog.CatalogEntry, error) {
	var entry catalog.CatalogEntry
	if err := r.db.WithContext(ctx).
		Where("normalized_name = ?", normalizedName).
		Take(&entry).Error; err != nil {
		return nil, translateError(err)
	}
	return &entry, nil
}

// FindByStatus lists one page of entries in a status, oldest first unless
// the filter orders otherwise
func (r *GormCatalogEntryRepository) FindByStatus(ctx context.Context, status catalog.Status, filter shared.Filter) ([]catalog.CatalogEntry, int64, error) {
	filter = filter.Normalize()
	query := r.db.WithContext(ctx).Model(&catalog.CatalogEntry{}).Where("status = ?", status).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	sortField := ValidateSortField(filter.OrderBy, CatalogEntrySortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir, "ASC")

	var entries []catalog.CatalogEntry
	if err := query.
		Order(fmt.Sprintf("%s %s", sortField, sortOrder)).Order("id ASC").
		Offset(filter.Offset()).Limit(filter.PageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, translateError(err)
	}
	return entries, total, nil
}

// FindAll lists one page of all entries, oldest first
func (r *GormCatalogEntryRepository) FindAll(ctx context.Context, filter shared.Filter) ([]catalog.CatalogEntry, error) {
	filter = filter.Normalize()
	var entries []catalog.CatalogEntry
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").Order("id ASC").
		Offset(filter.Offset()).Limit(filter.PageSize).
		Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

// CreateIfAbsent inserts the entry unless its normalized name is taken.
// The unique index on normalized_name decides races between submitters.
func (r *GormCatalogEntryRepository) CreateIfAbsent(ctx context.Context, entry *catalog.CatalogEntry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "normalized_name"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, translateError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SaveWithLock writes a status change guarded by the previous version
func (r *GormCatalogEntryRepository) SaveWithLock(ctx context.Context, entry *catalog.CatalogEntry) error {
	result := r.db.WithContext(ctx).
		Model(&catalog.CatalogEntry{}).
		Where("id = ? AND version = ?", entry.ID, entry.Version-1).
		Updates(map[string]interface{}{
			"classification_code": entry.ClassificationCode,
			"status":              entry.Status,
			"reviewer_id":         entry.ReviewerID,
			"reviewed_at":         entry.ReviewedAt,
			"rejection_reason":    entry.RejectionReason,
			"version":             entry.Version,
			"updated_at":          entry.UpdatedAt,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithMessage("Catalog entry was modified by another transaction")
	}
	return nil
}

// CountPendingReviews counts entries awaiting review; feeds the queue gauge
func (r *GormCatalogEntryRepository) CountPendingReviews(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&catalog.CatalogEntry{}).
		Where("status = ?", catalog.StatusPending).
		Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}

// GormClassificationCodeRepository implements ClassificationCodeRepository using GORM
type GormClassificationCodeRepository struct {
	db *gorm.DB
}

// NewGormClassificationCodeRepository creates a new GormClassificationCodeRepository
func NewGormClassificationCodeRepository(db *gorm.DB) *GormClassificationCodeRepository {
	return &GormClassificationCodeRepository{db: db}
}

// FindByCode finds a classification code
func (r *GormClassificationCodeRepository) FindByCode(ctx context.Context, code string) (*catalog.ClassificationCode, error) {
	var cc catalog.ClassificationCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&cc).Error; err != nil {
		return nil, translateError(err)
	}
	return &cc, nil
}

// FindByCodes finds the classification codes that exist among codes
func (r *GormClassificationCodeRepository) FindByCodes(ctx context.Context, codes []string) ([]catalog.ClassificationCode, error) {
	if len(codes) == 0 {
		return []catalog.ClassificationCode{}, nil
	}
	var out []catalog.ClassificationCode
	if err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&out).Error; err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

// FindAll lists the reference table ordered by code
func (r *GormClassificationCodeRepository) FindAll(ctx context.Context, activeOnly bool) ([]catalog.ClassificationCode, error) {
	query := r.db.WithContext(ctx).Model(&catalog.ClassificationCode{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var out []catalog.ClassificationCode
	if err := query.Order("code ASC").Find(&out).Error; err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

var (
	_ catalog.CatalogEntryRepository       = (*GormCatalogEntryRepository)(nil)
	_ catalog.ClassificationCodeRepository = (*GormClassificationCodeRepository)(nil)
)
