package catalog

import (
	"context"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
)

// CatalogEntryRepository persists catalog entries. Reads are cross-tenant.
type CatalogEntryRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*CatalogEntry, error)

	// FindByIDs returns the entries that exist; missing ids are skipped
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]CatalogEntry, error)

	FindByNormalizedName(ctx context.Context, normalizedName string) (*CatalogEntry, error)

	FindByStatus(ctx context.Context, status Status, filter shared.Filter) ([]CatalogEntry, int64, error)

	// FindAll lists entries ordered by creation time; used by the backfill
	FindAll(ctx context.Context, filter shared.Filter) ([]CatalogEntry, error)

	// CreateIfAbsent inserts the entry unless one with the same normalized
	// name already exists. It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, entry *CatalogEntry) (bool, error)

	// SaveWithLock persists a status change guarded by the entry version.
	// The entry's Version must already be incremented.
	SaveWithLock(ctx context.Context, entry *CatalogEntry) error
}

// ClassificationCodeRepository reads the classification reference table
type ClassificationCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*ClassificationCode, error)
	FindByCodes(ctx context.Context, codes []string) ([]ClassificationCode, error)
	FindAll(ctx context.Context, activeOnly bool) ([]ClassificationCode, error)
}
