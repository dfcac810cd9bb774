package inventory

import (
	"context"

	"github.com/google/uuid"
)

// StockRowRepository persists stock rows. Every call is tenant-scoped.
type StockRowRepository interface {
	// FindByProduct reads a row without locking
	FindByProduct(ctx context.Context, tenantID, productID uuid.UUID) (*StockRow, error)

	// LockForUpdate reads a row and holds a row lock until the surrounding
	// transaction ends. Returns shared.ErrNotFound when the row is missing.
	LockForUpdate(ctx context.Context, tenantID, productID uuid.UUID) (*StockRow, error)

	// LockOrCreateForUpdate is LockForUpdate that first inserts a zero row
	// when none exists
	LockOrCreateForUpdate(ctx context.Context, tenantID, productID uuid.UUID) (*StockRow, error)

	// Save writes a row whose Version was incremented by the caller,
	// guarded by the previous version
	Save(ctx context.Context, row *StockRow) error
}
