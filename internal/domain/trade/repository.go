package trade

import (
	"context"

	"github.com/google/uuid"
)

// DocumentRepository persists documents. Every call is tenant-scoped.
type DocumentRepository interface {
	// FindByIDForTenant loads a document with its lines in line order
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)

	// LockForUpdate loads a document and holds its row lock until the
	// surrounding transaction ends
	LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)

	// Create inserts a new draft with its lines
	Create(ctx context.Context, doc *Document) error

	// SaveWithLock writes header and lines of a document whose Version was
	// incremented by the caller, guarded by the previous version
	SaveWithLock(ctx context.Context, doc *Document) error
}
