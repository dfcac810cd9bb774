package governance

import (
	"context"

	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
)

// TransactionScope runs governance writes in one database transaction.
// If fn returns an error the transaction is rolled back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories gives access to the repositories bound to the
// current transaction. A status flip and its audit entry are written
// through the same TransactionalRepositories so they commit together.
type TransactionalRepositories interface {
	CatalogEntries() catalog.CatalogEntryRepository
	AuditEntries() audit.Repository
}
