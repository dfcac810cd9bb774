package posting

import (
	"context"

	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/trade"
)

// TransactionScope runs one posting in one database transaction.
// If fn returns an error every write made through repos is rolled back and
// all row locks are released.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories gives access to the repositories bound to the
// current transaction
type TransactionalRepositories interface {
	Documents() trade.DocumentRepository
	StockRows() inventory.StockRowRepository
	AuditEntries() audit.Repository
}
