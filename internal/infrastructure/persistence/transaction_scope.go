package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/application/posting"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/trade"
	"gorm.io/gorm"
)

// GormTransactionScope runs a unit of work in one GORM transaction.
// A non-zero lockTimeout is applied with SET LOCAL lock_timeout so a blocked
// row lock fails fast instead of waiting for the statement timeout.
type GormTransactionScope struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewGormTransactionScope creates a new GormTransactionScope.
// Pass lockTimeout 0 for backends without lock_timeout (sqlite).
func NewGormTransactionScope(db *gorm.DB, lockTimeout time.Duration) *GormTransactionScope {
	return &GormTransactionScope{db: db, lockTimeout: lockTimeout}
}

func (s *GormTransactionScope) run(ctx context.Context, fn func(repos *gormTransactionalRepositories) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(&gormTransactionalRepositories{tx: tx})
	})
	return translateError(err)
}

// GovernanceScope adapts the scope to the governance service
func (s *GormTransactionScope) GovernanceScope() governance.TransactionScope {
	return governanceScope{s}
}

// PostingScope adapts the scope to the posting engine
func (s *GormTransactionScope) PostingScope() posting.TransactionScope {
	return postingScope{s}
}

type governanceScope struct{ s *GormTransactionScope }

func (g governanceScope) Execute(ctx context.Context, fn func(repos governance.TransactionalRepositories) error) error {
	return g.s.run(ctx, func(repos *gormTransactionalRepositories) error { return fn(repos) })
}

type postingScope struct{ s *GormTransactionScope }

func (p postingScope) Execute(ctx context.Context, fn func(repos posting.TransactionalRepositories) error) error {
	return p.s.run(ctx, func(repos *gormTransactionalRepositories) error { return fn(repos) })
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// CatalogEntries returns the catalog entry repository scoped to the current transaction.
func (r *gormTransactionalRepositories) CatalogEntries() catalog.CatalogEntryRepository {
	return NewGormCatalogEntryRepository(r.tx)
}

// AuditEntries returns the audit repository scoped to the current transaction.
func (r *gormTransactionalRepositories) AuditEntries() audit.Repository {
	return NewGormAuditRepository(r.tx)
}

// Documents returns the document repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Documents() trade.DocumentRepository {
	return NewGormDocumentRepository(r.tx)
}

// StockRows returns the stock row repository scoped to the current transaction.
func (r *gormTransactionalRepositories) StockRows() inventory.StockRowRepository {
	return NewGormStockRowRepository(r.tx)
}

var (
	_ governance.TransactionScope          = governanceScope{}
	_ posting.TransactionScope             = postingScope{}
	_ governance.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
	_ posting.TransactionalRepositories    = (*gormTransactionalRepositories)(nil)
)
