package testutil

import (
	"context"

	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
)

// NoOpGovernanceScope runs fn directly against the given repositories with
// no rollback. It lets a test put a wrapped repository inside the scope.
type NoOpGovernanceScope struct {
	entryRepo catalog.CatalogEntryRepository
	auditRepo audit.Repository
}

// NewNoOpGovernanceScope creates a NoOpGovernanceScope
func NewNoOpGovernanceScope(entryRepo catalog.CatalogEntryRepository, auditRepo audit.Repository) *NoOpGovernanceScope {
	return &NoOpGovernanceScope{entryRepo: entryRepo, auditRepo: auditRepo}
}

// Execute runs fn without a transaction
func (s *NoOpGovernanceScope) Execute(_ context.Context, fn func(repos governance.TransactionalRepositories) error) error {
	return fn(s)
}

// CatalogEntries returns the catalog entry repository
func (s *NoOpGovernanceScope) CatalogEntries() catalog.CatalogEntryRepository {
	return s.entryRepo
}

// AuditEntries returns the audit repository
func (s *NoOpGovernanceScope) AuditEntries() audit.Repository {
	return s.auditRepo
}

var _ governance.TransactionScope = (*NoOpGovernanceScope)(nil)
var _ governance.TransactionalRepositories = (*NoOpGovernanceScope)(nil)
