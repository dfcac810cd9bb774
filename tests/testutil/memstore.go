package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/application/posting"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stockKey struct {
	tenantID  uuid.UUID
	productID uuid.UUID
}

// MemStore is an in-memory stand-in for the database used by service tests.
// Transactions are serialized and roll back by restoring a snapshot, which
// gives the same observable isolation as row locks held to commit.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	entries map[uuid.UUID]catalog.CatalogEntry
	codes   map[string]catalog.ClassificationCode
	audits  []audit.Entry
	docs    map[uuid.UUID]trade.Document
	stock   map[stockKey]inventory.StockRow

	lockLog  [][]uuid.UUID
	inTx     bool
	commits  int
	rollback int

	// LockHook runs before every stock row lock; a non-nil error is
	// returned from the lock call
	LockHook func(productID uuid.UUID) error
}

// NewMemStore creates an empty MemStore
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[uuid.UUID]catalog.CatalogEntry),
		codes:   make(map[string]catalog.ClassificationCode),
		docs:    make(map[uuid.UUID]trade.Document),
		stock:   make(map[stockKey]inventory.StockRow),
	}
}

type memSnapshot struct {
	entries map[uuid.UUID]catalog.CatalogEntry
	audits  []audit.Entry
	docs    map[uuid.UUID]trade.Document
	stock   map[stockKey]inventory.StockRow
}

func (s *MemStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		entries: make(map[uuid.UUID]catalog.CatalogEntry, len(s.entries)),
		audits:  slices.Clone(s.audits),
		docs:    make(map[uuid.UUID]trade.Document, len(s.docs)),
		stock:   make(map[stockKey]inventory.StockRow, len(s.stock)),
	}
	for k, v := range s.entries {
		snap.entries[k] = v
	}
	for k, v := range s.docs {
		v.Lines = slices.Clone(v.Lines)
		snap.docs[k] = v
	}
	for k, v := range s.stock {
		snap.stock[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.entries
	s.audits = snap.audits
	s.docs = snap.docs
	s.stock = snap.stock
}

func (s *MemStore) execute(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	s.mu.Lock()
	s.inTx = true
	s.lockLog = append(s.lockLog, nil)
	s.mu.Unlock()

	err := fn()

	s.mu.Lock()
	s.inTx = false
	s.mu.Unlock()
	if err != nil {
		s.restore(snap)
		s.mu.Lock()
		s.rollback++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

// GovernanceScope returns a transaction scope for the governance service
func (s *MemStore) GovernanceScope() governance.TransactionScope {
	return memGovernanceScope{s}
}

// PostingScope returns a transaction scope for the posting service
func (s *MemStore) PostingScope() posting.TransactionScope {
	return memPostingScope{s}
}

type memGovernanceScope struct{ s *MemStore }

func (g memGovernanceScope) Execute(_ context.Context, fn func(governance.TransactionalRepositories) error) error {
	return g.s.execute(func() error { return fn(g.s) })
}

type memPostingScope struct{ s *MemStore }

func (p memPostingScope) Execute(_ context.Context, fn func(posting.TransactionalRepositories) error) error {
	return p.s.execute(func() error { return fn(p.s) })
}

// CatalogEntries returns the catalog entry repository
func (s *MemStore) CatalogEntries() catalog.CatalogEntryRepository { return memEntries{s} }

// ClassificationCodes returns the classification reference repository
func (s *MemStore) ClassificationCodes() catalog.ClassificationCodeRepository { return memCodes{s} }

// AuditEntries returns the audit repository
func (s *MemStore) AuditEntries() audit.Repository { return memAudit{s} }

// Documents returns the document repository
func (s *MemStore) Documents() trade.DocumentRepository { return memDocs{s} }

// StockRows returns the stock row repository
func (s *MemStore) StockRows() inventory.StockRowRepository { return memStock{s} }

// PutCode seeds a classification code
func (s *MemStore) PutCode(code string, rate string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = catalog.ClassificationCode{
		Code:        code,
		Description: code,
		Rate:        decimal.RequireFromString(rate),
		Active:      active,
	}
}

// PutEntry seeds a catalog entry as-is
func (s *MemStore) PutEntry(e *catalog.CatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ClearDomainEvents()
	s.entries[e.ID] = cp
}

// Entry returns the stored copy of a catalog entry
func (s *MemStore) Entry(id uuid.UUID) (catalog.CatalogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// EntryCount returns the number of stored catalog entries
func (s *MemStore) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PutStock seeds a stock row with quantity
func (s *MemStore) PutStock(tenantID, productID uuid.UUID, quantity string) {
	row, _ := inventory.NewStockRow(tenantID, productID)
	row.Quantity = decimal.RequireFromString(quantity)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[stockKey{tenantID, productID}] = *row
}

// StockQuantity returns the stored quantity, and false when no row exists
func (s *MemStore) StockQuantity(tenantID, productID uuid.UUID) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.stock[stockKey{tenantID, productID}]
	return row.Quantity, ok
}

// PutDocument seeds a document
func (s *MemStore) PutDocument(d *trade.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Lines = slices.Clone(d.Lines)
	cp.ClearDomainEvents()
	s.docs[d.ID] = cp
}

// Document returns the stored copy of a document
func (s *MemStore) Document(id uuid.UUID) (trade.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

// Audits returns the audit entries of one subject, oldest first
func (s *MemStore) Audits(subjectType audit.SubjectType, subjectID uuid.UUID) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, a := range s.audits {
		if a.SubjectType == subjectType && a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	return out
}

// AuditCount returns the total number of audit entries
func (s *MemStore) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

// LockOrders returns, per transaction, the product ids whose stock rows
// were locked, in lock order
func (s *MemStore) LockOrders() [][]uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]uuid.UUID, 0, len(s.lockLog))
	for _, l := range s.lockLog {
		if len(l) > 0 {
			out = append(out, slices.Clone(l))
		}
	}
	return out
}

// Commits returns how many transactions committed and rolled back
func (s *MemStore) Commits() (committed, rolledBack int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollback
}

type memEntries struct{ s *MemStore }

func (r memEntries) FindByID(_ context.Context, id uuid.UUID) (*catalog.CatalogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &e, nil
}

func (r memEntries) FindByIDs(_ context.Context, ids []uuid.UUID) ([]catalog.CatalogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]catalog.CatalogEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memEntries) FindByNormalizedName(_ context.Context, name string) (*catalog.CatalogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.NormalizedName == name {
			return &e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memEntries) sorted(keep func(catalog.CatalogEntry) bool) []catalog.CatalogEntry {
	var out []catalog.CatalogEntry
	for _, e := range r.s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b catalog.CatalogEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}

func page[T any](items []T, f shared.Filter) []T {
	f = f.Normalize()
	start := f.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+f.PageSize, len(items))
	return items[start:end]
}

func (r memEntries) FindByStatus(_ context.Context, status catalog.Status, f shared.Filter) ([]catalog.CatalogEntry, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.sorted(func(e catalog.CatalogEntry) bool { return e.Status == status })
	return page(all, f), int64(len(all)), nil
}

func (r memEntries) FindAll(_ context.Context, f shared.Filter) ([]catalog.CatalogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(r.sorted(func(catalog.CatalogEntry) bool { return true }), f), nil
}

func (r memEntries) CreateIfAbsent(_ context.Context, entry *catalog.CatalogEntry) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.NormalizedName == entry.NormalizedName {
			return false, nil
		}
	}
	cp := *entry
	cp.ClearDomainEvents()
	r.s.entries[entry.ID] = cp
	return true, nil
}

func (r memEntries) SaveWithLock(_ context.Context, entry *catalog.CatalogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.entries[entry.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != entry.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	cp := *entry
	cp.ClearDomainEvents()
	r.s.entries[entry.ID] = cp
	return nil
}

type memCodes struct{ s *MemStore }

func (r memCodes) FindByCode(_ context.Context, code string) (*catalog.ClassificationCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[code]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &c, nil
}

func (r memCodes) FindByCodes(_ context.Context, codes []string) ([]catalog.ClassificationCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []catalog.ClassificationCode
	for _, code := range codes {
		if c, ok := r.s.codes[code]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r memCodes) FindAll(_ context.Context, activeOnly bool) ([]catalog.ClassificationCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []catalog.ClassificationCode
	for _, c := range r.s.codes {
		if !activeOnly || c.Active {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b catalog.ClassificationCode) int {
		if a.Code < b.Code {
			return -1
		}
		if a.Code > b.Code {
			return 1
		}
		return 0
	})
	return out, nil
}

type memAudit struct{ s *MemStore }

func (r memAudit) Create(_ context.Context, entry *audit.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audits = append(r.s.audits, *entry)
	return nil
}

func (r memAudit) FindBySubject(_ context.Context, subjectType audit.SubjectType, subjectID uuid.UUID, tenantID *uuid.UUID) ([]audit.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []audit.Entry{}
	for _, a := range r.s.audits {
		if a.SubjectType != subjectType || a.SubjectID != subjectID {
			continue
		}
		if tenantID != nil && a.TenantID != nil && *a.TenantID != *tenantID {
			continue
		}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(a, b audit.Entry) int { return a.OccurredAt.Compare(b.OccurredAt) })
	return out, nil
}

func (r memAudit) CountBySubject(_ context.Context, subjectType audit.SubjectType, subjectID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.audits {
		if a.SubjectType == subjectType && a.SubjectID == subjectID {
			n++
		}
	}
	return n, nil
}

type memDocs struct{ s *MemStore }

func (r memDocs) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*trade.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	d.Lines = slices.Clone(d.Lines)
	return &d, nil
}

func (r memDocs) LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*trade.Document, error) {
	return r.FindByIDForTenant(ctx, tenantID, id)
}

func (r memDocs) Create(_ context.Context, doc *trade.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *doc
	cp.Lines = slices.Clone(doc.Lines)
	cp.ClearDomainEvents()
	r.s.docs[doc.ID] = cp
	return nil
}

func (r memDocs) SaveWithLock(_ context.Context, doc *trade.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.docs[doc.ID]
	if !ok || stored.TenantID != doc.TenantID {
		return shared.ErrNotFound
	}
	if stored.Version != doc.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	cp := *doc
	cp.Lines = slices.Clone(doc.Lines)
	cp.ClearDomainEvents()
	r.s.docs[doc.ID] = cp
	return nil
}

type memStock struct{ s *MemStore }

func (r memStock) FindByProduct(_ context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.stock[stockKey{tenantID, productID}]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &row, nil
}

func (r memStock) lock(tenantID, productID uuid.UUID, create bool) (*inventory.StockRow, error) {
	if r.s.LockHook != nil {
		if err := r.s.LockHook(productID); err != nil {
			return nil, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.inTx && len(r.s.lockLog) > 0 {
		last := len(r.s.lockLog) - 1
		r.s.lockLog[last] = append(r.s.lockLog[last], productID)
	}
	key := stockKey{tenantID, productID}
	row, ok := r.s.stock[key]
	if !ok {
		if !create {
			return nil, shared.ErrNotFound
		}
		fresh, err := inventory.NewStockRow(tenantID, productID)
		if err != nil {
			return nil, err
		}
		r.s.stock[key] = *fresh
		row = *fresh
	}
	return &row, nil
}

func (r memStock) LockForUpdate(_ context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	return r.lock(tenantID, productID, false)
}

func (r memStock) LockOrCreateForUpdate(_ context.Context, tenantID, productID uuid.UUID) (*inventory.StockRow, error) {
	return r.lock(tenantID, productID, true)
}

func (r memStock) Save(_ context.Context, row *inventory.StockRow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := stockKey{row.TenantID, row.ProductID}
	stored, ok := r.s.stock[key]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != row.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.s.stock[key] = *row
	return nil
}
