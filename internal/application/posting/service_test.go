package posting_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/erp/postingengine/internal/application/posting"
	validationapp "github.com/erp/postingengine/internal/application/validation"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/domain/validation"
	"github.com/erp/postingengine/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// hookValidator runs before before delegating, to simulate a concurrent
// writer between validation and the posting transaction
type hookValidator struct {
	next   posting.Validator
	before func()
}

func (h hookValidator) ValidateItems(ctx context.Context, items []validation.Item, mode validation.Mode) (validation.Result, *validation.Snapshot, error) {
	if h.before != nil {
		h.before()
	}
	return h.next.ValidateItems(ctx, items, mode)
}

func newValidator(store *testutil.MemStore) *validationapp.Service {
	return validationapp.NewService(store.CatalogEntries(), store.ClassificationCodes())
}

func newPostingService(store *testutil.MemStore, v posting.Validator) *posting.Service {
	if v == nil {
		v = newValidator(store)
	}
	return posting.NewService(
		store.Documents(),
		store.StockRows(),
		store.AuditEntries(),
		v,
		store.PostingScope(),
		zap.NewNop(),
	)
}

func operator() shared.Actor {
	return shared.NewActor(testutil.TestTenantID(), testutil.TestUserID(), shared.RoleOperator)
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// approvedProduct seeds an approved catalog entry classified under code
func approvedProduct(t *testing.T, store *testutil.MemStore, name, code, rate string) uuid.UUID {
	t.Helper()
	store.PutCode(code, rate, true)
	entry, err := catalog.NewCatalogEntry(name, &code, nil, nil)
	require.NoError(t, err)
	require.NoError(t, entry.Approve(nil, &catalog.ClassificationCode{Code: code, Rate: qty(rate), Active: true}))
	store.PutEntry(entry)
	return entry.ID
}

func line(productID uuid.UUID, quantity, price string) trade.LineInput {
	id := productID
	return trade.LineInput{CatalogEntryID: &id, Quantity: qty(quantity), UnitPrice: qty(price)}
}

func draft(t *testing.T, store *testutil.MemStore, kind trade.DocumentKind, lines ...trade.LineInput) *trade.Document {
	t.Helper()
	doc, err := trade.NewDocument(testutil.TestTenantID(), nil, kind, "DOC-1", lines)
	require.NoError(t, err)
	store.PutDocument(doc)
	return doc
}

func sortedIDs(ids ...uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

func TestService_Post_Invoice(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	bolt := approvedProduct(t, store, "Steel Bolt", "HS-7318", "0.10")
	nut := approvedProduct(t, store, "Steel Nut", "HS-7319", "0.05")
	store.PutStock(testutil.TestTenantID(), bolt, "10")
	store.PutStock(testutil.TestTenantID(), nut, "4")

	doc := draft(t, store, trade.DocumentKindInvoice,
		line(bolt, "2", "50"),
		line(nut, "4", "10"),
		line(bolt, "1", "50"),
	)

	res, err := newPostingService(store, nil).Post(ctx, operator(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, "finalized", res.Document.State)
	assert.NotNil(t, res.Document.FinalizedAt)
	assert.True(t, qty("190").Equal(res.Document.Subtotal))
	// 100*0.10 + 40*0.05 + 50*0.10
	assert.True(t, qty("17").Equal(res.Document.TaxTotal), res.Document.TaxTotal.String())
	assert.True(t, qty("207").Equal(res.Document.GrandTotal))

	boltLeft, _ := store.StockQuantity(testutil.TestTenantID(), bolt)
	nutLeft, _ := store.StockQuantity(testutil.TestTenantID(), nut)
	assert.True(t, qty("7").Equal(boltLeft), boltLeft.String())
	assert.True(t, nutLeft.IsZero(), nutLeft.String())

	require.Len(t, res.Movements, 2)
	for _, m := range res.Movements {
		assert.True(t, m.Delta.IsNegative())
	}

	stored, ok := store.Document(doc.ID)
	require.True(t, ok)
	assert.Equal(t, trade.DocumentStateFinalized, stored.State)
	assert.True(t, qty("0.10").Equal(stored.Lines[0].TaxRate))

	trail := store.Audits(audit.SubjectDocument, doc.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionPostSucceeded, trail[0].Action)
	assert.Equal(t, "draft", trail[0].PreviousStatus)
	assert.Equal(t, "finalized", trail[0].NewStatus)
}

func TestService_Post_LocksInSortedOrder(t *testing.T) {
	store := testutil.NewMemStore()
	var ids []uuid.UUID
	var lines []trade.LineInput
	for _, name := range []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"} {
		id := approvedProduct(t, store, name, "HS-1000", "0")
		store.PutStock(testutil.TestTenantID(), id, "100")
		ids = append(ids, id)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		lines = append(lines, line(ids[i], "1", "1"))
	}
	doc := draft(t, store, trade.DocumentKindInvoice, lines...)

	_, err := newPostingService(store, nil).Post(context.Background(), operator(), doc.ID)
	require.NoError(t, err)

	orders := store.LockOrders()
	require.NotEmpty(t, orders)
	assert.Equal(t, sortedIDs(ids...), orders[len(orders)-1])
}

func TestService_Post_InsufficientStockAbortsWholeDocument(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	plenty := approvedProduct(t, store, "Plenty", "HS-1000", "0")
	scarce := approvedProduct(t, store, "Scarce", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), plenty, "10")
	store.PutStock(testutil.TestTenantID(), scarce, "1")

	doc := draft(t, store, trade.DocumentKindInvoice, line(plenty, "2", "1"), line(scarce, "5", "1"))

	_, err := newPostingService(store, nil).Post(ctx, operator(), doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	var shortfall *shared.InsufficientStockError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, scarce, shortfall.ProductID)
	assert.True(t, qty("5").Equal(shortfall.Requested))
	assert.True(t, qty("1").Equal(shortfall.Available))

	left, _ := store.StockQuantity(testutil.TestTenantID(), plenty)
	assert.True(t, qty("10").Equal(left))
	left, _ = store.StockQuantity(testutil.TestTenantID(), scarce)
	assert.True(t, qty("1").Equal(left))

	stored, _ := store.Document(doc.ID)
	assert.Equal(t, trade.DocumentStateDraft, stored.State)

	trail := store.Audits(audit.SubjectDocument, doc.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionPostAborted, trail[0].Action)
	assert.Equal(t, shared.CodeInsufficientStock, trail[0].ReasonCode)
}

func TestService_Post_MissingStockRow(t *testing.T) {
	store := testutil.NewMemStore()
	product := approvedProduct(t, store, "Never Stocked", "HS-1000", "0")
	doc := draft(t, store, trade.DocumentKindInvoice, line(product, "1", "1"))

	_, err := newPostingService(store, nil).Post(context.Background(), operator(), doc.ID)

	var shortfall *shared.InsufficientStockError
	require.True(t, errors.As(err, &shortfall))
	assert.True(t, shortfall.Available.IsZero())
	_, exists := store.StockQuantity(testutil.TestTenantID(), product)
	assert.False(t, exists)
}

func TestService_Post_RejectedEntryFailsValidation(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	good := approvedProduct(t, store, "Good", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), good, "10")

	bad, err := catalog.NewCatalogEntry("Bad", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, bad.Reject(nil, "duplicate"))
	store.PutEntry(bad)

	doc := draft(t, store, trade.DocumentKindInvoice, line(good, "1", "1"), line(bad.ID, "1", "1"))

	_, err = newPostingService(store, nil).Post(ctx, operator(), doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidationFailed)

	var failed *validation.FailedError
	require.True(t, errors.As(err, &failed))
	require.Len(t, failed.Errors, 1)
	assert.Equal(t, 1, failed.Errors[0].LineIndex)
	assert.True(t, failed.Errors[0].HasReason(validation.ReasonNotApproved))

	left, _ := store.StockQuantity(testutil.TestTenantID(), good)
	assert.True(t, qty("10").Equal(left))
	assert.Empty(t, store.LockOrders())

	trail := store.Audits(audit.SubjectDocument, doc.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionPostRejected, trail[0].Action)
	assert.Equal(t, shared.CodeValidationFailed, trail[0].ReasonCode)
	assert.Contains(t, trail[0].Note, "not_approved")
}

func TestService_Post_LockTimeoutLeavesNoPartialWrites(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	a := approvedProduct(t, store, "A", "HS-1000", "0")
	b := approvedProduct(t, store, "B", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), a, "5")
	store.PutStock(testutil.TestTenantID(), b, "5")
	order := sortedIDs(a, b)

	store.LockHook = func(productID uuid.UUID) error {
		if productID == order[1] {
			return shared.ErrLockTimeout
		}
		return nil
	}

	doc := draft(t, store, trade.DocumentKindInvoice, line(a, "1", "1"), line(b, "1", "1"))

	_, err := newPostingService(store, nil).Post(ctx, operator(), doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.True(t, shared.IsRetryable(err))

	for _, id := range order {
		left, _ := store.StockQuantity(testutil.TestTenantID(), id)
		assert.True(t, qty("5").Equal(left))
	}
	stored, _ := store.Document(doc.ID)
	assert.Equal(t, trade.DocumentStateDraft, stored.State)

	_, rolledBack := store.Commits()
	assert.Equal(t, 1, rolledBack)

	trail := store.Audits(audit.SubjectDocument, doc.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionPostAborted, trail[0].Action)
	assert.Equal(t, shared.CodeLockTimeout, trail[0].ReasonCode)
}

func TestService_Post_PurchaseBillCreatesRows(t *testing.T) {
	store := testutil.NewMemStore()
	fresh := approvedProduct(t, store, "Fresh", "HS-1000", "0.20")
	stocked := approvedProduct(t, store, "Stocked", "HS-1000", "0.20")
	store.PutStock(testutil.TestTenantID(), stocked, "3")

	doc := draft(t, store, trade.DocumentKindPurchaseBill, line(fresh, "4", "2.50"), line(stocked, "2", "1"))

	res, err := newPostingService(store, nil).Post(context.Background(), operator(), doc.ID)
	require.NoError(t, err)

	left, ok := store.StockQuantity(testutil.TestTenantID(), fresh)
	require.True(t, ok)
	assert.True(t, qty("4").Equal(left))
	left, _ = store.StockQuantity(testutil.TestTenantID(), stocked)
	assert.True(t, qty("5").Equal(left))

	for _, m := range res.Movements {
		assert.True(t, m.Delta.IsPositive())
	}
	assert.True(t, qty("2.40").Equal(res.Document.TaxTotal))
}

func TestService_Post_TwiceIsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	p := approvedProduct(t, store, "P", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), p, "10")
	doc := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))
	svc := newPostingService(store, nil)

	_, err := svc.Post(ctx, operator(), doc.ID)
	require.NoError(t, err)

	_, err = svc.Post(ctx, operator(), doc.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	left, _ := store.StockQuantity(testutil.TestTenantID(), p)
	assert.True(t, qty("9").Equal(left))
}

func TestService_Post_OtherTenantIsNotFound(t *testing.T) {
	store := testutil.NewMemStore()
	p := approvedProduct(t, store, "P", "HS-1000", "0")
	doc := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))

	stranger := shared.NewActor(testutil.NewTestUUID("other-tenant"), testutil.TestUserID(), shared.RoleOperator)
	_, err := newPostingService(store, nil).Post(context.Background(), stranger, doc.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestService_Post_DocumentChangedAfterValidation(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	p := approvedProduct(t, store, "P", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), p, "10")
	doc := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))

	docs := posting.NewDocumentService(store.Documents(), store.StockRows(), newValidator(store), zap.NewNop())
	v := hookValidator{
		next: newValidator(store),
		before: func() {
			_, err := docs.ReplaceLines(ctx, operator(), doc.ID, []trade.LineInput{line(p, "9", "1")})
			require.NoError(t, err)
		},
	}

	_, err := newPostingService(store, v).Post(ctx, operator(), doc.ID)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.True(t, shared.IsRetryable(err))

	left, _ := store.StockQuantity(testutil.TestTenantID(), p)
	assert.True(t, qty("10").Equal(left))
}

func TestService_Post_ConcurrentInvoicesRaceForLastUnit(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	p := approvedProduct(t, store, "Last One", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), p, "1")

	first := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))
	second := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))
	svc := newPostingService(store, nil)

	var succeeded, shortfalls atomic.Int32
	var wg conc.WaitGroup
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Go(func() {
			_, err := svc.Post(ctx, operator(), id)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				shortfalls.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), shortfalls.Load())

	left, _ := store.StockQuantity(testutil.TestTenantID(), p)
	assert.True(t, left.IsZero())
}

func TestService_Post_PublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	p := approvedProduct(t, store, "P", "HS-1000", "0")
	store.PutStock(testutil.TestTenantID(), p, "2")
	doc := draft(t, store, trade.DocumentKindInvoice, line(p, "1", "1"))

	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(events []shared.DomainEvent) bool {
		return len(events) == 1 && events[0].EventType() == trade.EventTypeDocumentPosted
	})).Return(errors.New("broker down"))

	svc := newPostingService(store, nil)
	svc.SetEventPublisher(pub)

	_, err := svc.Post(ctx, operator(), doc.ID)
	require.NoError(t, err, "publish failures must not fail a committed post")
	pub.AssertExpectations(t)
}
