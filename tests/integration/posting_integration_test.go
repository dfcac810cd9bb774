//go:build integration

package integration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/application/posting"
	validationapp "github.com/erp/postingengine/internal/application/validation"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/infrastructure/persistence"
	"github.com/erp/postingengine/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engine struct {
	db         *TestDB
	governance *governance.Service
	poster     *posting.Service
	documents  *posting.DocumentService
	audit      *auditapp.Service
}

func newEngine(t *testing.T, db *TestDB, lockTimeout time.Duration) *engine {
	t.Helper()
	nop := zap.NewNop()

	entries := persistence.NewGormCatalogEntryRepository(db.DB)
	codes := persistence.NewGormClassificationCodeRepository(db.DB)
	audits := persistence.NewGormAuditRepository(db.DB)
	docs := persistence.NewGormDocumentRepository(db.DB)
	stock := persistence.NewGormStockRowRepository(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB, lockTimeout)

	validator := validationapp.NewService(entries, codes)
	e := &engine{
		db:         db,
		governance: governance.NewService(entries, codes, audits, scope.GovernanceScope(), nop),
		poster:     posting.NewService(docs, stock, audits, validator, scope.PostingScope(), nop),
		documents:  posting.NewDocumentService(docs, stock, validator, nop),
		audit:      auditapp.NewService(audits, nop),
	}
	e.governance.SetAuditRecorder(e.audit)
	e.poster.SetAuditRecorder(e.audit)
	return e
}

// approvedProduct submits name as an operator and approves it as a reviewer
func (e *engine) approvedProduct(t *testing.T, name string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	res, err := e.governance.Submit(ctx, testutil.OperatorActor(), governance.SubmitInput{DisplayName: name})
	require.NoError(t, err)
	code := "VAT-STD"
	_, err = e.governance.Review(ctx, testutil.ReviewerActor(), res.Entry.ID, governance.ReviewInput{
		Decision:           governance.DecisionApprove,
		ClassificationCode: &code,
	})
	require.NoError(t, err)
	return res.Entry.ID
}

func (e *engine) draft(t *testing.T, kind trade.DocumentKind, lines ...trade.LineInput) uuid.UUID {
	t.Helper()
	doc, err := e.documents.CreateDraft(context.Background(), testutil.OperatorActor(), posting.CreateDocumentInput{
		Kind:  kind,
		Lines: lines,
	})
	require.NoError(t, err)
	return doc.ID
}

func line(productID uuid.UUID, quantity int64) trade.LineInput {
	return trade.LineInput{
		CatalogEntryID: &productID,
		Quantity:       decimal.NewFromInt(quantity),
		UnitPrice:      decimal.NewFromInt(10),
	}
}

// receive posts a purchase bill that adds quantity of productID
func (e *engine) receive(t *testing.T, productID uuid.UUID, quantity int64) {
	t.Helper()
	id := e.draft(t, trade.DocumentKindPurchaseBill, line(productID, quantity))
	_, err := e.poster.Post(context.Background(), testutil.OperatorActor(), id)
	require.NoError(t, err)
}

func (e *engine) stock(t *testing.T, productID uuid.UUID) decimal.Decimal {
	t.Helper()
	s, err := e.documents.GetStock(context.Background(), testutil.OperatorActor(), productID)
	require.NoError(t, err)
	return s.Quantity
}

func TestMigrations_RoundTrip(t *testing.T) {
	db := NewTestDB(t)
	assert.Equal(t, uint(3), db.Migrator().Version())
	assert.True(t, db.TableExists("stock_rows"))

	db.Migrator().Steps(-3)
	assert.False(t, db.TableExists("catalog_entries"))

	db.Migrator().Up()
	assert.True(t, db.TableExists("audit_entries"))
}

func TestPosting_LastUnitRace(t *testing.T) {
	e := newEngine(t, NewTestDB(t), 5*time.Second)
	product := e.approvedProduct(t, "Copper Wire 2mm")
	e.receive(t, product, 1)

	first := e.draft(t, trade.DocumentKindInvoice, line(product, 1))
	second := e.draft(t, trade.DocumentKindInvoice, line(product, 1))

	var posted, short atomic.Int32
	var wg conc.WaitGroup
	for _, id := range []uuid.UUID{first, second} {
		wg.Go(func() {
			_, err := e.poster.Post(context.Background(), testutil.OperatorActor(), id)
			switch {
			case err == nil:
				posted.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected post error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), posted.Load())
	assert.Equal(t, int32(1), short.Load())
	assert.True(t, e.stock(t, product).IsZero())
}

func TestPosting_OppositeLineOrdersDoNotDeadlock(t *testing.T) {
	e := newEngine(t, NewTestDB(t), 5*time.Second)
	a := e.approvedProduct(t, "Hex Bolt M8")
	b := e.approvedProduct(t, "Hex Nut M8")
	e.receive(t, a, 100)
	e.receive(t, b, 100)

	const pairs = 10
	ids := make([]uuid.UUID, 0, pairs*2)
	for range pairs {
		ids = append(ids,
			e.draft(t, trade.DocumentKindInvoice, line(a, 1), line(b, 1)),
			e.draft(t, trade.DocumentKindInvoice, line(b, 1), line(a, 1)),
		)
	}

	var wg conc.WaitGroup
	for _, id := range ids {
		wg.Go(func() {
			_, err := e.poster.Post(context.Background(), testutil.OperatorActor(), id)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.True(t, decimal.NewFromInt(100-pairs*2).Equal(e.stock(t, a)))
	assert.True(t, decimal.NewFromInt(100-pairs*2).Equal(e.stock(t, b)))
}

func TestPosting_LockTimeoutLeavesDraft(t *testing.T) {
	db := NewTestDB(t)
	e := newEngine(t, db, 200*time.Millisecond)
	product := e.approvedProduct(t, "Steel Rod 10mm")
	e.receive(t, product, 5)
	id := e.draft(t, trade.DocumentKindInvoice, line(product, 2))

	holder := db.DB.Begin()
	require.NoError(t, holder.Error)
	t.Cleanup(func() { holder.Rollback() })
	require.NoError(t, holder.Exec(
		`SELECT id FROM stock_rows WHERE tenant_id = ? AND product_id = ? FOR UPDATE`,
		testutil.TestTenantID(), product).Error)

	_, err := e.poster.Post(context.Background(), testutil.OperatorActor(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrLockTimeout), err.Error())
	assert.True(t, shared.IsRetryable(err))

	holder.Rollback()

	doc, err := e.documents.Get(context.Background(), testutil.OperatorActor(), id)
	require.NoError(t, err)
	assert.Equal(t, string(trade.DocumentStateDraft), doc.State)
	assert.True(t, decimal.NewFromInt(5).Equal(e.stock(t, product)))

	// The lock is gone, so a retry goes through
	_, err = e.poster.Post(context.Background(), testutil.OperatorActor(), id)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(e.stock(t, product)))

	trail, err := e.audit.History(context.Background(), testutil.OperatorActor(), audit.SubjectDocument, id)
	require.NoError(t, err)
	actions := make([]string, len(trail))
	for i, a := range trail {
		actions[i] = a.Action
	}
	assert.Equal(t, []string{string(audit.ActionPostAborted), string(audit.ActionPostSucceeded)}, actions)
}

func TestGovernance_ConcurrentSubmitsCreateOneEntry(t *testing.T) {
	e := newEngine(t, NewTestDB(t), 5*time.Second)
	names := []string{"Copper Wire", "copper wire", "  COPPER   WIRE ", "Copper  Wire"}

	var created atomic.Int32
	ids := make([]uuid.UUID, len(names))
	var wg conc.WaitGroup
	for i, name := range names {
		wg.Go(func() {
			actor := shared.NewActor(uuid.New(), uuid.New(), shared.RoleOperator)
			res, err := e.governance.Submit(context.Background(), actor, governance.SubmitInput{DisplayName: name})
			if !assert.NoError(t, err) {
				return
			}
			if res.Created {
				created.Add(1)
			}
			ids[i] = res.Entry.ID
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}

	trail, err := e.audit.History(context.Background(), testutil.ReviewerActor(), audit.SubjectCatalogEntry, ids[0])
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestGovernance_BackfillOnPostgres(t *testing.T) {
	db := NewTestDB(t)
	e := newEngine(t, db, 5*time.Second)

	legacy := []struct {
		name string
		code any
	}{
		{"Legacy Cable", "VAT-STD"},
		{"Legacy Gauge", "VAT-OLD"},
		{"Legacy Clamp", nil},
	}
	for _, l := range legacy {
		require.NoError(t, db.DB.Exec(
			`INSERT INTO catalog_entries (id, display_name, normalized_name, classification_code, status)
			 VALUES (?, ?, lower(?), ?, 'pending')`,
			uuid.New(), l.name, l.name, l.code).Error)
	}

	report, err := e.governance.Backfill(context.Background(), governance.BackfillOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Approved)
	assert.Equal(t, 2, report.Pending)

	again, err := e.governance.Backfill(context.Background(), governance.BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
}
