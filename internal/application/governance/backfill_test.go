package governance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/tests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyEntry builds an entry as it existed before governance: no history
// and a status that was never reviewed
func legacyEntry(t *testing.T, store *testutil.MemStore, name string, code *string, status catalog.Status) uuid.UUID {
	t.Helper()
	e, err := catalog.NewCatalogEntry(name, code, nil, nil)
	require.NoError(t, err)
	e.Status = status
	store.PutEntry(e)
	return e.ID
}

func seedLegacy(t *testing.T) (*testutil.MemStore, map[string]uuid.UUID) {
	store := testutil.NewMemStore()
	store.PutCode("HS-7318", "0.13", true)
	store.PutCode("HS-0000", "0", false)

	ids := map[string]uuid.UUID{
		"eligible": legacyEntry(t, store, "Steel bolt", strPtr("HS-7318"), catalog.StatusPending),
		"missing":  legacyEntry(t, store, "Copper wire", nil, catalog.StatusApproved),
		"invalid":  legacyEntry(t, store, "Hex nut", strPtr("HS-9999"), catalog.StatusApproved),
		"inactive": legacyEntry(t, store, "Old gasket", strPtr("HS-0000"), catalog.StatusApproved),
	}
	return store, ids
}

func TestService_Backfill_Policy(t *testing.T) {
	store, ids := seedLegacy(t)
	svc := newService(store)

	report, err := svc.Backfill(context.Background(), governance.BackfillOptions{BatchSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Approved)
	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, 0, report.Skipped)

	expect := map[string]struct {
		status catalog.Status
		reason string
	}{
		"eligible": {catalog.StatusApproved, governance.BackfillReasonEligible},
		"missing":  {catalog.StatusPending, governance.BackfillReasonClassificationMissing},
		"invalid":  {catalog.StatusPending, governance.BackfillReasonClassificationInvalid},
		"inactive": {catalog.StatusPending, governance.BackfillReasonInactive},
	}
	for key, want := range expect {
		stored, ok := store.Entry(ids[key])
		require.True(t, ok)
		assert.Equal(t, want.status, stored.Status, key)

		trail := store.Audits(audit.SubjectCatalogEntry, ids[key])
		require.Len(t, trail, 1, key)
		assert.Equal(t, audit.ActionBackfilled, trail[0].Action)
		assert.Equal(t, want.reason, trail[0].ReasonCode)
		assert.Equal(t, want.status.String(), trail[0].NewStatus)
		assert.Nil(t, trail[0].ActorID)
	}
}

func TestService_Backfill_Idempotent(t *testing.T) {
	store, ids := seedLegacy(t)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Backfill(ctx, governance.BackfillOptions{})
	require.NoError(t, err)

	statuses := map[uuid.UUID]catalog.Status{}
	for _, id := range ids {
		e, _ := store.Entry(id)
		statuses[id] = e.Status
	}
	audits := store.AuditCount()

	second, err := svc.Backfill(ctx, governance.BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, second.Skipped)
	assert.Empty(t, second.Decisions)
	assert.Equal(t, audits, store.AuditCount())
	for id, status := range statuses {
		e, _ := store.Entry(id)
		assert.Equal(t, status, e.Status)
	}
}

func TestService_Backfill_SkipsGovernedEntries(t *testing.T) {
	store := testutil.NewMemStore()
	svc := newService(store)
	id := submitPending(t, svc, "Already governed", nil)

	report, err := svc.Backfill(context.Background(), governance.BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	trail := store.Audits(audit.SubjectCatalogEntry, id)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionSubmitted, trail[0].Action)
}

func TestService_Backfill_DryRun(t *testing.T) {
	store, ids := seedLegacy(t)
	svc := newService(store)

	report, err := svc.Backfill(context.Background(), governance.BackfillOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Len(t, report.Decisions, 4)
	assert.Equal(t, 0, store.AuditCount())
	e, _ := store.Entry(ids["missing"])
	assert.Equal(t, catalog.StatusApproved, e.Status)
}

func TestService_Backfill_SelectedEntries(t *testing.T) {
	store, ids := seedLegacy(t)
	svc := newService(store)

	report, err := svc.Backfill(context.Background(), governance.BackfillOptions{
		EntryIDs: []uuid.UUID{ids["invalid"], uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, ids["invalid"], report.Decisions[0].EntryID)
}

type busyGuard struct{}

func (busyGuard) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, governance.ErrBackfillRunning
}

type countingGuard struct {
	acquired, released int
}

func (g *countingGuard) Acquire(context.Context, string) (func(context.Context) error, error) {
	g.acquired++
	return func(context.Context) error {
		g.released++
		return nil
	}, nil
}

func TestService_Backfill_Guard(t *testing.T) {
	t.Run("refuses to run while another run holds the lock", func(t *testing.T) {
		store, _ := seedLegacy(t)
		svc := newService(store)
		svc.SetBackfillGuard(busyGuard{})

		_, err := svc.Backfill(context.Background(), governance.BackfillOptions{})
		assert.True(t, errors.Is(err, governance.ErrBackfillRunning))
		assert.Equal(t, 0, store.AuditCount())
	})

	t.Run("releases the lock after the run", func(t *testing.T) {
		store, _ := seedLegacy(t)
		svc := newService(store)
		guard := &countingGuard{}
		svc.SetBackfillGuard(guard)

		_, err := svc.Backfill(context.Background(), governance.BackfillOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, guard.acquired)
		assert.Equal(t, 1, guard.released)
	})
}

// staleHistory hides audit history from the pre-check outside the
// transaction, as if another run reconciled the entry after it was read
type staleHistory struct {
	audit.Repository
}

func (staleHistory) CountBySubject(context.Context, audit.SubjectType, uuid.UUID) (int64, error) {
	return 0, nil
}

func TestService_Backfill_ConcurrentRunCountsSkipped(t *testing.T) {
	store, ids := seedLegacy(t)
	raced, err := audit.NewEntry(audit.SubjectCatalogEntry, ids["eligible"], audit.ActionBackfilled)
	require.NoError(t, err)
	require.NoError(t, store.AuditEntries().Create(context.Background(), raced))

	svc := governance.NewService(store.CatalogEntries(), store.ClassificationCodes(),
		staleHistory{store.AuditEntries()}, store.GovernanceScope(), nil)

	report, err := svc.Backfill(context.Background(), governance.BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Approved)
	assert.Equal(t, 3, report.Pending)
	require.Len(t, report.Decisions, 3)
	for _, d := range report.Decisions {
		assert.NotEqual(t, ids["eligible"], d.EntryID)
	}
	assert.Len(t, store.Audits(audit.SubjectCatalogEntry, ids["eligible"]), 1)
}
