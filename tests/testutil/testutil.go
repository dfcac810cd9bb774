// Package testutil provides shared fixtures for the posting engine tests:
// deterministic ids, ready-made actors, the in-memory MemStore and seeding
// helpers on top of it.
package testutil

import (
	"testing"
	"time"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Classification SeedApprovedEntry approves with
const (
	DefaultClassificationCode = "VAT-STD"
	DefaultClassificationRate = "0.17"
)

// NewTestUUID generates a deterministic UUID for testing.
// The same seed always yields the same id.
func NewTestUUID(seed string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte(seed))
}

// NewRandomUUID generates a new random UUID.
func NewRandomUUID() uuid.UUID {
	return uuid.New()
}

// TestTenantID returns a standard tenant ID for tests.
func TestTenantID() uuid.UUID {
	return NewTestUUID("test-tenant")
}

// TestUserID returns a standard user ID for tests.
func TestUserID() uuid.UUID {
	return NewTestUUID("test-user")
}

// OperatorActor is a tenant operator of TestTenantID
func OperatorActor() shared.Actor {
	return shared.NewActor(TestTenantID(), TestUserID(), shared.RoleOperator)
}

// ReviewerActor is a platform reviewer with no tenant
func ReviewerActor() shared.Actor {
	return shared.NewActor(uuid.Nil, NewTestUUID("test-reviewer"), shared.RolePlatformReviewer)
}

// SeedApprovedEntry stores an approved catalog entry classified with the
// default code and returns its id
func SeedApprovedEntry(t *testing.T, store *MemStore, name string) uuid.UUID {
	t.Helper()
	store.PutCode(DefaultClassificationCode, DefaultClassificationRate, true)

	code := DefaultClassificationCode
	entry, err := catalog.NewCatalogEntry(name, &code, nil, nil)
	require.NoError(t, err)
	require.NoError(t, entry.Approve(nil, &catalog.ClassificationCode{
		Code:   DefaultClassificationCode,
		Rate:   decimal.RequireFromString(DefaultClassificationRate),
		Active: true,
	}))
	store.PutEntry(entry)
	return entry.ID
}

// SeedPendingEntry stores an unreviewed catalog entry and returns its id
func SeedPendingEntry(t *testing.T, store *MemStore, name string) uuid.UUID {
	t.Helper()
	entry, err := catalog.NewCatalogEntry(name, nil, nil, nil)
	require.NoError(t, err)
	store.PutEntry(entry)
	return entry.ID
}

// RequireEventually polls condition until it holds or timeout elapses.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	require.Fail(t, "Condition not met within timeout", msgAndArgs...)
}
