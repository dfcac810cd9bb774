package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	wrapped := ErrLockTimeout.WithCause(errors.New("55P03"))
	assert.ErrorIs(t, wrapped, ErrLockTimeout)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Contains(t, wrapped.Error(), "55P03")

	renamed := ErrNotFound.WithMessage("Document not found")
	assert.ErrorIs(t, renamed, ErrNotFound)
	assert.Equal(t, "Document not found", renamed.Error())
	assert.Equal(t, "Resource not found", ErrNotFound.Message, "sentinel must stay untouched")

	outer := fmt.Errorf("post: %w", renamed)
	assert.ErrorIs(t, outer, ErrNotFound)
	assert.Equal(t, CodeNotFound, ErrorCode(outer))
}

func TestInsufficientStockError(t *testing.T) {
	product := uuid.New()
	err := NewInsufficientStockError(product, decimal.NewFromInt(3), decimal.NewFromInt(1))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, CodeInsufficientStock, ErrorCode(fmt.Errorf("wrap: %w", err)))
	assert.False(t, IsRetryable(err))

	var target *InsufficientStockError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &target)
	assert.Equal(t, product, target.ProductID)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrLockTimeout))
	assert.True(t, IsRetryable(ErrConcurrencyConflict.WithMessage("stale")))
	assert.False(t, IsRetryable(ErrInvalidTransition))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.Empty(t, ErrorCode(errors.New("boom")))
}

func TestActor(t *testing.T) {
	tenant := uuid.New()
	op := NewActor(tenant, uuid.New(), RoleOperator)
	assert.False(t, op.IsPlatform())
	assert.False(t, op.IsSystem())
	require.NotNil(t, op.TenantRef())
	assert.Equal(t, tenant, *op.TenantRef())
	assert.True(t, op.HasRole(RoleTenantAdmin, RoleOperator))

	reviewer := NewActor(uuid.Nil, uuid.New(), RolePlatformReviewer)
	assert.True(t, reviewer.IsPlatform())
	assert.Nil(t, reviewer.TenantRef())

	sys := SystemActor()
	assert.True(t, sys.IsSystem())
	assert.True(t, sys.IsPlatform())
}

func TestFilter(t *testing.T) {
	f := Filter{Page: 0, PageSize: 500}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 200, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, PageSize: 20}.Normalize()
	assert.Equal(t, 40, f.Offset())

	d := DefaultFilter()
	assert.Equal(t, "asc", d.OrderDir)

	page := NewPaginated([]int{1, 2}, 41, 1, 20)
	assert.Equal(t, 3, page.TotalPages)
}

func TestBaseAggregateRoot_Events(t *testing.T) {
	root := NewBaseAggregateRoot()
	assert.Equal(t, 1, root.Version)
	assert.NotEqual(t, uuid.Nil, root.ID)

	evt := NewEventMeta("Something", "Thing", root.ID, &uuid.Nil)
	assert.Nil(t, evt.TenantID, "nil tenant marks a platform event")
	root.AddDomainEvent(evt)
	root.IncrementVersion()
	assert.Equal(t, 2, root.Version)
	require.Len(t, root.GetDomainEvents(), 1)
	assert.Equal(t, "Something", root.GetDomainEvents()[0].EventType())

	root.ClearDomainEvents()
	assert.Empty(t, root.GetDomainEvents())

	owned := NewTenantAggregateRoot(uuid.New(), nil)
	assert.Equal(t, 1, owned.Version)
}
