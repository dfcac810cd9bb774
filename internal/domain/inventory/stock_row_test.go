package inventory

import (
	"errors"
	"testing"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRow(t *testing.T, qty int64) *StockRow {
	t.Helper()
	row, err := NewStockRow(uuid.New(), uuid.New())
	require.NoError(t, err)
	row.Quantity = decimal.NewFromInt(qty)
	return row
}

func TestNewStockRow(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		row, err := NewStockRow(uuid.New(), uuid.New())
		require.NoError(t, err)
		assert.True(t, row.Quantity.IsZero())
		assert.Equal(t, 1, row.Version)
	})

	t.Run("requires tenant and product", func(t *testing.T) {
		_, err := NewStockRow(uuid.Nil, uuid.New())
		assert.Error(t, err)
		_, err = NewStockRow(uuid.New(), uuid.Nil)
		assert.Error(t, err)
	})
}

func TestStockRow_Decrease(t *testing.T) {
	t.Run("decreases within available quantity", func(t *testing.T) {
		row := newRow(t, 5)
		require.NoError(t, row.Decrease(decimal.NewFromInt(5)))
		assert.True(t, row.Quantity.IsZero())
		assert.Equal(t, 2, row.Version)
	})

	t.Run("shortfall reports requested and available", func(t *testing.T) {
		row := newRow(t, 1)

		err := row.Decrease(decimal.NewFromInt(2))
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInsufficientStock))

		var stockErr *shared.InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, row.ProductID, stockErr.ProductID)
		assert.True(t, stockErr.Requested.Equal(decimal.NewFromInt(2)))
		assert.True(t, stockErr.Available.Equal(decimal.NewFromInt(1)))

		assert.True(t, row.Quantity.Equal(decimal.NewFromInt(1)), "row must be unchanged")
		assert.Equal(t, 1, row.Version)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		row := newRow(t, 1)
		assert.Error(t, row.Decrease(decimal.Zero))
		assert.Error(t, row.Decrease(decimal.NewFromInt(-1)))
	})
}

func TestStockRow_Increase(t *testing.T) {
	row := newRow(t, 0)
	require.NoError(t, row.Increase(decimal.NewFromFloat(2.5)))
	assert.True(t, row.Quantity.Equal(decimal.NewFromFloat(2.5)))
	assert.Error(t, row.Increase(decimal.Zero))
}
