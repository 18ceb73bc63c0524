//go:build integration

package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
	"github.com/joao-fontenele/orderlifecycle/internal/testsupport"
)

func TestOrderRepository(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := NewOrderRepository(testsupport.Postgres(ctx, t))
	now := time.Now().UTC().Truncate(time.Millisecond)

	newOrder := func() *domain.Order {
		return &domain.Order{
			LineItems: []domain.LineItem{
				{ProductID: "SKU-1001", Quantity: 1, UnitPrice: decimal.RequireFromString("24.90")},
				{ProductID: "SKU-1003", Quantity: 2, UnitPrice: decimal.RequireFromString("4.25")},
			},
			TotalAmount:     decimal.RequireFromString("33.40"),
			DeliveryAddress: *testAddress(),
			Status:          domain.OrderStatusConfirmed,
			PaymentStatus:   domain.PaymentStatusPending,
			PaymentMethod:   domain.PaymentMethodWallet,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	created, err := repo.Create(ctx, newOrder())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	t.Run("find by id round-trips the order", func(t *testing.T) {
		found, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, found)

		assert.Equal(t, "33.40", found.TotalAmount.StringFixed(2))
		assert.Equal(t, domain.PaymentMethodWallet, found.PaymentMethod)
		assert.Equal(t, created.DeliveryAddress, found.DeliveryAddress)
		require.Len(t, found.LineItems, 2)
		assert.Equal(t, "SKU-1001", found.LineItems[0].ProductID)
		assert.True(t, found.LineItems[1].UnitPrice.Equal(decimal.RequireFromString("4.25")))
		assert.True(t, found.CreatedAt.Equal(now))
	})

	t.Run("unknown and malformed ids are absent", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = repo.FindByID(ctx, "not-a-uuid")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("save bumps the version and rejects stale writes", func(t *testing.T) {
		found, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)

		stale := *found
		found.Status = domain.OrderStatusShipped
		found.UpdatedAt = now.Add(time.Minute)

		saved, err := repo.Save(ctx, found)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		stale.PaymentStatus = domain.PaymentStatusInitiated
		_, err = repo.Save(ctx, &stale)
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(1), conflict.Version)

		reloaded, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusShipped, reloaded.Status)
		assert.Equal(t, domain.PaymentStatusPending, reloaded.PaymentStatus)
	})

	t.Run("save on a missing order is not found", func(t *testing.T) {
		ghost := newOrder()
		ghost.ID = "00000000-0000-0000-0000-000000000001"
		ghost.Version = 1

		_, err := repo.Save(ctx, ghost)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list by status and payment status", func(t *testing.T) {
		second, err := repo.Create(ctx, newOrder())
		require.NoError(t, err)

		confirmed, err := repo.FindByStatus(ctx, domain.OrderStatusConfirmed)
		require.NoError(t, err)
		require.Len(t, confirmed, 1)
		assert.Equal(t, second.ID, confirmed[0].ID)
		assert.Len(t, confirmed[0].LineItems, 2)

		pending, err := repo.FindByPaymentStatus(ctx, domain.PaymentStatusPending)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		refunded, err := repo.FindByPaymentStatus(ctx, domain.PaymentStatusRefunded)
		require.NoError(t, err)
		assert.Empty(t, refunded)
	})
}
