package order_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/db"
	"github.com/noah-isme/concordpay-gateway/internal/order"
)

// Runs against a real Postgres when TEST_DATABASE_URL is set.
func TestStoreCompletePaymentIsIdempotent(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(pool))

	store := order.NewStore(pool)
	id := uuid.NewString()
	require.NoError(t, store.Create(ctx, concordpay.Order{
		ID:       id,
		Total:    decimal.RequireFromString("100.00"),
		Currency: "UAH",
		Items:    []concordpay.Item{{Name: "Mug", Qty: 1, LineTotal: decimal.RequireFromString("100")}},
	}))
	require.ErrorIs(t, store.Create(ctx, concordpay.Order{ID: id, Currency: "UAH"}), order.ErrExists)

	found, err := store.FindOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, found.Status)
	require.True(t, found.Total.Equal(decimal.RequireFromString("100")))
	require.Len(t, found.Items, 1)

	require.NoError(t, store.CompletePayment(ctx, id, "first"))
	require.NoError(t, store.CompletePayment(ctx, id, "second"))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, rec.Order.Status)
	require.NotNil(t, rec.PaidAt)
	require.Len(t, rec.Notes, 1)
	require.Equal(t, "first", rec.Notes[0].Note)

	require.ErrorIs(t, store.CompletePayment(ctx, uuid.NewString(), "x"), order.ErrNotFound)
	_, err = store.FindOrder(ctx, uuid.NewString())
	require.ErrorIs(t, err, order.ErrNotFound)
	require.ErrorIs(t, err, concordpay.ErrOrderNotFound)
}

func TestErrNotFoundIsGatewayNotFound(t *testing.T) {
	require.ErrorIs(t, order.ErrNotFound, concordpay.ErrOrderNotFound)
	require.NotErrorIs(t, order.ErrExists, concordpay.ErrOrderNotFound)
}
