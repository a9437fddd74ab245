// Package ordertest provides a migrated SQLite order store for tests in other packages.
package ordertest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/order"
)

// NewStore opens a fresh SQLite database under t.TempDir and applies the migrations.
func NewStore(t testing.TB) *order.SQLiteStore {
	t.Helper()
	db, err := order.OpenSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, order.Migrate(db, order.DriverSQLite))
	return order.NewSQLiteStore(db)
}

// AwaitingPayment creates an order with total, assigns reference and moves it to pending-payment.
func AwaitingPayment(t testing.TB, store order.Store, total, reference string) order.Order {
	t.Helper()
	ctx := context.Background()
	o, err := store.Create(ctx, order.NewOrder{Total: decimal.RequireFromString(total), CustomerEmail: "buyer@example.com"})
	require.NoError(t, err)
	_, err = store.SetReferenceOnce(ctx, o.ID, reference)
	require.NoError(t, err)
	o, _, err = store.MarkPendingPayment(ctx, o.ID)
	require.NoError(t, err)
	return o
}
