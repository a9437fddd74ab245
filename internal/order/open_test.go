package order

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestOpenBackendSQLite(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, BackendConfig{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "b.db"), Migrate: true})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.NoError(t, b.Ping(ctx))
	o, err := b.Store.Create(ctx, NewOrder{Total: decimal.RequireFromString("1.50")})
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)
}

func TestOpenBackendRejectsUnknownDriver(t *testing.T) {
	_, err := OpenBackend(context.Background(), BackendConfig{Driver: "mysql"})
	require.Error(t, err)

	var b *Backend
	require.ErrorIs(t, b.Ping(context.Background()), ErrStoreUnavailable)
	b.Close()
}
