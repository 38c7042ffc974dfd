package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_NilGuards(t *testing.T) {
	var store *Store

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, store.Ping(ctx))
	require.NoError(t, store.Close())
	require.Error(t, store.MigrateUp(ctx, 0))
	_, err := store.MigrationStatus(ctx)
	require.Error(t, err)
}

func TestStore_OpenInvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "::not a dsn::")
	require.Error(t, err)
}

func TestPoolOptions_Defaults(t *testing.T) {
	opts := PoolOptions{MaxOpenConns: 5}.withDefaults()
	assert.Equal(t, 5, opts.MaxOpenConns)
	assert.Equal(t, defaultMaxIdleConns, opts.MaxIdleConns)
	assert.Equal(t, defaultConnMaxLifetime, opts.ConnMaxLifetime)
	assert.Equal(t, defaultConnMaxIdleTime, opts.ConnMaxIdleTime)
}

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)
	assert.Len(t, state.Pending, 4)

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.MigrateUp(ctx, 0), "repeated up must be a no-op")
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), state.Version)
	assert.Equal(t, 4, state.Applied)
	assert.Empty(t, state.Pending)

	require.NoError(t, store.MigrateDown(ctx, 1))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, []string{"0004_idempotency"}, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 1))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), state.Version)
}
