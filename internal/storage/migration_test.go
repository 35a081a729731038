package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_MigrationVersioning(t *testing.T) {
	storage := newTestStorage(t)

	status, err := storage.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(2), status.Version)
	assert.False(t, status.Dirty)

	// Running migrations again is idempotent
	require.NoError(t, storage.Migrate(context.Background()))

	again, err := storage.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, status.Version, again.Version)
}

func TestSQLiteStorage_TableCreation(t *testing.T) {
	storage := newTestStorage(t)

	for _, table := range []string{"secrets", "sites", "schema_migrations"} {
		var exists bool
		err := storage.db.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM sqlite_master WHERE type='table' AND name=?
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "Table %s should exist", table)
	}
}
