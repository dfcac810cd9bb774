package persistence

import (
	"path/filepath"
	"testing"

	"github.com/erp/postingengine/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:          config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "posting.db"),
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 1,
	}

	db, err := NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, config.DriverSQLite, db.Driver)
	assert.False(t, db.SupportsLockTimeout())
	require.NoError(t, db.Ping())
	require.NoError(t, db.AutoMigrate())

	for _, table := range []string{"catalog_entries", "classification_codes", "documents", "document_lines", "stock_rows", "audit_entries"} {
		assert.True(t, db.DB.Migrator().HasTable(table), table)
	}

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestDatabase_Close(t *testing.T) {
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "close.db"),
	})
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping())
}

func TestDatabase_SupportsLockTimeout(t *testing.T) {
	assert.True(t, (&Database{Driver: config.DriverPostgres}).SupportsLockTimeout())
	assert.False(t, (&Database{Driver: config.DriverSQLite}).SupportsLockTimeout())
}
