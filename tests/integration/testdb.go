//go:build integration

// Package integration runs the engine against a real PostgreSQL started with
// testcontainers. Run with: go test -tags integration ./tests/integration/...
package integration

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/erp/postingengine/internal/infrastructure/migration"
	"github.com/erp/postingengine/migrations"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB is a migrated PostgreSQL database in its own container
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// NewTestDB starts a PostgreSQL container, applies the embedded migrations
// and registers cleanup with t.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("posting_engine_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	db, sqlDB := connectToDatabase(t, dsn)
	tdb := &TestDB{DB: db, SqlDB: sqlDB, Container: container, DSN: dsn, t: t}
	t.Cleanup(tdb.Close)

	tdb.Migrator().Up()
	return tdb
}

// Migrator returns a migrator over the embedded migrations that fails the
// test on error
func (tdb *TestDB) Migrator() *TestMigrator {
	tdb.t.Helper()
	m, err := migration.New(tdb.SqlDB, migrations.FS, zap.NewNop())
	require.NoError(tdb.t, err, "Failed to create migrator")
	return &TestMigrator{m: m, t: tdb.t}
}

// TestMigrator wraps migration.Migrator with test assertions
type TestMigrator struct {
	m *migration.Migrator
	t *testing.T
}

// Up applies every pending migration
func (tm *TestMigrator) Up() {
	tm.t.Helper()
	require.NoError(tm.t, tm.m.Up(), "Migration up failed")
}

// Steps applies n migrations, rolling back when n is negative
func (tm *TestMigrator) Steps(n int) {
	tm.t.Helper()
	require.NoError(tm.t, tm.m.Steps(n), "Migration steps failed")
}

// Version returns the applied version
func (tm *TestMigrator) Version() uint {
	tm.t.Helper()
	v, dirty, err := tm.m.Version()
	require.NoError(tm.t, err)
	require.False(tm.t, dirty, "Migration state is dirty")
	return v
}

// Close closes the database connection and terminates the container
func (tdb *TestDB) Close() {
	if tdb.SqlDB != nil {
		_ = tdb.SqlDB.Close()
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			tdb.t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}

// TableExists reports whether table is present in the public schema
func (tdb *TestDB) TableExists(table string) bool {
	tdb.t.Helper()
	var n int64
	err := tdb.DB.Raw(`SELECT COUNT(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = ?`, table).
		Scan(&n).Error
	require.NoError(tdb.t, err)
	return n > 0
}

func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")

	// Enough connections for the concurrent posting tests plus a lock holder
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}
