package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yield-vault/internal/config"
)

// Integration tests reach local databases on their default ports. TEST_POSTGRES_HOST and
// TEST_CLICKHOUSE_HOST point them elsewhere; -short skips them.

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testHost(key string) string {
	if h := os.Getenv(key); h != "" {
		return h
	}
	return "localhost"
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           testHost("TEST_POSTGRES_HOST"),
		Port:           "5432",
		Database:       "yield_vault",
		User:           "vault",
		Password:       "vault_dev_password",
		MaxConnections: 10,
	}
}

// setupPostgres connects and migrates, skipping when no database is running
func setupPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(PostgresURL(cfg), "../../migrations/postgres"))
	return db
}

func setupClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     testHost("TEST_CLICKHOUSE_HOST"),
		Port:     "9000",
		Database: "yield_vault",
		User:     "default",
		Password: "clickhouse_dev_password",
	}
	db, err := NewClickHouseDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunClickHouseMigrations(testContext(t), db, "../../migrations/clickhouse"))
	return db
}
