// Package storage persists vault ledgers, harvest reports and shared caches.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yield-vault/internal/config"
)

// ledgerSchemaCheck is run by Health to catch a database that missed a migration.
// The newest ledger columns come last.
const ledgerSchemaCheck = `SELECT queue_position, kind, endpoint FROM vault_strategies LIMIT 0`

// PostgresDB holds the pool the ledger snapshots are written through
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool sized for one snapshot transaction per mutation and
// checks the server is reachable
func NewPostgresDB(ctx context.Context, cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is small
	}
	if cfg.MinConnections > 0 && int32(cfg.MinConnections) <= poolConfig.MaxConns { // #nosec G115
		poolConfig.MinConns = int32(cfg.MinConnections) // #nosec G115
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "yield-vault"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// PostgresURL renders cfg as a URL for pgx and golang-migrate
func PostgresURL(cfg *config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Health checks the server is reachable and the ledger tables carry every migrated column
func (db *PostgresDB) Health(ctx context.Context) error {
	rows, err := db.pool.Query(ctx, ledgerSchemaCheck)
	if err != nil {
		return fmt.Errorf("ledger schema unavailable: %w", err)
	}
	rows.Close()
	return rows.Err()
}
