package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/yield-vault/internal/config"
)

// ClickHouseDB is the append-only store behind harvest history
type ClickHouseDB struct {
	conn driver.Conn
}

// clickHouseSettings turns cfg into per-query settings. Report inserts are small and
// frequent, so async inserts batch them server side while each insert still waits for
// its flush.
func clickHouseSettings(cfg *config.ClickHouseConfig) clickhouse.Settings {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := clickhouse.Settings{
		"max_execution_time": int(timeout.Seconds()),
	}
	if cfg.AsyncInsert {
		settings["async_insert"] = 1
		settings["wait_for_async_insert"] = 1
	}
	return settings
}

// NewClickHouseDB opens and pings a ClickHouse connection
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 5
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings:         clickHouseSettings(cfg),
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     maxConns,
		MaxIdleConns:     max(1, maxConns/2),
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "yield-vault", Version: "1"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Exec runs a statement without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// Health checks the server is reachable and the report table exists
func (db *ClickHouseDB) Health(ctx context.Context) error {
	var exists uint8
	if err := db.conn.QueryRow(ctx, "EXISTS TABLE harvest_reports").Scan(&exists); err != nil {
		return fmt.Errorf("harvest history unavailable: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("harvest_reports table is missing; run the ClickHouse migrations")
	}
	return nil
}
