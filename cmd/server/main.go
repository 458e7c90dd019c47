// Package main provides the API server entry point for the yield vault service.
package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yield-vault/internal/api"
	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/circuitbreaker"
	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/keeper"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/service"
	"github.com/yield-vault/internal/storage"
	"github.com/yield-vault/internal/strategy"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup := buildService(ctx, cfg, logger)
	defer cleanup()

	vf, err := config.LoadVaultFile(cfg.VaultConfigFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load vault file")
	}
	if err := svc.Bootstrap(ctx, vf); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap vaults")
	}
	logger.WithField("vaults", len(svc.VaultIDs())).Info("Vaults hosted")

	var k *keeper.Keeper
	if cfg.Keeper.Embedded {
		k, err = keeper.New(keeper.Local(svc), cfg.Keeper, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create keeper")
		}
		if err := k.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start keeper")
		}
	}

	server := api.NewServer(api.NewServerConfig(cfg.Server, cfg.RateLimit), svc, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if k != nil {
		if err := k.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Keeper did not stop cleanly")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	for _, res := range svc.CheckAll() {
		if !res.Consistent {
			logger.WithField("vault", res.VaultID).WithField("issues", res.Inconsistencies).Warn("Vault inconsistent at shutdown")
		}
	}
	logger.Info("Server exited")
}

// buildService wires the optional backends into a VaultService. The returned
// cleanup closes every connection that was opened.
func buildService(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*service.VaultService, func()) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	book := asset.NewBook()
	breakers := circuitbreaker.NewRegistry(func(name string) circuitbreaker.Config {
		c := circuitbreaker.DefaultConfig(name)
		c.FailureThreshold = cfg.Strategy.BreakerThreshold
		c.ResetTimeout = cfg.Strategy.BreakerResetTimeout
		return c
	})
	factory := &strategy.Factory{
		Book:        book,
		Breakers:    breakers,
		CallTimeout: cfg.Strategy.CallTimeout,
		RemoteRPS:   cfg.Strategy.RemoteRPS,
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithCallTimeout(cfg.Strategy.CallTimeout),
	}

	if cfg.Database.Postgres.Enabled {
		pg, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		closers = append(closers, pg.Close)

		path := filepath.Join(cfg.MigrationsPath, "postgres")
		if err := storage.RunMigrations(storage.PostgresURL(&cfg.Database.Postgres), path); err != nil {
			logger.WithError(err).Fatal("Failed to run Postgres migrations")
		}
		opts = append(opts,
			service.WithVaultStore(storage.NewVaultRepository(pg)),
			service.WithHealthCheck("postgres", pg),
		)
		logger.Info("Ledger state persisted to Postgres")
	}

	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		closers = append(closers, func() { ch.Close() })

		if err := storage.RunClickHouseMigrations(ctx, ch, filepath.Join(cfg.MigrationsPath, "clickhouse")); err != nil {
			logger.WithError(err).Fatal("Failed to run ClickHouse migrations")
		}
		opts = append(opts,
			service.WithReportStore(storage.NewReportRepository(ch)),
			service.WithHealthCheck("clickhouse", ch),
		)
		logger.Info("Harvest reports recorded in ClickHouse")
	}

	if cfg.Database.Redis.Enabled {
		rc, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		closers = append(closers, func() { rc.Close() })

		opts = append(opts,
			service.WithSummaryCache(storage.NewSummaryCache(rc, cfg.Cache.SummaryTTL)),
			service.WithHarvestLocker(storage.NewHarvestLock(rc.Client(), cfg.Lock.HarvestTTL)),
			service.WithHealthCheck("redis", rc),
		)
		logger.Info("Summary cache and harvest lock backed by Redis")
	}

	if len(closers) == 0 {
		logger.Warn("No backends enabled; ledger state lives in memory only")
	}
	return service.NewVaultService(book, factory, opts...), cleanup
}
