// Package main runs the harvest keeper as its own process, driving a running API
// server over HTTP.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/yield-vault/internal/client"
	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/keeper"
	"github.com/yield-vault/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("api", cfg.Keeper.APIURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.Keeper.APIURL, client.WithClientID("keeper"))

	// the server may still be starting
	var healthy bool
	for attempt := 1; attempt <= 10 && !healthy; attempt++ {
		if _, err := api.Health(ctx); err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("API server not reachable yet")
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		healthy = true
	}
	if !healthy {
		logger.Fatal("API server never became reachable")
	}

	k, err := keeper.New(api, cfg.Keeper, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create keeper")
	}
	if err := k.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start keeper")
	}

	<-ctx.Done()
	logger.Info("Shutting down keeper...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := k.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Keeper did not stop cleanly")
	}
	if last := k.LastCycle(); last != nil {
		logger.WithFields(map[string]interface{}{
			"cycles":    k.Cycles(),
			"harvested": last.Harvested,
			"failed":    last.Failed,
		}).Info("Keeper exited")
	}
}
