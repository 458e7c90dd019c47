// Package keeper harvests every queued strategy of every hosted vault on a cron schedule.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/yield-vault/internal/config"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/retry"
)

// Harvester is what the keeper drives: the in-process service through Local, or
// a remote server through *client.Client.
type Harvester interface {
	Vaults(ctx context.Context) ([]common.Address, error)
	Queue(ctx context.Context, vaultID common.Address) ([]common.Address, error)
	Harvest(ctx context.Context, vaultID, strategyID common.Address) (*models.HarvestReport, error)
}

// CycleResult summarizes one pass over all vaults
type CycleResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Harvested int           `json:"harvested"`
	// Busy handles were being harvested elsewhere for the whole retry window
	Busy   int      `json:"busy"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Keeper runs harvest cycles
type Keeper struct {
	harvester   Harvester
	schedule    string
	concurrency int
	retry       retry.Config
	logger      *logging.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	running   bool
	cycles    int
	lastCycle *CycleResult
}

// New validates cfg and creates a stopped keeper
func New(h Harvester, cfg config.KeeperConfig, logger *logging.Logger) (*Keeper, error) {
	if h == nil {
		return nil, fmt.Errorf("harvester cannot be nil")
	}
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid keeper schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	rc := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxAttempts = cfg.MaxRetries
	}
	if cfg.InitialBackoff > 0 {
		rc.InitialDelay = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		rc.MaxDelay = cfg.MaxBackoff
	}

	return &Keeper{
		harvester:   h,
		schedule:    cfg.Schedule,
		concurrency: concurrency,
		retry:       rc,
		logger:      logger.WithComponent("keeper"),
	}, nil
}

// schedules carry a leading seconds field, like cron.WithSeconds
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Start schedules cycles until Stop is called or ctx is done. A cycle that is still
// running when the next one is due makes the next one skip.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("keeper is already running")
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(k.schedule, func() { k.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("register harvest cycle: %w", err)
	}
	c.Start()

	k.cron = c
	k.running = true
	k.logger.WithField("schedule", k.schedule).WithField("concurrency", k.concurrency).Info("Keeper started")
	return nil
}

// Stop unschedules cycles and waits for a running one to finish
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return fmt.Errorf("keeper is not running")
	}
	c := k.cron
	k.running = false
	k.cron = nil
	k.mu.Unlock()

	select {
	case <-c.Stop().Done():
		k.logger.Info("Keeper stopped")
		return nil
	case <-ctx.Done():
		k.logger.Warn("Keeper stop timed out with a cycle in flight")
		return ctx.Err()
	}
}

// LastCycle returns the most recent cycle's result, or nil before the first one
func (k *Keeper) LastCycle() *CycleResult {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastCycle
}

// Cycles returns how many cycles have completed
func (k *Keeper) Cycles() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cycles
}

type target struct {
	vault    common.Address
	strategy common.Address
}

// RunCycle harvests every queued strategy once. Failures are counted, not returned,
// so one unresponsive strategy never stops the others.
func (k *Keeper) RunCycle(ctx context.Context) *CycleResult {
	res := &CycleResult{StartedAt: time.Now()}
	var mu sync.Mutex

	var targets []target
	vaults, err := k.harvester.Vaults(ctx)
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("list vaults: %v", err))
	}
	for _, vaultID := range vaults {
		queue, err := k.harvester.Queue(ctx, vaultID)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", vaultID.Hex(), err))
			continue
		}
		for _, s := range queue {
			targets = append(targets, target{vault: vaultID, strategy: s})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			err := k.harvest(gctx, t)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Harvested++
			case errors.Is(err, apperrors.ErrStrategyBusy):
				res.Busy++
			default:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", t.vault.Hex(), t.strategy.Hex(), err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(res.StartedAt)

	k.mu.Lock()
	k.cycles++
	k.lastCycle = res
	k.mu.Unlock()

	entry := k.logger.WithFields(map[string]interface{}{
		"harvested":   res.Harvested,
		"busy":        res.Busy,
		"failed":      res.Failed,
		"duration_ms": res.Duration.Milliseconds(),
	})
	if res.Failed > 0 {
		entry.Warn("Harvest cycle finished with failures")
	} else {
		entry.Info("Harvest cycle finished")
	}
	return res
}

// harvest retries retryable failures with backoff. An inconsistent loss report still
// settled the ledger, so it counts as harvested.
func (k *Keeper) harvest(ctx context.Context, t target) error {
	logger := k.logger.WithVault(t.vault).WithStrategy(t.strategy)
	ctx = logging.WithLogger(ctx, logger)

	result := retry.Do(ctx, k.retry, func(ctx context.Context, attempt int) error {
		report, err := k.harvester.Harvest(ctx, t.vault, t.strategy)
		if errors.Is(err, apperrors.ErrInconsistentLoss) {
			logger.WithError(err).Warn("Strategy reported a loss above its debt")
			return nil
		}
		if err == nil && report != nil {
			logger.WithFields(map[string]interface{}{
				"gain":       report.Gain,
				"loss":       report.Loss,
				"debt_added": report.DebtAdded,
				"repaid":     report.DebtRepaid,
				"attempt":    attempt,
			}).Debug("Strategy harvested")
		}
		return err
	})
	return result.LastError
}
