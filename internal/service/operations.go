package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/config"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/storage"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// WithdrawRequest describes a withdrawal. Nil Shares redeems everything the owner
// holds; nil MaxLossBPS uses the default tolerance.
type WithdrawRequest struct {
	Owner      common.Address
	Shares     *uint256.Int
	Recipient  common.Address
	MaxLossBPS *uint64
}

// mutate runs op against a hosted vault, then persists it. Persistence also runs when
// op fails, since some failures (slippage, inconsistent loss) leave committed effects.
func (vs *VaultService) mutate(ctx context.Context, name string, vaultID common.Address, op func(v *vault.Vault) error) error {
	v, err := vs.Vault(vaultID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = op(v)
	vs.monitor.Record(name, time.Since(start), err)

	if err == nil || committedOnError(err) {
		vs.persist(ctx, v)
	}
	return err
}

// committedOnError reports errors that are returned after state changed
func committedOnError(err error) bool {
	return errors.Is(err, apperrors.ErrSlippageExceeded) || errors.Is(err, apperrors.ErrInconsistentLoss)
}

// Deposit mints shares for amount moved from depositor
func (vs *VaultService) Deposit(ctx context.Context, vaultID, depositor common.Address, amount *uint256.Int) (shares *uint256.Int, err error) {
	err = vs.mutate(ctx, "deposit", vaultID, func(v *vault.Vault) error {
		shares, err = v.Deposit(ctx, depositor, amount)
		return err
	})
	return shares, err
}

// Withdraw redeems shares. On slippage the result is returned with the error.
func (vs *VaultService) Withdraw(ctx context.Context, vaultID common.Address, req WithdrawRequest) (res *vault.WithdrawResult, err error) {
	err = vs.mutate(ctx, "withdraw", vaultID, func(v *vault.Vault) error {
		switch {
		case req.Shares == nil && req.MaxLossBPS == nil && (req.Recipient == common.Address{} || req.Recipient == req.Owner):
			res, err = v.WithdrawAll(ctx, req.Owner)
		default:
			shares := req.Shares
			if shares == nil {
				shares = v.BalanceOf(req.Owner)
			}
			recipient := req.Recipient
			if recipient == (common.Address{}) {
				recipient = req.Owner
			}
			maxLoss := types.DefaultMaxLossBPS
			if req.MaxLossBPS != nil {
				maxLoss = *req.MaxLossBPS
			}
			res, err = v.Withdraw(ctx, req.Owner, shares, recipient, maxLoss)
		}
		return err
	})
	return res, err
}

// Harvest settles one strategy while holding the cross-process harvest lock
func (vs *VaultService) Harvest(ctx context.Context, vaultID, strategyID common.Address) (report *vault.HarvestReport, err error) {
	if vs.lock != nil {
		release, lerr := vs.lock.Acquire(ctx, vaultID.Hex(), strategyID.Hex())
		if errors.Is(lerr, storage.ErrLockHeld) {
			return nil, apperrors.NewStrategyBusyError(strategyID.Hex())
		}
		if lerr != nil {
			return nil, lerr
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				vs.logger.WithStrategy(strategyID).WithError(rerr).Warn("Failed to release harvest lock")
			}
		}()
	}

	err = vs.mutate(ctx, "harvest", vaultID, func(v *vault.Vault) error {
		report, err = v.Harvest(ctx, strategyID)
		return err
	})
	vs.record(ctx, report)
	return report, err
}

// AddStrategy builds a unit from spec and attaches it to the vault
func (vs *VaultService) AddStrategy(ctx context.Context, vaultID common.Address, spec config.StrategySpec) error {
	params, err := strategyParams(spec)
	if err != nil {
		return err
	}
	unit, err := vs.buildUnit(spec)
	if err != nil {
		return apperrors.NewInvalidAmountError("kind", err.Error())
	}
	err = vs.mutate(ctx, "add_strategy", vaultID, func(v *vault.Vault) error {
		return v.AddStrategy(ctx, unit, params)
	})
	if err == nil {
		vs.track(unit)
	}
	return err
}

func strategyParams(spec config.StrategySpec) (vault.StrategyParams, error) {
	minDebt, err := config.ParseAmount(spec.MinDebtPerHarvest, new(uint256.Int))
	if err != nil {
		return vault.StrategyParams{}, apperrors.NewInvalidAmountError("minDebtPerHarvest", err.Error())
	}
	maxDebt, err := config.ParseAmount(spec.MaxDebtPerHarvest, nil)
	if err != nil {
		return vault.StrategyParams{}, apperrors.NewInvalidAmountError("maxDebtPerHarvest", err.Error())
	}
	return vault.StrategyParams{
		DebtRatio:         spec.DebtRatio,
		MinDebtPerHarvest: minDebt,
		MaxDebtPerHarvest: maxDebt,
		PerformanceFee:    spec.PerformanceFee,
	}, nil
}

// UpdateDebtRatio changes a strategy's share of total assets
func (vs *VaultService) UpdateDebtRatio(ctx context.Context, vaultID, strategyID common.Address, bps uint64) error {
	return vs.mutate(ctx, "update_debt_ratio", vaultID, func(v *vault.Vault) error {
		return v.UpdateStrategyDebtRatio(strategyID, bps)
	})
}

// RevokeStrategy sets a strategy's ratio to zero so it unwinds on its next harvest
func (vs *VaultService) RevokeStrategy(ctx context.Context, vaultID, strategyID common.Address) error {
	return vs.mutate(ctx, "revoke", vaultID, func(v *vault.Vault) error {
		return v.RevokeStrategy(strategyID)
	})
}

// SetEmergencyExit marks a strategy for a full unwind on its next harvest
func (vs *VaultService) SetEmergencyExit(ctx context.Context, vaultID, strategyID common.Address) error {
	return vs.mutate(ctx, "emergency_exit", vaultID, func(v *vault.Vault) error {
		return v.SetEmergencyExit(strategyID)
	})
}

// RemoveStrategy drops a fully repaid strategy from the queue
func (vs *VaultService) RemoveStrategy(ctx context.Context, vaultID, strategyID common.Address) error {
	return vs.mutate(ctx, "remove", vaultID, func(v *vault.Vault) error {
		return v.RemoveStrategy(strategyID)
	})
}

// MigrateStrategy moves a strategy's position and ledger entry to a new unit
func (vs *VaultService) MigrateStrategy(ctx context.Context, vaultID, oldID common.Address, spec config.StrategySpec) error {
	unit, err := vs.buildUnit(spec)
	if err != nil {
		return apperrors.NewInvalidAmountError("kind", err.Error())
	}
	err = vs.mutate(ctx, "migrate", vaultID, func(v *vault.Vault) error {
		return v.MigrateStrategy(ctx, oldID, unit)
	})
	if err == nil {
		vs.track(unit)
	}
	return err
}

// SetEmergencyShutdown toggles the vault-wide shutdown flag
func (vs *VaultService) SetEmergencyShutdown(ctx context.Context, vaultID common.Address, active bool) error {
	return vs.mutate(ctx, "shutdown", vaultID, func(v *vault.Vault) error {
		v.SetEmergencyShutdown(active)
		return nil
	})
}

// SetDepositLimit caps total assets accepted by deposits
func (vs *VaultService) SetDepositLimit(ctx context.Context, vaultID common.Address, limit *uint256.Int) error {
	return vs.mutate(ctx, "deposit_limit", vaultID, func(v *vault.Vault) error {
		v.SetDepositLimit(limit)
		return nil
	})
}

// Fund credits an account in the asset book
func (vs *VaultService) Fund(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return apperrors.NewInvalidAmountError("amount", "must be positive")
	}
	return vs.book.Mint(account, amount)
}

// Simulate moves a simulated unit's position: earn adds value, lose removes it
func (vs *VaultService) Simulate(strategyID common.Address, earn, lose *uint256.Int) error {
	sim, ok := vs.simulatedUnit(strategyID)
	if !ok {
		return apperrors.NewUnknownStrategyError(strategyID.Hex())
	}
	if earn != nil && !earn.IsZero() {
		if err := sim.Earn(earn); err != nil {
			return err
		}
	}
	if lose != nil && !lose.IsZero() {
		return sim.Lose(lose)
	}
	return nil
}
