package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/types"
)

// MigrateStrategy moves the position of oldID to newUnit and hands the new unit the
// old handle's terms, debt and queue slot. If the unit-level transfer fails neither
// handle changes.
func (v *Vault) MigrateStrategy(ctx context.Context, oldID common.Address, newUnit Strategy) error {
	if newUnit == nil {
		return apperrors.NewInvalidAmountError("strategy", "migration target is required")
	}
	if err := v.acquire(oldID); err != nil {
		return err
	}
	defer v.release(oldID)

	v.mu.Lock()
	defer v.mu.Unlock()

	old, err := v.activeHandle(oldID)
	if err != nil {
		return err
	}
	newID := newUnit.ID()
	if _, exists := v.handles[newID]; exists {
		return apperrors.NewMigrationTargetAlreadyActiveError(newID.Hex())
	}
	oldKind, newKind := unitKind(old.unit), unitKind(newUnit)
	if oldKind != "" && newKind != "" && oldKind != newKind {
		return apperrors.NewInvalidAmountError("strategy",
			fmt.Sprintf("cannot migrate a %s unit to a %s unit", oldKind, newKind))
	}

	err = v.callUnit(ctx, oldID, "transfer position", func(ctx context.Context) error {
		return old.unit.TransferPositionTo(ctx, newUnit)
	})
	if err != nil {
		v.logger.WithStrategy(oldID).WithError(err).Warn("Migration aborted")
		return err
	}

	h := newHandle(newUnit, StrategyParams{
		DebtRatio:         old.debtRatio,
		MinDebtPerHarvest: old.minDebtPerHarvest,
		MaxDebtPerHarvest: old.maxDebtPerHarvest,
		PerformanceFee:    old.performanceFee,
	}, v.clock.Now())
	h.lastReport = old.lastReport
	h.currentDebt.Set(old.currentDebt)

	old.debtRatio = 0
	old.currentDebt.Clear()
	old.status = types.StrategyMigrated

	v.handles[newID] = h
	for i, id := range v.queue {
		if id == oldID {
			v.queue[i] = newID
			break
		}
	}

	v.logger.WithStrategy(oldID).WithFields(map[string]interface{}{
		"to":   newID.Hex(),
		"debt": h.currentDebt.Dec(),
	}).Info("Strategy migrated")
	return nil
}

// unitKind is empty for units that do not implement Describer
func unitKind(unit Strategy) types.StrategyKind {
	if d, ok := unit.(Describer); ok {
		kind, _ := d.Definition()
		return kind
	}
	return ""
}
