package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
)

// DebtAdjustment is the signed distance between a strategy's debt and its target,
// split into two non-negative halves. At most one of them is non-zero.
type DebtAdjustment struct {
	Credit *uint256.Int
	Debit  *uint256.Int
}

// Allocation pairs a strategy with its pending adjustment
type Allocation struct {
	StrategyID common.Address
	DebtAdjustment
}

// ledgerView is the subset of vault totals the target computation reads
type ledgerView struct {
	idle      *uint256.Int
	totalDebt *uint256.Int
	ratioSum  uint64
	shutdown  bool
}

func (lv ledgerView) totalAssets() *uint256.Int {
	return addSat(lv.idle, lv.totalDebt)
}

// adjustment computes how far debt is from the handle's target under lv
func adjustment(lv ledgerView, h *handle, debt *uint256.Int) DebtAdjustment {
	target := zero()
	if !h.forcedToZero(lv.shutdown) {
		assets := lv.totalAssets()

		vaultCeiling := portion(assets, lv.ratioSum)
		vaultAvailable := minOf(subFloor(vaultCeiling, lv.totalDebt), lv.idle)

		target = portion(assets, h.debtRatio)
		target = minOf(target, addSat(debt, h.maxDebtPerHarvest))
		target = minOf(target, addSat(debt, vaultAvailable))
	}

	adj := DebtAdjustment{Credit: zero(), Debit: zero()}
	switch {
	case target.Gt(debt):
		credit := new(uint256.Int).Sub(target, debt)
		if !credit.Lt(h.minDebtPerHarvest) {
			adj.Credit = credit
		}
	case target.Lt(debt):
		adj.Debit = new(uint256.Int).Sub(debt, target)
	}
	return adj
}

// view must be called with mu held
func (v *Vault) view() ledgerView {
	return ledgerView{
		idle:      v.idle.Clone(),
		totalDebt: v.totalDebt.Clone(),
		ratioSum:  v.debtRatio,
		shutdown:  v.shutdown,
	}
}

// CreditOrDebitAvailable returns how much the strategy could borrow, or should repay,
// if it were harvested now. It does not change any state.
func (v *Vault) CreditOrDebitAvailable(id common.Address) (DebtAdjustment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.handles[id]
	if !ok {
		return DebtAdjustment{}, apperrors.NewUnknownStrategyError(id.Hex())
	}
	return adjustment(v.view(), h, h.currentDebt), nil
}

// AllocationPlan evaluates every queued strategy in registration order as if each were
// harvested in turn, so earlier strategies consume the vault-wide ceiling first.
func (v *Vault) AllocationPlan() []Allocation {
	v.mu.Lock()
	defer v.mu.Unlock()

	lv := v.view()
	plan := make([]Allocation, 0, len(v.queue))
	for _, id := range v.queue {
		h := v.handles[id]
		adj := adjustment(lv, h, h.currentDebt)
		plan = append(plan, Allocation{StrategyID: id, DebtAdjustment: adj})

		lv.idle = subFloor(lv.idle, adj.Credit)
		lv.idle = addSat(lv.idle, adj.Debit)
		lv.totalDebt = addSat(lv.totalDebt, adj.Credit)
		lv.totalDebt = subFloor(lv.totalDebt, adj.Debit)
	}
	return plan
}
