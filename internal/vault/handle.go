package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
)

// StrategyParams are the lending terms of a new strategy handle
type StrategyParams struct {
	// DebtRatio is the share of total assets the strategy may borrow, in basis points
	DebtRatio         uint64
	MinDebtPerHarvest *uint256.Int
	// MaxDebtPerHarvest defaults to unbounded when nil
	MaxDebtPerHarvest *uint256.Int
	// PerformanceFee is the strategist's cut of each gain, in basis points
	PerformanceFee uint64
}

// handle is the vault's bookkeeping for one strategy unit. Guarded by Vault.mu.
type handle struct {
	unit Strategy
	id   common.Address

	status            types.StrategyStatus
	debtRatio         uint64
	currentDebt       *uint256.Int
	minDebtPerHarvest *uint256.Int
	maxDebtPerHarvest *uint256.Int
	performanceFee    uint64

	activation time.Time
	lastReport time.Time

	totalGain        *uint256.Int
	totalLoss        *uint256.Int
	unreconciledLoss *uint256.Int
	emergencyExit    bool
}

func newHandle(unit Strategy, p StrategyParams, now time.Time) *handle {
	maxDebt := p.MaxDebtPerHarvest
	if maxDebt == nil {
		maxDebt = new(uint256.Int).SetAllOne()
	}
	return &handle{
		unit:              unit,
		id:                unit.ID(),
		status:            types.StrategyActive,
		debtRatio:         p.DebtRatio,
		currentDebt:       zero(),
		minDebtPerHarvest: orZero(p.MinDebtPerHarvest),
		maxDebtPerHarvest: new(uint256.Int).Set(maxDebt),
		performanceFee:    p.PerformanceFee,
		activation:        now,
		lastReport:        now,
		totalGain:         zero(),
		totalLoss:         zero(),
		unreconciledLoss:  zero(),
	}
}

// forcedToZero reports whether the handle must be fully unwound
func (h *handle) forcedToZero(shutdown bool) bool {
	return shutdown || h.emergencyExit || h.status != types.StrategyActive
}

// StrategyState is a copy of a handle's bookkeeping
type StrategyState struct {
	ID                common.Address
	Status            types.StrategyStatus
	DebtRatio         uint64
	CurrentDebt       *uint256.Int
	MinDebtPerHarvest *uint256.Int
	MaxDebtPerHarvest *uint256.Int
	PerformanceFee    uint64
	Activation        time.Time
	LastReport        time.Time
	TotalGain         *uint256.Int
	TotalLoss         *uint256.Int
	UnreconciledLoss  *uint256.Int
	EmergencyExit     bool
	Busy              bool
}

func (h *handle) state(busy bool) StrategyState {
	return StrategyState{
		ID:                h.id,
		Status:            h.status,
		DebtRatio:         h.debtRatio,
		CurrentDebt:       h.currentDebt.Clone(),
		MinDebtPerHarvest: h.minDebtPerHarvest.Clone(),
		MaxDebtPerHarvest: h.maxDebtPerHarvest.Clone(),
		PerformanceFee:    h.performanceFee,
		Activation:        h.activation,
		LastReport:        h.lastReport,
		TotalGain:         h.totalGain.Clone(),
		TotalLoss:         h.totalLoss.Clone(),
		UnreconciledLoss:  h.unreconciledLoss.Clone(),
		EmergencyExit:     h.emergencyExit,
		Busy:              busy,
	}
}

// Summary renders the state with decimal amounts
func (s StrategyState) Summary() types.StrategySummary {
	return types.StrategySummary{
		ID:                s.ID.Hex(),
		Status:            s.Status,
		DebtRatio:         s.DebtRatio,
		CurrentDebt:       s.CurrentDebt.Dec(),
		MinDebtPerHarvest: s.MinDebtPerHarvest.Dec(),
		MaxDebtPerHarvest: s.MaxDebtPerHarvest.Dec(),
		PerformanceFee:    s.PerformanceFee,
		TotalGain:         s.TotalGain.Dec(),
		TotalLoss:         s.TotalLoss.Dec(),
		UnreconciledLoss:  s.UnreconciledLoss.Dec(),
		EmergencyExit:     s.EmergencyExit,
		Activation:        s.Activation,
		LastReport:        s.LastReport,
	}
}
