package vault

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
)

// Snapshot is a deep copy of a vault's ledger state, used for persistence
type Snapshot struct {
	ID                common.Address
	Decimals          uint8
	Idle              *uint256.Int
	TotalDebt         *uint256.Int
	TotalShares       *uint256.Int
	DepositLimit      *uint256.Int
	ManagementFee     uint64
	PerformanceFee    uint64
	FeeRecipient      common.Address
	EmergencyShutdown bool
	Balances          map[common.Address]*uint256.Int
	// Strategies holds queued handles in queue order, then retired ones
	Strategies []StrategySnapshot
}

// StrategySnapshot is the persisted form of a handle
type StrategySnapshot struct {
	ID                common.Address
	Status            types.StrategyStatus
	// Kind and Endpoint describe the unit; empty when it does not implement Describer
	Kind              types.StrategyKind
	Endpoint          string
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
	// QueuePosition is the index in the withdrawal queue, -1 once retired
	QueuePosition int
}

// Snapshot copies the vault's state
func (v *Vault) Snapshot() *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := &Snapshot{
		ID:                v.id,
		Decimals:          v.decimals,
		Idle:              v.idle.Clone(),
		TotalDebt:         v.totalDebt.Clone(),
		TotalShares:       v.totalShares.Clone(),
		DepositLimit:      v.depositLimit.Clone(),
		ManagementFee:     v.managementFee,
		PerformanceFee:    v.performanceFee,
		FeeRecipient:      v.feeRecipient,
		EmergencyShutdown: v.shutdown,
		Balances:          make(map[common.Address]*uint256.Int, len(v.balances)),
	}
	for acct, bal := range v.balances {
		s.Balances[acct] = bal.Clone()
	}

	for i, id := range v.queue {
		s.Strategies = append(s.Strategies, snapshotHandle(v.handles[id], i))
	}
	var retired []common.Address
	for id, h := range v.handles {
		if h.status == types.StrategyMigrated || h.status == types.StrategyRemoved {
			retired = append(retired, id)
		}
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i].Cmp(retired[j]) < 0 })
	for _, id := range retired {
		s.Strategies = append(s.Strategies, snapshotHandle(v.handles[id], -1))
	}
	return s
}

func snapshotHandle(h *handle, pos int) StrategySnapshot {
	var kind types.StrategyKind
	var endpoint string
	if d, ok := h.unit.(Describer); ok {
		kind, endpoint = d.Definition()
	}
	return StrategySnapshot{
		Kind:              kind,
		Endpoint:          endpoint,
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
		QueuePosition:     pos,
	}
}

// Restore rebuilds a vault from a snapshot. units must contain a Strategy for every
// queued handle. The ledger invariants are checked before the vault is returned.
func Restore(s *Snapshot, units map[common.Address]Strategy, transfer ValueTransfer, opts ...Option) (*Vault, error) {
	v, err := New(Params{
		ID:             s.ID,
		Decimals:       s.Decimals,
		DepositLimit:   s.DepositLimit,
		ManagementFee:  s.ManagementFee,
		PerformanceFee: s.PerformanceFee,
		FeeRecipient:   s.FeeRecipient,
	}, transfer, opts...)
	if err != nil {
		return nil, err
	}

	v.idle = orZero(s.Idle)
	v.totalDebt = orZero(s.TotalDebt)
	v.totalShares = orZero(s.TotalShares)
	v.shutdown = s.EmergencyShutdown
	for acct, bal := range s.Balances {
		if bal != nil && !bal.IsZero() {
			v.balances[acct] = bal.Clone()
		}
	}

	queued := make([]StrategySnapshot, 0, len(s.Strategies))
	for _, ss := range s.Strategies {
		if !ss.Status.IsValid() {
			return nil, fmt.Errorf("restore %s: strategy %s has invalid status %q", s.ID.Hex(), ss.ID.Hex(), ss.Status)
		}
		if _, dup := v.handles[ss.ID]; dup {
			return nil, fmt.Errorf("restore %s: duplicate strategy %s", s.ID.Hex(), ss.ID.Hex())
		}

		h := &handle{
			unit:              units[ss.ID],
			id:                ss.ID,
			status:            ss.Status,
			debtRatio:         ss.DebtRatio,
			currentDebt:       orZero(ss.CurrentDebt),
			minDebtPerHarvest: orZero(ss.MinDebtPerHarvest),
			maxDebtPerHarvest: orZero(ss.MaxDebtPerHarvest),
			performanceFee:    ss.PerformanceFee,
			activation:        ss.Activation,
			lastReport:        ss.LastReport,
			totalGain:         orZero(ss.TotalGain),
			totalLoss:         orZero(ss.TotalLoss),
			unreconciledLoss:  orZero(ss.UnreconciledLoss),
			emergencyExit:     ss.EmergencyExit,
		}
		v.handles[ss.ID] = h

		if ss.QueuePosition >= 0 {
			if h.unit == nil {
				return nil, fmt.Errorf("restore %s: no unit for queued strategy %s", s.ID.Hex(), ss.ID.Hex())
			}
			queued = append(queued, ss)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool { return queued[i].QueuePosition < queued[j].QueuePosition })
	for _, ss := range queued {
		v.queue = append(v.queue, ss.ID)
		v.debtRatio += ss.DebtRatio
	}

	if err := v.checkInvariants(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", s.ID.Hex(), err)
	}
	return v, nil
}

// CheckInvariants verifies the ledger's accounting identities
func (v *Vault) CheckInvariants() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checkInvariants()
}

func (v *Vault) checkInvariants() error {
	if len(v.queue) > types.MaxStrategies {
		return fmt.Errorf("%d queued strategies exceed the limit of %d", len(v.queue), types.MaxStrategies)
	}
	if v.debtRatio > types.MaxBPS {
		return fmt.Errorf("debt ratios sum to %d bps", v.debtRatio)
	}

	debt := zero()
	for _, h := range v.handles {
		if h.status == types.StrategyMigrated || h.status == types.StrategyRemoved {
			if !h.currentDebt.IsZero() {
				return fmt.Errorf("retired strategy %s still owes %s", h.id.Hex(), h.currentDebt.Dec())
			}
			continue
		}
		debt.Add(debt, h.currentDebt)
	}
	if !debt.Eq(v.totalDebt) {
		return fmt.Errorf("strategy debts sum to %s, total debt is %s", debt.Dec(), v.totalDebt.Dec())
	}

	shares := zero()
	for _, bal := range v.balances {
		shares.Add(shares, bal)
	}
	if !shares.Eq(v.totalShares) {
		return fmt.Errorf("share balances sum to %s, total shares is %s", shares.Dec(), v.totalShares.Dec())
	}
	return nil
}
