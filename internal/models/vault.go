package models

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// Vault is the persisted ledger header of one vault. Amounts are base-10 strings
// stored as NUMERIC(78,0).
type Vault struct {
	ID                string    `json:"id" db:"id"`
	Decimals          int16     `json:"decimals" db:"decimals"`
	IdleBalance       string    `json:"idleBalance" db:"idle_balance"`
	TotalDebt         string    `json:"totalDebt" db:"total_debt"`
	TotalShares       string    `json:"totalShares" db:"total_shares"`
	DepositLimit      string    `json:"depositLimit" db:"deposit_limit"`
	ManagementFee     int32     `json:"managementFee" db:"management_fee"`
	PerformanceFee    int32     `json:"performanceFee" db:"performance_fee"`
	FeeRecipient      string    `json:"feeRecipient" db:"fee_recipient"`
	EmergencyShutdown bool      `json:"emergencyShutdown" db:"emergency_shutdown"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// Strategy is the persisted form of one strategy handle
type Strategy struct {
	VaultID           string               `json:"vaultId" db:"vault_id"`
	StrategyID        string               `json:"strategyId" db:"strategy_id"`
	Status            types.StrategyStatus `json:"status" db:"status"`
	DebtRatio         int32                `json:"debtRatio" db:"debt_ratio"`
	CurrentDebt       string               `json:"currentDebt" db:"current_debt"`
	MinDebtPerHarvest string               `json:"minDebtPerHarvest" db:"min_debt_per_harvest"`
	MaxDebtPerHarvest string               `json:"maxDebtPerHarvest" db:"max_debt_per_harvest"`
	PerformanceFee    int32                `json:"performanceFee" db:"performance_fee"`
	Activation        time.Time            `json:"activation" db:"activation"`
	LastReport        time.Time            `json:"lastReport" db:"last_report"`
	TotalGain         string               `json:"totalGain" db:"total_gain"`
	TotalLoss         string               `json:"totalLoss" db:"total_loss"`
	UnreconciledLoss  string               `json:"unreconciledLoss" db:"unreconciled_loss"`
	EmergencyExit     bool                 `json:"emergencyExit" db:"emergency_exit"`
	// QueuePosition is -1 for migrated and removed strategies
	QueuePosition int32 `json:"queuePosition" db:"queue_position"`
	// Kind and Endpoint rebuild the unit on restart; empty kind defers to the bootstrap file
	Kind     types.StrategyKind `json:"kind,omitempty" db:"kind"`
	Endpoint string             `json:"endpoint,omitempty" db:"endpoint"`
}

// ShareBalance is one account's shares in a vault
type ShareBalance struct {
	VaultID string `json:"vaultId" db:"vault_id"`
	Account string `json:"account" db:"account"`
	Shares  string `json:"shares" db:"shares"`
}

// VaultState is everything persisted for one vault
type VaultState struct {
	Vault      Vault
	Strategies []Strategy
	Balances   []ShareBalance
}

// FromSnapshot flattens a ledger snapshot into rows
func FromSnapshot(s *vault.Snapshot, now time.Time) *VaultState {
	st := &VaultState{
		Vault: Vault{
			ID:                s.ID.Hex(),
			Decimals:          int16(s.Decimals),
			IdleBalance:       dec(s.Idle),
			TotalDebt:         dec(s.TotalDebt),
			TotalShares:       dec(s.TotalShares),
			DepositLimit:      dec(s.DepositLimit),
			ManagementFee:     int32(s.ManagementFee), // #nosec G115 - fees are bounded by MaxBPS
			PerformanceFee:    int32(s.PerformanceFee), // #nosec G115
			FeeRecipient:      s.FeeRecipient.Hex(),
			EmergencyShutdown: s.EmergencyShutdown,
			UpdatedAt:         now,
		},
	}

	for _, h := range s.Strategies {
		st.Strategies = append(st.Strategies, Strategy{
			VaultID:           st.Vault.ID,
			StrategyID:        h.ID.Hex(),
			Status:            h.Status,
			DebtRatio:         int32(h.DebtRatio), // #nosec G115
			CurrentDebt:       dec(h.CurrentDebt),
			MinDebtPerHarvest: dec(h.MinDebtPerHarvest),
			MaxDebtPerHarvest: dec(h.MaxDebtPerHarvest),
			PerformanceFee:    int32(h.PerformanceFee), // #nosec G115
			Activation:        h.Activation,
			LastReport:        h.LastReport,
			TotalGain:         dec(h.TotalGain),
			TotalLoss:         dec(h.TotalLoss),
			UnreconciledLoss:  dec(h.UnreconciledLoss),
			EmergencyExit:     h.EmergencyExit,
			QueuePosition:     int32(h.QueuePosition), // #nosec G115 - at most MaxStrategies
			Kind:              h.Kind,
			Endpoint:          h.Endpoint,
		})
	}

	for acct, shares := range s.Balances {
		st.Balances = append(st.Balances, ShareBalance{
			VaultID: st.Vault.ID,
			Account: acct.Hex(),
			Shares:  dec(shares),
		})
	}
	return st
}

// Snapshot rebuilds the ledger snapshot the rows were written from
func (st *VaultState) Snapshot() (*vault.Snapshot, error) {
	v := st.Vault
	s := &vault.Snapshot{
		ID:                common.HexToAddress(v.ID),
		Decimals:          uint8(v.Decimals), // #nosec G115 - validated on write
		ManagementFee:     uint64(v.ManagementFee),
		PerformanceFee:    uint64(v.PerformanceFee),
		FeeRecipient:      common.HexToAddress(v.FeeRecipient),
		EmergencyShutdown: v.EmergencyShutdown,
		Balances:          make(map[common.Address]*uint256.Int, len(st.Balances)),
	}

	var err error
	if s.Idle, err = parse("idle_balance", v.IdleBalance); err != nil {
		return nil, err
	}
	if s.TotalDebt, err = parse("total_debt", v.TotalDebt); err != nil {
		return nil, err
	}
	if s.TotalShares, err = parse("total_shares", v.TotalShares); err != nil {
		return nil, err
	}
	if s.DepositLimit, err = parse("deposit_limit", v.DepositLimit); err != nil {
		return nil, err
	}

	for _, row := range st.Strategies {
		h := vault.StrategySnapshot{
			ID:             common.HexToAddress(row.StrategyID),
			Status:         row.Status,
			DebtRatio:      uint64(row.DebtRatio),
			PerformanceFee: uint64(row.PerformanceFee),
			Activation:     row.Activation,
			LastReport:     row.LastReport,
			EmergencyExit:  row.EmergencyExit,
			QueuePosition:  int(row.QueuePosition),
			Kind:           row.Kind,
			Endpoint:       row.Endpoint,
		}
		fields := []struct {
			name string
			raw  string
			dst  **uint256.Int
		}{
			{"current_debt", row.CurrentDebt, &h.CurrentDebt},
			{"min_debt_per_harvest", row.MinDebtPerHarvest, &h.MinDebtPerHarvest},
			{"max_debt_per_harvest", row.MaxDebtPerHarvest, &h.MaxDebtPerHarvest},
			{"total_gain", row.TotalGain, &h.TotalGain},
			{"total_loss", row.TotalLoss, &h.TotalLoss},
			{"unreconciled_loss", row.UnreconciledLoss, &h.UnreconciledLoss},
		}
		for _, f := range fields {
			if *f.dst, err = parse(f.name, f.raw); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", row.StrategyID, err)
			}
		}
		s.Strategies = append(s.Strategies, h)
	}

	for _, b := range st.Balances {
		shares, err := parse("shares", b.Shares)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", b.Account, err)
		}
		s.Balances[common.HexToAddress(b.Account)] = shares
	}
	return s, nil
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func parse(field, raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
