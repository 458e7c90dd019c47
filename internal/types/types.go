// Package types provides common type definitions for the yield vault system.
package types

import "time"

// Basis-point and capacity limits shared by the ledger, the API and the config loader.
const (
	// MaxBPS is 100% expressed in basis points
	MaxBPS uint64 = 10_000
	// MaxStrategies is the maximum number of active strategy handles per vault
	MaxStrategies = 20
	// DefaultMaxLossBPS is the loss tolerance used by withdraw-all (0.01%)
	DefaultMaxLossBPS uint64 = 1
	// SecondsPerYear is used to annualize reported yields
	SecondsPerYear = 31_556_952
)

// StrategyStatus represents the lifecycle state of a strategy handle
type StrategyStatus string

const (
	// StrategyActive represents a handle that can borrow and is harvested normally
	StrategyActive StrategyStatus = "active"
	// StrategyRevoked represents a handle whose debt ratio was forced to zero
	StrategyRevoked StrategyStatus = "revoked"
	// StrategyMigrated represents a handle whose position moved to a replacement
	StrategyMigrated StrategyStatus = "migrated"
	// StrategyRemoved represents a fully unwound handle dropped from the withdrawal queue
	StrategyRemoved StrategyStatus = "removed"
)

// IsValid reports whether the status is one of the known lifecycle states
func (s StrategyStatus) IsValid() bool {
	switch s {
	case StrategyActive, StrategyRevoked, StrategyMigrated, StrategyRemoved:
		return true
	default:
		return false
	}
}

// StrategyKind selects the strategy unit implementation built from configuration
type StrategyKind string

const (
	// KindSimulated is an in-process strategy unit
	KindSimulated StrategyKind = "simulated"
	// KindRemote is a strategy unit reached over HTTP
	KindRemote StrategyKind = "remote"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// VaultSummary is the externally visible state of a vault
type VaultSummary struct {
	ID                string   `json:"id"`
	Decimals          uint8    `json:"decimals"`
	TotalAssets       string   `json:"totalAssets"`
	IdleBalance       string   `json:"idleBalance"`
	TotalDebt         string   `json:"totalDebt"`
	TotalShares       string   `json:"totalShares"`
	PricePerShare     string   `json:"pricePerShare"`
	DepositLimit      string   `json:"depositLimit"`
	DebtRatio         uint64   `json:"debtRatio"`
	ManagementFee     uint64   `json:"managementFee"`
	PerformanceFee    uint64   `json:"performanceFee"`
	FeeRecipient      string   `json:"feeRecipient"`
	EmergencyShutdown bool     `json:"emergencyShutdown"`
	WithdrawalQueue   []string `json:"withdrawalQueue"`
}

// StrategySummary is the externally visible state of a strategy handle
type StrategySummary struct {
	ID                string         `json:"id"`
	Status            StrategyStatus `json:"status"`
	DebtRatio         uint64         `json:"debtRatio"`
	CurrentDebt       string         `json:"currentDebt"`
	MinDebtPerHarvest string         `json:"minDebtPerHarvest"`
	MaxDebtPerHarvest string         `json:"maxDebtPerHarvest"`
	PerformanceFee    uint64         `json:"performanceFee"`
	TotalGain         string         `json:"totalGain"`
	TotalLoss         string         `json:"totalLoss"`
	UnreconciledLoss  string         `json:"unreconciledLoss"`
	EmergencyExit     bool           `json:"emergencyExit"`
	Activation        time.Time      `json:"activation"`
	LastReport        time.Time      `json:"lastReport"`
}
