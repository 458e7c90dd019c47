package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/yield-vault/internal/types"
)

// VaultFile is the YAML bootstrap document listing the vaults a process hosts.
//
//	vaults:
//	  - id: "0x00000000000000000000000000000000000000a1"
//	    decimals: 18
//	    depositLimit: "1000000000000000000000000"
//	    managementFee: 200
//	    performanceFee: 1000
//	    feeRecipient: "0x00000000000000000000000000000000000000fe"
//	    strategies:
//	      - id: "0x00000000000000000000000000000000000000b1"
//	        kind: simulated
//	        debtRatio: 5000
type VaultFile struct {
	Vaults []VaultSpec `yaml:"vaults"`
}

// VaultSpec describes one vault instance. Amounts are base-10 integer strings.
type VaultSpec struct {
	ID             string         `yaml:"id"`
	Decimals       uint8          `yaml:"decimals"`
	DepositLimit   string         `yaml:"depositLimit"`
	ManagementFee  uint64         `yaml:"managementFee"`
	PerformanceFee uint64         `yaml:"performanceFee"`
	FeeRecipient   string         `yaml:"feeRecipient"`
	Strategies     []StrategySpec `yaml:"strategies"`
}

// StrategySpec describes one strategy handle attached at bootstrap
type StrategySpec struct {
	ID                string             `yaml:"id"`
	Kind              types.StrategyKind `yaml:"kind"`
	Endpoint          string             `yaml:"endpoint,omitempty"`
	DebtRatio         uint64             `yaml:"debtRatio"`
	MinDebtPerHarvest string             `yaml:"minDebtPerHarvest,omitempty"`
	MaxDebtPerHarvest string             `yaml:"maxDebtPerHarvest,omitempty"`
	PerformanceFee    uint64             `yaml:"performanceFee"`
}

// LoadVaultFile reads and validates a vault bootstrap file
func LoadVaultFile(path string) (*VaultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}
	return ParseVaultFile(data)
}

// ParseVaultFile decodes and validates a vault bootstrap document
func ParseVaultFile(data []byte) (*VaultFile, error) {
	var vf VaultFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("decode vault file: %w", err)
	}
	if err := vf.Validate(); err != nil {
		return nil, err
	}
	return &vf, nil
}

// Validate checks identifiers, amounts and basis-point bounds
func (vf *VaultFile) Validate() error {
	seen := make(map[common.Address]bool, len(vf.Vaults))
	for i, v := range vf.Vaults {
		if !common.IsHexAddress(v.ID) {
			return fmt.Errorf("vaults[%d]: invalid id %q", i, v.ID)
		}
		id := common.HexToAddress(v.ID)
		if seen[id] {
			return fmt.Errorf("vaults[%d]: duplicate id %s", i, v.ID)
		}
		seen[id] = true

		if err := v.validate(); err != nil {
			return fmt.Errorf("vault %s: %w", v.ID, err)
		}
	}
	return nil
}

func (v VaultSpec) validate() error {
	if v.Decimals > 36 {
		return fmt.Errorf("decimals %d out of range", v.Decimals)
	}
	if _, err := ParseAmount(v.DepositLimit, nil); err != nil {
		return fmt.Errorf("depositLimit: %w", err)
	}
	if v.ManagementFee > types.MaxBPS || v.PerformanceFee > types.MaxBPS {
		return fmt.Errorf("fees must not exceed %d bps", types.MaxBPS)
	}
	if v.FeeRecipient != "" && !common.IsHexAddress(v.FeeRecipient) {
		return fmt.Errorf("invalid feeRecipient %q", v.FeeRecipient)
	}
	if len(v.Strategies) > types.MaxStrategies {
		return fmt.Errorf("%d strategies exceed the limit of %d", len(v.Strategies), types.MaxStrategies)
	}

	var ratioSum uint64
	ids := make(map[common.Address]bool, len(v.Strategies))
	for i, s := range v.Strategies {
		if !common.IsHexAddress(s.ID) {
			return fmt.Errorf("strategies[%d]: invalid id %q", i, s.ID)
		}
		id := common.HexToAddress(s.ID)
		if ids[id] {
			return fmt.Errorf("strategies[%d]: duplicate id %s", i, s.ID)
		}
		ids[id] = true

		switch s.Kind {
		case types.KindSimulated:
		case types.KindRemote:
			if s.Endpoint == "" {
				return fmt.Errorf("strategy %s: remote strategies need an endpoint", s.ID)
			}
		default:
			return fmt.Errorf("strategy %s: unknown kind %q", s.ID, s.Kind)
		}

		minDebt, err := ParseAmount(s.MinDebtPerHarvest, new(uint256.Int))
		if err != nil {
			return fmt.Errorf("strategy %s minDebtPerHarvest: %w", s.ID, err)
		}
		maxDebt, err := ParseAmount(s.MaxDebtPerHarvest, nil)
		if err != nil {
			return fmt.Errorf("strategy %s maxDebtPerHarvest: %w", s.ID, err)
		}
		if minDebt.Gt(maxDebt) {
			return fmt.Errorf("strategy %s: minDebtPerHarvest above maxDebtPerHarvest", s.ID)
		}
		if s.PerformanceFee > types.MaxBPS {
			return fmt.Errorf("strategy %s: performanceFee above %d bps", s.ID, types.MaxBPS)
		}
		ratioSum += s.DebtRatio
	}
	if ratioSum > types.MaxBPS {
		return fmt.Errorf("debt ratios sum to %d bps, above %d", ratioSum, types.MaxBPS)
	}
	return nil
}

// ParseAmount parses a base-10 amount. An empty string yields def, or the maximum
// representable amount when def is nil.
func ParseAmount(s string, def *uint256.Int) (*uint256.Int, error) {
	if s == "" {
		if def == nil {
			return new(uint256.Int).SetAllOne(), nil
		}
		return new(uint256.Int).Set(def), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// Address returns the vault identifier
func (v VaultSpec) Address() common.Address { return common.HexToAddress(v.ID) }

// Address returns the strategy identifier
func (s StrategySpec) Address() common.Address { return common.HexToAddress(s.ID) }
