package models

import (
	"time"

	"github.com/yield-vault/internal/vault"
)

// HarvestReport is the stored, append-only record of one harvest
type HarvestReport struct {
	ID                 string    `json:"id" ch:"id"`
	VaultID            string    `json:"vaultId" ch:"vault_id"`
	StrategyID         string    `json:"strategyId" ch:"strategy_id"`
	Gain               string    `json:"gain" ch:"gain"`
	Loss               string    `json:"loss" ch:"loss"`
	DebtRepaid         string    `json:"debtRepaid" ch:"debt_repaid"`
	DebtAdded          string    `json:"debtAdded" ch:"debt_added"`
	TotalDebtAfter     string    `json:"totalDebtAfter" ch:"total_debt_after"`
	RepaymentShortfall string    `json:"repaymentShortfall" ch:"repayment_shortfall"`
	Fees               string    `json:"fees" ch:"fees"`
	FeeShares          string    `json:"feeShares" ch:"fee_shares"`
	InconsistentLoss   string    `json:"inconsistentLoss" ch:"inconsistent_loss"`
	Emergency          bool      `json:"emergency" ch:"emergency"`
	Timestamp          time.Time `json:"timestamp" ch:"timestamp"`
}

// NewHarvestReport renders a ledger report for storage and transport
func NewHarvestReport(r *vault.HarvestReport) *HarvestReport {
	return &HarvestReport{
		ID:                 r.ID.String(),
		VaultID:            r.VaultID.Hex(),
		StrategyID:         r.StrategyID.Hex(),
		Gain:               dec(r.Gain),
		Loss:               dec(r.Loss),
		DebtRepaid:         dec(r.DebtRepaid),
		DebtAdded:          dec(r.DebtAdded),
		TotalDebtAfter:     dec(r.TotalDebtAfter),
		RepaymentShortfall: dec(r.RepaymentShortfall),
		Fees:               dec(r.Fees),
		FeeShares:          dec(r.FeeShares),
		InconsistentLoss:   dec(r.InconsistentLoss),
		Emergency:          r.Emergency,
		Timestamp:          r.Timestamp,
	}
}
