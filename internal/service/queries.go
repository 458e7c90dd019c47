package service

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/storage"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// AccountView is one account's position in a vault
type AccountView struct {
	Vault   string `json:"vault"`
	Account string `json:"account"`
	Shares  string `json:"shares"`
	// Value is the shares priced at the current price per share
	Value string `json:"value"`
	// AssetBalance is the account's unallocated asset balance
	AssetBalance string `json:"assetBalance"`
}

// AllocationView is a strategy's pending debt movement
type AllocationView struct {
	StrategyID string `json:"strategyId"`
	Credit     string `json:"credit"`
	Debit      string `json:"debit"`
}

// Summary returns the vault's totals. The published copy is served when it is
// fresh enough; the live ledger is read otherwise.
func (vs *VaultService) Summary(ctx context.Context, vaultID common.Address) (types.VaultSummary, error) {
	if vs.cache != nil {
		start := time.Now()
		if s, ok, err := vs.cache.Get(ctx, vaultID.Hex()); err == nil && ok {
			vs.monitor.RecordCached("summary", time.Since(start))
			return *s, nil
		} else if err != nil {
			vs.logger.WithVault(vaultID).WithError(err).Debug("Summary cache unavailable")
		}
	}

	v, err := vs.Vault(vaultID)
	if err != nil {
		return types.VaultSummary{}, err
	}
	start := time.Now()
	s := v.Summary()
	vs.monitor.Record("summary", time.Since(start), nil)

	if vs.cache != nil {
		if err := vs.cache.Put(ctx, s); err != nil {
			vs.logger.WithVault(vaultID).WithError(err).Debug("Failed to publish summary")
		}
	}
	return s, nil
}

// Account returns an account's shares and their value
func (vs *VaultService) Account(vaultID, account common.Address) (*AccountView, error) {
	v, err := vs.Vault(vaultID)
	if err != nil {
		return nil, err
	}

	shares := v.BalanceOf(account)
	value, err := v.ShareValue(shares)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		Vault:        vaultID.Hex(),
		Account:      account.Hex(),
		Shares:       shares.Dec(),
		Value:        value.Dec(),
		AssetBalance: vs.book.BalanceOf(account).Dec(),
	}, nil
}

// StrategyInfo returns a strategy's handle
func (vs *VaultService) StrategyInfo(vaultID, strategyID common.Address) (types.StrategySummary, error) {
	v, err := vs.Vault(vaultID)
	if err != nil {
		return types.StrategySummary{}, err
	}
	st, err := v.StrategyInfo(strategyID)
	if err != nil {
		return types.StrategySummary{}, err
	}
	return st.Summary(), nil
}

// Allocation returns the pending credit or debit of every queued strategy
func (vs *VaultService) Allocation(vaultID common.Address) ([]AllocationView, error) {
	v, err := vs.Vault(vaultID)
	if err != nil {
		return nil, err
	}
	plan := v.AllocationPlan()
	out := make([]AllocationView, 0, len(plan))
	for _, a := range plan {
		out = append(out, AllocationView{
			StrategyID: a.StrategyID.Hex(),
			Credit:     a.Credit.Dec(),
			Debit:      a.Debit.Dec(),
		})
	}
	return out, nil
}

// Queue returns the vault's withdrawal queue
func (vs *VaultService) Queue(vaultID common.Address) ([]common.Address, error) {
	v, err := vs.Vault(vaultID)
	if err != nil {
		return nil, err
	}
	return v.WithdrawalQueue(), nil
}

// Reports returns recent harvest reports, newest first
func (vs *VaultService) Reports(ctx context.Context, vaultID common.Address, strategyID *common.Address, limit int) ([]*models.HarvestReport, error) {
	if _, err := vs.Vault(vaultID); err != nil {
		return nil, err
	}
	f := storage.ReportFilter{VaultID: vaultID.Hex(), Limit: limit}
	if strategyID != nil {
		f.StrategyID = strategyID.Hex()
	}
	return vs.reports.List(ctx, f)
}

// WithdrawView renders a withdrawal result
type WithdrawView struct {
	SharesBurned string        `json:"sharesBurned"`
	AmountPaid   string        `json:"amountPaid"`
	Loss         string        `json:"loss"`
	Warnings     []WarningView `json:"warnings,omitempty"`
}

// WarningView is one strategy touched by a withdrawal
type WarningView struct {
	StrategyID string `json:"strategyId"`
	Requested  string `json:"requested"`
	Returned   string `json:"returned"`
	Loss       string `json:"loss"`
	Error      string `json:"error,omitempty"`
}

// NewWithdrawView renders r; nil amounts render as zero
func NewWithdrawView(r *vault.WithdrawResult) *WithdrawView {
	if r == nil {
		return nil
	}
	out := &WithdrawView{
		SharesBurned: decOrZero(r.SharesBurned),
		AmountPaid:   decOrZero(r.AmountPaid),
		Loss:         decOrZero(r.Loss),
	}
	for _, w := range r.Warnings {
		wv := WarningView{
			StrategyID: w.StrategyID.Hex(),
			Requested:  decOrZero(w.Requested),
			Returned:   decOrZero(w.Returned),
			Loss:       decOrZero(w.Loss),
		}
		if w.Err != nil {
			wv.Error = w.Err.Error()
		}
		out.Warnings = append(out.Warnings, wv)
	}
	return out
}

func decOrZero(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// BackendHealth checks every registered backend, each within two seconds. Values are
// "ok" or the failure message.
func (vs *VaultService) BackendHealth(ctx context.Context) map[string]string {
	out := make(map[string]string, len(vs.backends))
	for name, c := range vs.backends {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Health(cctx)
		cancel()
		if err != nil {
			vs.logger.WithField("backend", name).WithError(err).Warn("Backend unhealthy")
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	return out
}
