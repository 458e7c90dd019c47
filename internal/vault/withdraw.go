package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/types"
)

// StrategyWarning records what a withdrawal did to one strategy
type StrategyWarning struct {
	StrategyID common.Address
	Requested  *uint256.Int
	Returned   *uint256.Int
	Loss       *uint256.Int
	// Err is set when the unit could not be divested and was skipped
	Err error
}

// WithdrawResult describes a settled, or aborted, withdrawal
type WithdrawResult struct {
	SharesBurned *uint256.Int
	AmountPaid   *uint256.Int
	// Loss is the realized loss charged to the withdrawer
	Loss *uint256.Int
	// Warnings lists every strategy the queue walk touched
	Warnings []StrategyWarning
}

// Withdraw burns shares owned by owner and pays their value to recipient.
//
// When idle funds do not cover the payout, strategies are divested in queue order.
// Value a strategy fails to return is realized as loss and charged to this withdrawal.
// If that loss exceeds maxLossBPS of the amount owed the withdrawal fails with
// SlippageExceeded; the strategies' losses and repayments stay committed and are
// listed in the returned result.
func (v *Vault) Withdraw(ctx context.Context, owner common.Address, shares *uint256.Int, recipient common.Address, maxLossBPS uint64) (*WithdrawResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.withdraw(ctx, owner, shares, recipient, maxLossBPS)
}

// WithdrawAll redeems every share owner holds with the default loss tolerance
func (v *Vault) WithdrawAll(ctx context.Context, owner common.Address) (*WithdrawResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.withdraw(ctx, owner, orZero(v.balances[owner]), owner, types.DefaultMaxLossBPS)
}

func (v *Vault) withdraw(ctx context.Context, owner common.Address, shares *uint256.Int, recipient common.Address, maxLossBPS uint64) (*WithdrawResult, error) {
	if shares == nil || shares.IsZero() {
		return nil, apperrors.NewInvalidAmountError("shares", "must be positive")
	}
	if maxLossBPS > types.MaxBPS {
		return nil, apperrors.NewInvalidAmountError("maxLossBps", "above 10000")
	}
	if bal := orZero(v.balances[owner]); shares.Gt(bal) {
		return nil, apperrors.NewInvalidAmountError("shares", fmt.Sprintf("owner holds %s", bal.Dec()))
	}

	assetsBefore := v.totalAssets()
	owedOriginal, ok := mulDiv(shares, assetsBefore, v.totalShares)
	if !ok || owedOriginal.IsZero() {
		return nil, apperrors.NewInvalidAmountError("shares", "redeem for nothing")
	}

	logger := v.logger.WithField(logging.FieldAccount, owner.Hex())
	owed := owedOriginal.Clone()
	totalLoss := zero()
	result := &WithdrawResult{SharesBurned: zero(), AmountPaid: zero(), Loss: totalLoss}

	for _, id := range v.queue {
		if !owed.Gt(v.idle) {
			break
		}
		h := v.handles[id]
		if h.currentDebt.IsZero() {
			continue
		}

		request := minOf(new(uint256.Int).Sub(owed, v.idle), h.currentDebt)
		warning := StrategyWarning{StrategyID: id, Requested: request.Clone(), Returned: zero(), Loss: zero()}

		returned, err := v.divest(ctx, h, request)
		if err != nil {
			warning.Err = err
			result.Warnings = append(result.Warnings, warning)
			logger.WithStrategy(id).WithError(err).Warn("Skipping unresponsive strategy during withdrawal")
			continue
		}

		loss := new(uint256.Int).Sub(request, returned)
		if !loss.IsZero() {
			h.currentDebt.Sub(h.currentDebt, loss)
			h.totalLoss.Add(h.totalLoss, loss)
			v.totalDebt.Sub(v.totalDebt, loss)
			owed = subFloor(owed, loss)
			totalLoss.Add(totalLoss, loss)
		}
		h.currentDebt.Sub(h.currentDebt, returned)
		v.totalDebt.Sub(v.totalDebt, returned)
		v.idle.Add(v.idle, returned)

		warning.Returned = returned.Clone()
		warning.Loss = loss
		result.Warnings = append(result.Warnings, warning)
	}

	// totalLoss / owedOriginal > maxLossBPS / MaxBPS
	lhs, lossOverflow := new(uint256.Int).MulOverflow(totalLoss, maxBPS)
	rhs, owedOverflow := new(uint256.Int).MulOverflow(owedOriginal, uint256.NewInt(maxLossBPS))
	if (lossOverflow && !owedOverflow) || (!lossOverflow && !owedOverflow && lhs.Gt(rhs)) {
		touched := make([]string, len(result.Warnings))
		for i, w := range result.Warnings {
			touched[i] = w.StrategyID.Hex()
		}
		logger.WithFields(map[string]interface{}{
			"realizedLoss":      totalLoss.Dec(),
			"amountOwed":        owedOriginal.Dec(),
			"maxLossBps":        maxLossBPS,
			"touchedStrategies": touched,
		}).Warn("Withdrawal aborted on slippage; strategy losses remain committed")
		return result, apperrors.NewSlippageExceededError(totalLoss.Dec(), owedOriginal.Dec(), maxLossBPS, touched)
	}

	burn := shares.Clone()
	if owed.Gt(v.idle) {
		// the queue could not free enough: pay what is idle, burn the matching shares
		owed = v.idle.Clone()
		partial, ok := mulDiv(new(uint256.Int).Add(owed, totalLoss), v.totalShares, assetsBefore)
		if ok && partial.Lt(burn) {
			burn = partial
		}
		logger.WithFields(map[string]interface{}{
			"requestedShares": shares.Dec(),
			"burnedShares":    burn.Dec(),
		}).Warn("Withdrawal capped at idle balance")
	}

	if !owed.IsZero() {
		if err := v.transfer.MoveValue(ctx, v.id, recipient, owed); err != nil {
			return result, fmt.Errorf("withdrawal transfer: %w", err)
		}
	}
	v.idle.Sub(v.idle, owed)
	v.burn(owner, burn)

	result.SharesBurned = burn
	result.AmountPaid = owed
	logger.WithFields(map[string]interface{}{
		"shares": burn.Dec(),
		"amount": owed.Dec(),
		"loss":   totalLoss.Dec(),
	}).Debug("Withdrawal settled")
	return result, nil
}
