package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/types"
)

// HarvestReport is the immutable record of one harvest
type HarvestReport struct {
	ID         uuid.UUID
	VaultID    common.Address
	StrategyID common.Address
	// Gain is the profit recognized into total assets
	Gain *uint256.Int
	// Loss is the loss written off the strategy's debt
	Loss       *uint256.Int
	DebtRepaid *uint256.Int
	DebtAdded  *uint256.Int
	// TotalDebtAfter is the strategy's debt once the harvest settled
	TotalDebtAfter *uint256.Int
	// RepaymentShortfall is what the strategy was asked for but did not return
	RepaymentShortfall *uint256.Int
	Fees               *uint256.Int
	FeeShares          *uint256.Int
	// InconsistentLoss is reported loss beyond the strategy's debt
	InconsistentLoss *uint256.Int
	Emergency        bool
	Timestamp        time.Time
}

func (v *Vault) newReport(h *handle, now time.Time) *HarvestReport {
	return &HarvestReport{
		ID:                 uuid.New(),
		VaultID:            v.id,
		StrategyID:         h.id,
		Gain:               zero(),
		Loss:               zero(),
		DebtRepaid:         zero(),
		DebtAdded:          zero(),
		TotalDebtAfter:     zero(),
		RepaymentShortfall: zero(),
		Fees:               zero(),
		FeeShares:          zero(),
		InconsistentLoss:   zero(),
		Timestamp:          now,
	}
}

// Harvest reconciles a strategy's gain or loss into the ledger and moves its debt
// toward its target in a single call into the unit.
//
// A second harvest of the same strategy while one is running fails with StrategyBusy.
// If the unit fails or times out, nothing in the ledger changes.
func (v *Vault) Harvest(ctx context.Context, id common.Address) (*HarvestReport, error) {
	if err := v.acquire(id); err != nil {
		return nil, err
	}
	defer v.release(id)

	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.queuedHandle(id)
	if err != nil {
		return nil, err
	}
	logger := v.logger.WithStrategy(id)

	if h.emergencyExit {
		return v.harvestEmergency(ctx, h, logger)
	}

	debt := h.currentDebt.Clone()
	var gl GainLoss
	err = v.callUnit(ctx, id, "report", func(ctx context.Context) error {
		var err error
		gl, err = h.unit.ReportGainLoss(ctx, debt)
		return err
	})
	if err != nil {
		logger.WithError(err).Warn("Harvest aborted during report")
		return nil, err
	}

	gain, loss, free := orZero(gl.Gain), orZero(gl.Loss), orZero(gl.Free)
	if !gain.IsZero() && !loss.IsZero() {
		// a unit reporting both is netted
		if gain.Gt(loss) {
			gain.Sub(gain, loss)
			loss.Clear()
		} else {
			loss.Sub(loss, gain)
			gain.Clear()
		}
	}

	realized := minOf(loss, debt)
	if excess := subFloor(loss, debt); !excess.IsZero() {
		return v.commitInconsistentLoss(h, realized, excess, logger)
	}
	debtAfterLoss := new(uint256.Int).Sub(debt, realized)

	gainReq := minOf(gain, free)
	lv := v.view()
	lv.totalDebt.Sub(lv.totalDebt, realized)
	lv.idle = addSat(lv.idle, gainReq)
	adj := adjustment(lv, h, debtAfterLoss)

	// The gain and the debt movement are netted: a credit at least as large as the
	// gain is served by leaving the gain in the unit and topping it up; otherwise the
	// unit returns the gain not kept as new debt, plus any debit.
	retained := minOf(adj.Credit, gainReq)
	send, request := zero(), zero()
	if !adj.Credit.IsZero() && !adj.Credit.Lt(gainReq) {
		send.Sub(adj.Credit, gainReq)
	} else {
		request.Sub(gainReq, retained)
		request = addSat(request, adj.Debit)
	}

	returned := zero()
	switch {
	case !send.IsZero():
		if err := v.invest(ctx, h, send, logger); err != nil {
			return nil, err
		}
	case !request.IsZero():
		got, err := v.divest(ctx, h, request)
		if err != nil {
			logger.WithError(err).Warn("Harvest aborted during divest")
			return nil, err
		}
		returned = got
	}

	gainPaid := minOf(returned, new(uint256.Int).Sub(gainReq, retained))
	debtRepaid := new(uint256.Int).Sub(returned, gainPaid)
	recognized := new(uint256.Int).Add(retained, gainPaid)
	now := v.clock.Now()

	// loss, then gain, then fees at the post-gain price, then the debt movement
	h.currentDebt.Sub(h.currentDebt, realized)
	v.totalDebt.Sub(v.totalDebt, realized)
	h.totalLoss.Add(h.totalLoss, realized)

	h.currentDebt.Add(h.currentDebt, retained)
	v.totalDebt.Add(v.totalDebt, retained)
	v.idle.Add(v.idle, gainPaid)
	h.totalGain.Add(h.totalGain, recognized)

	fees, feeShares := v.chargeFees(h, recognized)

	h.currentDebt.Add(h.currentDebt, send)
	v.totalDebt.Add(v.totalDebt, send)
	v.idle.Sub(v.idle, send)
	h.currentDebt.Sub(h.currentDebt, debtRepaid)
	v.totalDebt.Sub(v.totalDebt, debtRepaid)
	v.idle.Add(v.idle, debtRepaid)
	h.lastReport = now

	report := v.newReport(h, now)
	report.Gain = recognized
	report.Loss = realized
	report.DebtAdded = new(uint256.Int).Add(retained, send)
	report.DebtRepaid = debtRepaid
	report.TotalDebtAfter = h.currentDebt.Clone()
	report.RepaymentShortfall = subFloor(request, returned)
	report.Fees = fees
	report.FeeShares = feeShares

	logReport(logger, report)
	return report, nil
}

// commitInconsistentLoss writes off the whole debt, records the excess and stops
func (v *Vault) commitInconsistentLoss(h *handle, realized, excess *uint256.Int, logger *logging.Logger) (*HarvestReport, error) {
	now := v.clock.Now()
	h.currentDebt.Sub(h.currentDebt, realized)
	v.totalDebt.Sub(v.totalDebt, realized)
	h.totalLoss.Add(h.totalLoss, realized)
	h.unreconciledLoss.Add(h.unreconciledLoss, excess)
	h.lastReport = now

	report := v.newReport(h, now)
	report.Loss = realized
	report.InconsistentLoss = excess
	report.TotalDebtAfter = h.currentDebt.Clone()

	logger.WithFields(map[string]interface{}{
		"loss":             realized.Dec(),
		"inconsistentLoss": excess.Dec(),
	}).Error("Strategy reported loss above its debt")

	reported := new(uint256.Int).Add(realized, excess)
	return report, apperrors.NewInconsistentLossError(h.id.Hex(), reported.Dec(), realized.Dec())
}

// harvestEmergency pulls everything back; debt not covered by the returned value is
// written off and anything above it counts as gain without fees.
func (v *Vault) harvestEmergency(ctx context.Context, h *handle, logger *logging.Logger) (*HarvestReport, error) {
	var got *uint256.Int
	err := v.callUnit(ctx, h.id, "emergency divest", func(ctx context.Context) error {
		var err error
		got, err = h.unit.EmergencyDivestAll(ctx)
		return err
	})
	if err != nil {
		logger.WithError(err).Warn("Emergency harvest aborted")
		return nil, err
	}
	returned := orZero(got)
	if !returned.IsZero() {
		if err := v.transfer.MoveValue(ctx, h.id, v.id, returned); err != nil {
			return nil, apperrors.NewStrategyUnresponsiveError(h.id.Hex(), "emergency divest transfer", err)
		}
	}

	debt := h.currentDebt.Clone()
	loss := subFloor(debt, returned)
	gain := subFloor(returned, debt)
	now := v.clock.Now()

	v.idle.Add(v.idle, returned)
	v.totalDebt.Sub(v.totalDebt, debt)
	h.currentDebt.Clear()
	h.totalLoss.Add(h.totalLoss, loss)
	h.totalGain.Add(h.totalGain, gain)
	h.lastReport = now
	if h.status == types.StrategyActive {
		v.debtRatio -= h.debtRatio
		h.debtRatio = 0
		h.status = types.StrategyRevoked
	}

	report := v.newReport(h, now)
	report.Gain = gain
	report.Loss = loss
	report.DebtRepaid = minOf(returned, debt)
	report.Emergency = true

	logReport(logger, report)
	return report, nil
}

// invest moves amount to the unit and asks it to deploy it, undoing the move on failure
func (v *Vault) invest(ctx context.Context, h *handle, amount *uint256.Int, logger *logging.Logger) error {
	if err := v.transfer.MoveValue(ctx, v.id, h.id, amount); err != nil {
		return apperrors.NewInternalError("move credit to strategy", err)
	}
	err := v.callUnit(ctx, h.id, "invest", func(ctx context.Context) error {
		return h.unit.Invest(ctx, amount)
	})
	if err == nil {
		return nil
	}

	if cerr := v.transfer.MoveValue(context.WithoutCancel(ctx), h.id, v.id, amount); cerr != nil {
		logger.WithError(cerr).WithField("amount", amount.Dec()).Error("Failed to recover credit after invest failure")
		return apperrors.NewInternalError(fmt.Sprintf("recover %s from strategy %s", amount.Dec(), h.id.Hex()), cerr)
	}
	logger.WithError(err).Warn("Harvest aborted during invest")
	return err
}

// divest asks the unit to free up to amount and moves what it freed back.
// The returned value never exceeds amount.
func (v *Vault) divest(ctx context.Context, h *handle, amount *uint256.Int) (*uint256.Int, error) {
	var got *uint256.Int
	err := v.callUnit(ctx, h.id, "divest", func(ctx context.Context) error {
		var err error
		got, err = h.unit.Divest(ctx, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	returned := minOf(orZero(got), amount)
	if returned.IsZero() {
		return returned, nil
	}
	if err := v.transfer.MoveValue(ctx, h.id, v.id, returned); err != nil {
		return nil, apperrors.NewStrategyUnresponsiveError(h.id.Hex(), "divest transfer", err)
	}
	return returned, nil
}

// chargeFees mints fee shares for a recognized gain. Total assets must already
// include the gain.
func (v *Vault) chargeFees(h *handle, gain *uint256.Int) (fees, feeShares *uint256.Int) {
	if gain.IsZero() {
		return zero(), zero()
	}
	strategistFee := portion(gain, h.performanceFee)
	vaultFee := minOf(portion(gain, v.managementFee+v.performanceFee), new(uint256.Int).Sub(gain, strategistFee))
	fees = new(uint256.Int).Add(strategistFee, vaultFee)
	if fees.IsZero() {
		return zero(), zero()
	}

	if v.totalShares.IsZero() {
		feeShares = fees.Clone()
	} else {
		var ok bool
		feeShares, ok = mulDiv(fees, v.totalShares, v.totalAssets())
		if !ok {
			feeShares = zero()
		}
	}

	strategistShares, ok := mulDiv(feeShares, strategistFee, fees)
	if !ok {
		strategistShares = zero()
	}
	vaultShares := new(uint256.Int).Sub(feeShares, strategistShares)
	v.mint(h.id, strategistShares)
	v.mint(v.feeRecipient, vaultShares)
	return fees, feeShares
}

func logReport(logger *logging.Logger, r *HarvestReport) {
	logger.WithFields(map[string]interface{}{
		"report":             r.ID.String(),
		"gain":               r.Gain.Dec(),
		"loss":               r.Loss.Dec(),
		"debtAdded":          r.DebtAdded.Dec(),
		"debtRepaid":         r.DebtRepaid.Dec(),
		"totalDebtAfter":     r.TotalDebtAfter.Dec(),
		"repaymentShortfall": r.RepaymentShortfall.Dec(),
		"fees":               r.Fees.Dec(),
		"emergency":          r.Emergency,
	}).Info("Strategy harvested")
}
