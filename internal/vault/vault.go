// Package vault implements the allocation ledger of a pooled-capital yield vault.
//
// A Vault holds depositors' idle funds, lends them to strategy units according to
// per-strategy debt ratios, reconciles reported gains and losses into the share price,
// and settles withdrawals by pulling capital back from strategies in queue order.
//
// Amounts are unsigned 256-bit integers in the asset's smallest unit. All mutating
// operations on one Vault are serialized; separate Vaults share nothing.
package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/types"
)

// DefaultCallTimeout bounds each call into a strategy unit
const DefaultCallTimeout = 10 * time.Second

// MaxDecimals keeps 10^decimals comfortably inside 256 bits
const MaxDecimals = 36

// Params configure a new vault
type Params struct {
	ID       common.Address
	Decimals uint8
	// DepositLimit caps total assets after a deposit; nil means unbounded
	DepositLimit   *uint256.Int
	ManagementFee  uint64
	PerformanceFee uint64
	FeeRecipient   common.Address
}

// Option customizes a Vault
type Option func(*Vault)

// WithClock sets the clock used for activation and report timestamps
func WithClock(c Clock) Option {
	return func(v *Vault) { v.clock = c }
}

// WithLogger sets the vault's logger
func WithLogger(l *logging.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithCallTimeout bounds each call into a strategy unit
func WithCallTimeout(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.callTimeout = d
		}
	}
}

// Vault is the allocation ledger for one asset
type Vault struct {
	id          common.Address
	decimals    uint8
	transfer    ValueTransfer
	clock       Clock
	logger      *logging.Logger
	callTimeout time.Duration

	mu             sync.Mutex
	idle           *uint256.Int
	totalDebt      *uint256.Int
	totalShares    *uint256.Int
	balances       map[common.Address]*uint256.Int
	depositLimit   *uint256.Int
	managementFee  uint64
	performanceFee uint64
	feeRecipient   common.Address
	shutdown       bool
	debtRatio      uint64
	queue          []common.Address
	handles        map[common.Address]*handle

	// busyMu is taken before mu, never while holding it
	busyMu sync.Mutex
	busy   map[common.Address]bool
}

// New creates an empty vault
func New(p Params, transfer ValueTransfer, opts ...Option) (*Vault, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, fmt.Errorf("vault %s: value transfer is required", p.ID.Hex())
	}

	limit := p.DepositLimit
	if limit == nil {
		limit = new(uint256.Int).SetAllOne()
	}

	v := &Vault{
		id:             p.ID,
		decimals:       p.Decimals,
		transfer:       transfer,
		callTimeout:    DefaultCallTimeout,
		idle:           zero(),
		totalDebt:      zero(),
		totalShares:    zero(),
		balances:       make(map[common.Address]*uint256.Int),
		depositLimit:   new(uint256.Int).Set(limit),
		managementFee:  p.ManagementFee,
		performanceFee: p.PerformanceFee,
		feeRecipient:   p.FeeRecipient,
		handles:        make(map[common.Address]*handle),
		busy:           make(map[common.Address]bool),
	}
	v.applyOptions(opts)
	return v, nil
}

func (v *Vault) applyOptions(opts []Option) {
	for _, opt := range opts {
		opt(v)
	}
	if v.clock == nil {
		v.clock = SystemClock{}
	}
	if v.logger == nil {
		v.logger = logging.GetGlobalLogger()
	}
	v.logger = v.logger.WithComponent("vault").WithVault(v.id)
}

func validateParams(p Params) error {
	if p.Decimals > MaxDecimals {
		return apperrors.NewInvalidAmountError("decimals", fmt.Sprintf("must not exceed %d", MaxDecimals))
	}
	if p.ManagementFee > types.MaxBPS {
		return apperrors.NewInvalidAmountError("managementFee", "above 10000 bps")
	}
	if p.PerformanceFee > types.MaxBPS {
		return apperrors.NewInvalidAmountError("performanceFee", "above 10000 bps")
	}
	return nil
}

// ID returns the vault's account
func (v *Vault) ID() common.Address { return v.id }

// Decimals returns the asset's decimals
func (v *Vault) Decimals() uint8 { return v.decimals }

// Deposit moves amount from depositor into the vault and mints shares at the current price
func (v *Vault) Deposit(ctx context.Context, depositor common.Address, amount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return nil, apperrors.NewInvalidAmountError("amount", "must be positive")
	}
	if v.shutdown {
		return nil, apperrors.NewVaultShutDownError(v.id.Hex())
	}

	assets := v.totalAssets()
	after, overflow := new(uint256.Int).AddOverflow(assets, amount)
	if overflow {
		return nil, apperrors.NewInvalidAmountError("amount", "overflows total assets")
	}
	if after.Gt(v.depositLimit) {
		return nil, apperrors.NewDepositLimitExceededError(v.depositLimit.Dec(), after.Dec())
	}

	shares, err := v.sharesForAmount(amount, assets)
	if err != nil {
		return nil, err
	}

	if err := v.transfer.MoveValue(ctx, depositor, v.id, amount); err != nil {
		return nil, fmt.Errorf("deposit transfer: %w", err)
	}

	v.idle.Add(v.idle, amount)
	v.mint(depositor, shares)

	v.logger.WithFields(map[string]interface{}{
		logging.FieldAccount: depositor.Hex(),
		"amount":             amount.Dec(),
		"shares":             shares.Dec(),
	}).Debug("Deposit accepted")

	return shares.Clone(), nil
}

// sharesForAmount prices a deposit against assets, the total before the deposit
func (v *Vault) sharesForAmount(amount, assets *uint256.Int) (*uint256.Int, error) {
	if v.totalShares.IsZero() {
		return new(uint256.Int).Set(amount), nil
	}
	if assets.IsZero() {
		return nil, apperrors.NewInvalidAmountError("amount", "vault has shares but no assets")
	}
	shares, ok := mulDiv(amount, v.totalShares, assets)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("amount", "share computation overflows")
	}
	if shares.IsZero() {
		return nil, apperrors.NewInvalidAmountError("amount", "would mint zero shares")
	}
	return shares, nil
}

func (v *Vault) mint(to common.Address, shares *uint256.Int) {
	if shares.IsZero() {
		return
	}
	bal, ok := v.balances[to]
	if !ok {
		bal = zero()
		v.balances[to] = bal
	}
	bal.Add(bal, shares)
	v.totalShares.Add(v.totalShares, shares)
}

func (v *Vault) burn(from common.Address, shares *uint256.Int) {
	bal := v.balances[from]
	bal.Sub(bal, shares)
	if bal.IsZero() {
		delete(v.balances, from)
	}
	v.totalShares.Sub(v.totalShares, shares)
}

// AddStrategy registers unit at the end of the withdrawal queue
func (v *Vault) AddStrategy(ctx context.Context, unit Strategy, p StrategyParams) error {
	if unit == nil {
		return apperrors.NewInvalidAmountError("strategy", "unit is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	id := unit.ID()
	if v.shutdown {
		return apperrors.NewVaultShutDownError(v.id.Hex())
	}
	if _, exists := v.handles[id]; exists {
		return apperrors.NewStrategyAlreadyRegisteredError(id.Hex())
	}
	if len(v.queue) >= types.MaxStrategies {
		return apperrors.NewStrategyCapacityReachedError(types.MaxStrategies)
	}
	if p.PerformanceFee > types.MaxBPS {
		return apperrors.NewInvalidAmountError("performanceFee", "above 10000 bps")
	}
	if p.MinDebtPerHarvest != nil && p.MaxDebtPerHarvest != nil && p.MinDebtPerHarvest.Gt(p.MaxDebtPerHarvest) {
		return apperrors.NewInvalidAmountError("minDebtPerHarvest", "above maxDebtPerHarvest")
	}
	if total := v.debtRatio + p.DebtRatio; p.DebtRatio > types.MaxBPS || total > types.MaxBPS {
		return apperrors.NewDebtRatioExceedsCeilingError(p.DebtRatio, v.debtRatio+p.DebtRatio)
	}

	h := newHandle(unit, p, v.clock.Now())
	v.handles[id] = h
	v.queue = append(v.queue, id)
	v.debtRatio += p.DebtRatio

	v.logger.WithStrategy(id).WithField("debtRatio", p.DebtRatio).Info("Strategy added")
	return nil
}

// activeHandle returns a registered, active handle. Must be called with mu held.
func (v *Vault) activeHandle(id common.Address) (*handle, error) {
	h, ok := v.handles[id]
	if !ok {
		return nil, apperrors.NewUnknownStrategyError(id.Hex())
	}
	if h.status != types.StrategyActive {
		return nil, apperrors.NewStrategyNotActiveError(id.Hex(), h.status)
	}
	return h, nil
}

// queuedHandle returns a handle still in the withdrawal queue. Must be called with mu held.
func (v *Vault) queuedHandle(id common.Address) (*handle, error) {
	h, ok := v.handles[id]
	if !ok {
		return nil, apperrors.NewUnknownStrategyError(id.Hex())
	}
	if h.status == types.StrategyMigrated || h.status == types.StrategyRemoved {
		return nil, apperrors.NewStrategyNotActiveError(id.Hex(), h.status)
	}
	return h, nil
}

// UpdateStrategyDebtRatio changes how much of total assets a strategy may borrow
func (v *Vault) UpdateStrategyDebtRatio(id common.Address, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.activeHandle(id)
	if err != nil {
		return err
	}
	total := v.debtRatio - h.debtRatio + bps
	if bps > types.MaxBPS || total > types.MaxBPS {
		return apperrors.NewDebtRatioExceedsCeilingError(bps, total)
	}
	v.debtRatio = total
	h.debtRatio = bps

	v.logger.WithStrategy(id).WithField("debtRatio", bps).Info("Strategy debt ratio updated")
	return nil
}

// UpdateStrategyMinDebtPerHarvest sets the smallest credit worth lending in one harvest
func (v *Vault) UpdateStrategyMinDebtPerHarvest(id common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.activeHandle(id)
	if err != nil {
		return err
	}
	amount = orZero(amount)
	if amount.Gt(h.maxDebtPerHarvest) {
		return apperrors.NewInvalidAmountError("minDebtPerHarvest", "above maxDebtPerHarvest")
	}
	h.minDebtPerHarvest = amount
	return nil
}

// UpdateStrategyMaxDebtPerHarvest sets the largest credit lent in one harvest
func (v *Vault) UpdateStrategyMaxDebtPerHarvest(id common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.activeHandle(id)
	if err != nil {
		return err
	}
	amount = orZero(amount)
	if amount.Lt(h.minDebtPerHarvest) {
		return apperrors.NewInvalidAmountError("maxDebtPerHarvest", "below minDebtPerHarvest")
	}
	h.maxDebtPerHarvest = amount
	return nil
}

// UpdateStrategyPerformanceFee sets the strategist's cut of future gains
func (v *Vault) UpdateStrategyPerformanceFee(id common.Address, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.activeHandle(id)
	if err != nil {
		return err
	}
	if bps > types.MaxBPS {
		return apperrors.NewInvalidAmountError("performanceFee", "above 10000 bps")
	}
	h.performanceFee = bps
	return nil
}

// RevokeStrategy zeroes a strategy's debt ratio; its debt is repaid on the next harvest
func (v *Vault) RevokeStrategy(id common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.queuedHandle(id)
	if err != nil {
		return err
	}
	if h.status == types.StrategyRevoked {
		return nil
	}
	v.debtRatio -= h.debtRatio
	h.debtRatio = 0
	h.status = types.StrategyRevoked

	v.logger.WithStrategy(id).WithField("currentDebt", h.currentDebt.Dec()).Info("Strategy revoked")
	return nil
}

// SetEmergencyExit makes the next harvest of id divest everything
func (v *Vault) SetEmergencyExit(id common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.queuedHandle(id)
	if err != nil {
		return err
	}
	h.emergencyExit = true

	v.logger.WithStrategy(id).Warn("Strategy emergency exit set")
	return nil
}

// RemoveStrategy drops a fully repaid strategy from the withdrawal queue
func (v *Vault) RemoveStrategy(id common.Address) error {
	if err := v.acquire(id); err != nil {
		return err
	}
	defer v.release(id)

	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := v.queuedHandle(id)
	if err != nil {
		return err
	}
	if !h.currentDebt.IsZero() {
		return apperrors.NewStrategyHasDebtError(id.Hex(), h.currentDebt.Dec())
	}
	v.debtRatio -= h.debtRatio
	h.debtRatio = 0
	h.status = types.StrategyRemoved
	v.dequeue(id)

	v.logger.WithStrategy(id).Info("Strategy removed")
	return nil
}

func (v *Vault) dequeue(id common.Address) {
	for i, q := range v.queue {
		if q == id {
			v.queue = append(v.queue[:i], v.queue[i+1:]...)
			return
		}
	}
}

// SetDepositLimit caps total assets accepted through deposits; nil means unbounded
func (v *Vault) SetDepositLimit(limit *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if limit == nil {
		limit = new(uint256.Int).SetAllOne()
	}
	v.depositLimit = new(uint256.Int).Set(limit)
}

// SetManagementFee sets the vault's management cut of gains, in basis points
func (v *Vault) SetManagementFee(bps uint64) error {
	if bps > types.MaxBPS {
		return apperrors.NewInvalidAmountError("managementFee", "above 10000 bps")
	}
	v.mu.Lock()
	v.managementFee = bps
	v.mu.Unlock()
	return nil
}

// SetPerformanceFee sets the vault's performance cut of gains, in basis points
func (v *Vault) SetPerformanceFee(bps uint64) error {
	if bps > types.MaxBPS {
		return apperrors.NewInvalidAmountError("performanceFee", "above 10000 bps")
	}
	v.mu.Lock()
	v.performanceFee = bps
	v.mu.Unlock()
	return nil
}

// SetFeeRecipient sets the account vault fee shares are minted to
func (v *Vault) SetFeeRecipient(to common.Address) {
	v.mu.Lock()
	v.feeRecipient = to
	v.mu.Unlock()
}

// SetEmergencyShutdown toggles the vault-wide shutdown. While active, deposits are
// rejected and every harvest pulls the strategy's whole debt back.
func (v *Vault) SetEmergencyShutdown(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shutdown == active {
		return
	}
	v.shutdown = active
	v.logger.WithField("active", active).Warn("Emergency shutdown toggled")
}

func (v *Vault) totalAssets() *uint256.Int {
	return new(uint256.Int).Add(v.idle, v.totalDebt)
}

// pricePerShare must be called with mu held
func (v *Vault) pricePerShare() *uint256.Int {
	unit := pow10(v.decimals)
	if v.totalShares.IsZero() {
		return unit
	}
	price, ok := mulDiv(v.totalAssets(), unit, v.totalShares)
	if !ok {
		return new(uint256.Int).SetAllOne()
	}
	return price
}

// PricePerShare returns the value of one whole share in asset units
func (v *Vault) PricePerShare() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pricePerShare()
}

// ShareValue prices shares at the current share price, rounding down
func (v *Vault) ShareValue(shares *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares == nil || shares.IsZero() || v.totalShares.IsZero() {
		return zero(), nil
	}
	value, ok := mulDiv(shares, v.totalAssets(), v.totalShares)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("shares", "value overflows")
	}
	return value, nil
}

// TotalAssets returns idle balance plus total debt
func (v *Vault) TotalAssets() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets()
}

// TotalDebt returns the sum of every strategy's current debt
func (v *Vault) TotalDebt() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalDebt.Clone()
}

// IdleBalance returns the assets held by the vault itself
func (v *Vault) IdleBalance() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idle.Clone()
}

// TotalShares returns the shares outstanding, fee shares included
func (v *Vault) TotalShares() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares.Clone()
}

// BalanceOf returns the shares held by account
func (v *Vault) BalanceOf(account common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return orZero(v.balances[account])
}

// ShutDown reports whether the vault-wide emergency shutdown is active
func (v *Vault) ShutDown() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shutdown
}

// StrategyInfo returns a copy of a handle's bookkeeping, including retired handles
func (v *Vault) StrategyInfo(id common.Address) (StrategyState, error) {
	busy := v.isBusy(id)
	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.handles[id]
	if !ok {
		return StrategyState{}, apperrors.NewUnknownStrategyError(id.Hex())
	}
	return h.state(busy), nil
}

// WithdrawalQueue returns strategy ids in the order withdrawals pull from them
func (v *Vault) WithdrawalQueue() []common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]common.Address(nil), v.queue...)
}

// Summary renders the vault totals with decimal amounts
func (v *Vault) Summary() types.VaultSummary {
	v.mu.Lock()
	defer v.mu.Unlock()

	queue := make([]string, len(v.queue))
	for i, id := range v.queue {
		queue[i] = id.Hex()
	}
	return types.VaultSummary{
		ID:                v.id.Hex(),
		Decimals:          v.decimals,
		TotalAssets:       v.totalAssets().Dec(),
		IdleBalance:       v.idle.Dec(),
		TotalDebt:         v.totalDebt.Dec(),
		TotalShares:       v.totalShares.Dec(),
		PricePerShare:     v.pricePerShare().Dec(),
		DepositLimit:      v.depositLimit.Dec(),
		DebtRatio:         v.debtRatio,
		ManagementFee:     v.managementFee,
		PerformanceFee:    v.performanceFee,
		FeeRecipient:      v.feeRecipient.Hex(),
		EmergencyShutdown: v.shutdown,
		WithdrawalQueue:   queue,
	}
}

// acquire marks id busy or fails with StrategyBusy
func (v *Vault) acquire(id common.Address) error {
	v.busyMu.Lock()
	defer v.busyMu.Unlock()
	if v.busy[id] {
		return apperrors.NewStrategyBusyError(id.Hex())
	}
	v.busy[id] = true
	return nil
}

func (v *Vault) release(id common.Address) {
	v.busyMu.Lock()
	delete(v.busy, id)
	v.busyMu.Unlock()
}

func (v *Vault) isBusy(id common.Address) bool {
	v.busyMu.Lock()
	defer v.busyMu.Unlock()
	return v.busy[id]
}

// callUnit runs fn against a strategy unit under the call timeout.
// Any failure is reported as StrategyUnresponsive.
func (v *Vault) callUnit(ctx context.Context, id common.Address, call string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, v.callTimeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if cat := apperrors.Categorize(err); cat.Code == apperrors.CodeStrategyUnresponsive {
		return err
	}
	return apperrors.NewStrategyUnresponsiveError(id.Hex(), call, err)
}
