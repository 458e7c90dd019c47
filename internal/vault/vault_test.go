package vault_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yield-vault/internal/asset"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

var (
	vaultID      = common.HexToAddress("0x7a")
	alice        = common.HexToAddress("0xa1")
	bob          = common.HexToAddress("0xb0")
	feeRecipient = common.HexToAddress("0xfe")
	s1ID         = common.HexToAddress("0x51")
	s2ID         = common.HexToAddress("0x52")
	s3ID         = common.HexToAddress("0x53")
)

func amt(n uint64) *uint256.Int { return uint256.NewInt(n) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	t     *testing.T
	book  *asset.Book
	clock *fakeClock
	vault *vault.Vault
}

func setupTestVault(t *testing.T, opts ...vault.Option) *testEnv {
	t.Helper()
	book := asset.NewBook()
	require.NoError(t, book.Mint(alice, amt(1_000_000)))
	require.NoError(t, book.Mint(bob, amt(1_000_000)))

	clock := newFakeClock()
	opts = append([]vault.Option{vault.WithClock(clock), vault.WithLogger(logging.Discard())}, opts...)
	v, err := vault.New(vault.Params{ID: vaultID, Decimals: 6, FeeRecipient: feeRecipient}, book, opts...)
	require.NoError(t, err)
	return &testEnv{t: t, book: book, clock: clock, vault: v}
}

func (e *testEnv) deposit(from common.Address, n uint64) *uint256.Int {
	e.t.Helper()
	shares, err := e.vault.Deposit(context.Background(), from, amt(n))
	require.NoError(e.t, err)
	return shares
}

func (e *testEnv) addSimulated(id common.Address, p vault.StrategyParams) *strategy.Simulated {
	e.t.Helper()
	s := strategy.NewSimulated(id, e.book)
	require.NoError(e.t, e.vault.AddStrategy(context.Background(), s, p))
	return s
}

func (e *testEnv) harvest(id common.Address) *vault.HarvestReport {
	e.t.Helper()
	report, err := e.vault.Harvest(context.Background(), id)
	require.NoError(e.t, err)
	return report
}

func (e *testEnv) info(id common.Address) vault.StrategyState {
	e.t.Helper()
	st, err := e.vault.StrategyInfo(id)
	require.NoError(e.t, err)
	return st
}

// assertConserved checks the ledger against the asset book
func (e *testEnv) assertConserved() {
	e.t.Helper()
	require.NoError(e.t, e.vault.CheckInvariants())
	assert.Equal(e.t, e.vault.IdleBalance().Dec(), e.book.BalanceOf(vaultID).Dec(), "idle must match the vault's book balance")
}

func TestNew_Validation(t *testing.T) {
	book := asset.NewBook()

	_, err := vault.New(vault.Params{ID: vaultID, Decimals: 37}, book)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = vault.New(vault.Params{ID: vaultID, ManagementFee: types.MaxBPS + 1}, book)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = vault.New(vault.Params{ID: vaultID}, nil)
	assert.Error(t, err)
}

func TestDeposit(t *testing.T) {
	env := setupTestVault(t)

	assert.Equal(t, "1000000", env.vault.PricePerShare().Dec(), "empty vault prices one share at one unit")

	shares := env.deposit(alice, 1000)
	assert.Equal(t, uint64(1000), shares.Uint64())
	assert.Equal(t, uint64(1000), env.vault.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(999_000), env.book.BalanceOf(alice).Uint64())

	// price rises, later depositors get fewer shares
	s := env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 10_000})
	env.harvest(s1ID)
	require.NoError(t, s.Earn(amt(1000)))
	env.harvest(s1ID)
	assert.Equal(t, "2000000", env.vault.PricePerShare().Dec())

	shares = env.deposit(bob, 500)
	assert.Equal(t, uint64(250), shares.Uint64())
	env.assertConserved()
}

func TestDeposit_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		env := setupTestVault(t)
		_, err := env.vault.Deposit(ctx, alice, amt(0))
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})

	t.Run("deposit limit", func(t *testing.T) {
		env := setupTestVault(t)
		env.vault.SetDepositLimit(amt(1500))
		env.deposit(alice, 1000)

		_, err := env.vault.Deposit(ctx, alice, amt(501))
		assert.ErrorIs(t, err, apperrors.ErrDepositLimitExceeded)
		env.deposit(alice, 500)
	})

	t.Run("shut down", func(t *testing.T) {
		env := setupTestVault(t)
		env.vault.SetEmergencyShutdown(true)
		_, err := env.vault.Deposit(ctx, alice, amt(1))
		assert.ErrorIs(t, err, apperrors.ErrVaultShutDown)
	})

	t.Run("insufficient funds leaves no shares", func(t *testing.T) {
		env := setupTestVault(t)
		_, err := env.vault.Deposit(ctx, alice, amt(2_000_000))
		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		assert.True(t, env.vault.TotalShares().IsZero())
		assert.True(t, env.vault.IdleBalance().IsZero())
	})
}

func TestAddStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("registers at the end of the queue", func(t *testing.T) {
		env := setupTestVault(t)
		env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 4000})
		env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 6000})

		assert.Equal(t, []common.Address{s1ID, s2ID}, env.vault.WithdrawalQueue())
		assert.Equal(t, uint64(10_000), env.vault.Summary().DebtRatio)

		st := env.info(s1ID)
		assert.Equal(t, types.StrategyActive, st.Status)
		assert.Equal(t, env.clock.Now(), st.Activation)
		assert.Equal(t, new(uint256.Int).SetAllOne(), st.MaxDebtPerHarvest)
	})

	t.Run("ratio ceiling", func(t *testing.T) {
		env := setupTestVault(t)
		env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 6000})
		err := env.vault.AddStrategy(ctx, strategy.NewSimulated(s2ID, env.book), vault.StrategyParams{DebtRatio: 5000})
		assert.ErrorIs(t, err, apperrors.ErrDebtRatioExceedsCeiling)
		assert.Len(t, env.vault.WithdrawalQueue(), 1)
	})

	t.Run("already registered", func(t *testing.T) {
		env := setupTestVault(t)
		env.addSimulated(s1ID, vault.StrategyParams{})
		err := env.vault.AddStrategy(ctx, strategy.NewSimulated(s1ID, env.book), vault.StrategyParams{})
		assert.ErrorIs(t, err, apperrors.ErrStrategyAlreadyRegistered)
	})

	t.Run("capacity", func(t *testing.T) {
		env := setupTestVault(t)
		for i := 0; i < types.MaxStrategies; i++ {
			env.addSimulated(common.HexToAddress(fmt.Sprintf("0x%x", 0x1000+i)), vault.StrategyParams{})
		}
		err := env.vault.AddStrategy(ctx, strategy.NewSimulated(s1ID, env.book), vault.StrategyParams{})
		assert.ErrorIs(t, err, apperrors.ErrStrategyCapacityReached)
	})

	t.Run("min above max", func(t *testing.T) {
		env := setupTestVault(t)
		err := env.vault.AddStrategy(ctx, strategy.NewSimulated(s1ID, env.book), vault.StrategyParams{
			MinDebtPerHarvest: amt(10),
			MaxDebtPerHarvest: amt(5),
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})

	t.Run("shut down", func(t *testing.T) {
		env := setupTestVault(t)
		env.vault.SetEmergencyShutdown(true)
		err := env.vault.AddStrategy(ctx, strategy.NewSimulated(s1ID, env.book), vault.StrategyParams{})
		assert.ErrorIs(t, err, apperrors.ErrVaultShutDown)
	})
}

func TestUpdateStrategyTerms(t *testing.T) {
	env := setupTestVault(t)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 3000})

	require.NoError(t, env.vault.UpdateStrategyDebtRatio(s1ID, 7000))
	assert.ErrorIs(t, env.vault.UpdateStrategyDebtRatio(s1ID, 7001), apperrors.ErrDebtRatioExceedsCeiling)
	assert.Equal(t, uint64(10_000), env.vault.Summary().DebtRatio)

	require.NoError(t, env.vault.UpdateStrategyMaxDebtPerHarvest(s1ID, amt(100)))
	assert.ErrorIs(t, env.vault.UpdateStrategyMinDebtPerHarvest(s1ID, amt(101)), apperrors.ErrInvalidAmount)
	require.NoError(t, env.vault.UpdateStrategyMinDebtPerHarvest(s1ID, amt(10)))
	assert.ErrorIs(t, env.vault.UpdateStrategyMaxDebtPerHarvest(s1ID, amt(9)), apperrors.ErrInvalidAmount)

	require.NoError(t, env.vault.UpdateStrategyPerformanceFee(s1ID, 2000))
	assert.ErrorIs(t, env.vault.UpdateStrategyPerformanceFee(s1ID, 10_001), apperrors.ErrInvalidAmount)

	st := env.info(s1ID)
	assert.Equal(t, uint64(7000), st.DebtRatio)
	assert.Equal(t, uint64(10), st.MinDebtPerHarvest.Uint64())
	assert.Equal(t, uint64(100), st.MaxDebtPerHarvest.Uint64())
	assert.Equal(t, uint64(2000), st.PerformanceFee)

	assert.ErrorIs(t, env.vault.UpdateStrategyDebtRatio(s3ID, 1), apperrors.ErrUnknownStrategy)

	require.NoError(t, env.vault.RevokeStrategy(s2ID))
	assert.ErrorIs(t, env.vault.UpdateStrategyDebtRatio(s2ID, 1), apperrors.ErrStrategyNotActive)
}

func TestRevokeStrategy(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	env.harvest(s1ID)

	require.NoError(t, env.vault.RevokeStrategy(s1ID))
	require.NoError(t, env.vault.RevokeStrategy(s1ID), "revoking twice is a no-op")

	st := env.info(s1ID)
	assert.Equal(t, types.StrategyRevoked, st.Status)
	assert.Zero(t, st.DebtRatio)
	assert.Equal(t, uint64(500), st.CurrentDebt.Uint64(), "debt stays until the next harvest")
	assert.Zero(t, env.vault.Summary().DebtRatio)

	adj, err := env.vault.CreditOrDebitAvailable(s1ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), adj.Debit.Uint64())

	report := env.harvest(s1ID)
	assert.Equal(t, uint64(500), report.DebtRepaid.Uint64())
	assert.True(t, report.TotalDebtAfter.IsZero())
	env.assertConserved()
}

func TestRemoveStrategy(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 1000})
	env.harvest(s1ID)

	assert.ErrorIs(t, env.vault.RemoveStrategy(s1ID), apperrors.ErrStrategyHasDebt)

	require.NoError(t, env.vault.RemoveStrategy(s2ID))
	assert.Equal(t, []common.Address{s1ID}, env.vault.WithdrawalQueue())
	assert.Equal(t, uint64(5000), env.vault.Summary().DebtRatio)
	assert.Equal(t, types.StrategyRemoved, env.info(s2ID).Status)

	assert.ErrorIs(t, env.vault.RemoveStrategy(s2ID), apperrors.ErrStrategyNotActive)
	err := env.vault.AddStrategy(context.Background(), strategy.NewSimulated(s2ID, env.book), vault.StrategyParams{})
	assert.ErrorIs(t, err, apperrors.ErrStrategyAlreadyRegistered, "retired ids cannot be reused")
}

func TestCreditOrDebitAvailable(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 6000, MaxDebtPerHarvest: amt(250)})
	env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 4000})

	adj, err := env.vault.CreditOrDebitAvailable(s1ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), adj.Credit.Uint64(), "capped by max debt per harvest")
	assert.True(t, adj.Debit.IsZero())

	env.harvest(s1ID)
	require.NoError(t, env.vault.UpdateStrategyDebtRatio(s1ID, 1000))

	adj, err = env.vault.CreditOrDebitAvailable(s1ID)
	require.NoError(t, err)
	assert.True(t, adj.Credit.IsZero())
	assert.Equal(t, uint64(150), adj.Debit.Uint64())

	_, err = env.vault.CreditOrDebitAvailable(s3ID)
	assert.ErrorIs(t, err, apperrors.ErrUnknownStrategy)
}

func TestCreditOrDebitAvailable_MinDebt(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 4000, MinDebtPerHarvest: amt(500)})

	adj, err := env.vault.CreditOrDebitAvailable(s1ID)
	require.NoError(t, err)
	assert.True(t, adj.Credit.IsZero(), "credit below the minimum is not lent")
}

func TestAllocationPlan(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 6000, MaxDebtPerHarvest: amt(250)})
	env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 4000})

	plan := env.vault.AllocationPlan()
	require.Len(t, plan, 2)
	assert.Equal(t, s1ID, plan[0].StrategyID)
	assert.Equal(t, uint64(250), plan[0].Credit.Uint64())
	assert.Equal(t, s2ID, plan[1].StrategyID)
	assert.Equal(t, uint64(400), plan[1].Credit.Uint64())

	// planning changes nothing
	assert.True(t, env.vault.TotalDebt().IsZero())
	assert.Equal(t, uint64(1000), env.vault.IdleBalance().Uint64())
}

func TestEmergencyShutdown_UnwindsOnHarvest(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	s := env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	env.harvest(s1ID)

	env.vault.SetEmergencyShutdown(true)
	assert.True(t, env.vault.ShutDown())
	s.SetLocked(amt(200))

	report := env.harvest(s1ID)
	assert.Equal(t, uint64(300), report.DebtRepaid.Uint64())
	assert.Equal(t, uint64(200), report.RepaymentShortfall.Uint64())
	assert.Equal(t, uint64(200), report.TotalDebtAfter.Uint64())

	s.SetLocked(nil)
	report = env.harvest(s1ID)
	assert.Equal(t, uint64(200), report.DebtRepaid.Uint64())
	assert.True(t, env.vault.TotalDebt().IsZero())
	assert.Equal(t, uint64(1000), env.vault.IdleBalance().Uint64())
	env.assertConserved()

	// withdrawals still work while shut down
	res, err := env.vault.WithdrawAll(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.AmountPaid.Uint64())
}

func TestSummary(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	require.NoError(t, env.vault.SetManagementFee(200))
	require.NoError(t, env.vault.SetPerformanceFee(1000))
	assert.ErrorIs(t, env.vault.SetPerformanceFee(10_001), apperrors.ErrInvalidAmount)
	env.harvest(s1ID)

	sum := env.vault.Summary()
	assert.Equal(t, vaultID.Hex(), sum.ID)
	assert.Equal(t, "1000", sum.TotalAssets)
	assert.Equal(t, "500", sum.IdleBalance)
	assert.Equal(t, "500", sum.TotalDebt)
	assert.Equal(t, "1000000", sum.PricePerShare)
	assert.Equal(t, uint64(200), sum.ManagementFee)
	assert.Equal(t, feeRecipient.Hex(), sum.FeeRecipient)
	assert.Equal(t, []string{s1ID.Hex()}, sum.WithdrawalQueue)

	ss := env.info(s1ID).Summary()
	assert.Equal(t, "500", ss.CurrentDebt)
	assert.Equal(t, types.StrategyActive, ss.Status)
}
