package vault_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/vault"
)

// setupLentVault lends 500 to s1 and 300 to s2, leaving 200 idle
func setupLentVault(t *testing.T) (*testEnv, *strategy.Simulated, *strategy.Simulated) {
	t.Helper()
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	s1 := env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})
	s2 := env.addSimulated(s2ID, vault.StrategyParams{DebtRatio: 3000})
	env.harvest(s1ID)
	env.harvest(s2ID)
	require.Equal(t, uint64(200), env.vault.IdleBalance().Uint64())
	return env, s1, s2
}

func TestWithdraw_FromIdle(t *testing.T) {
	env, _, _ := setupLentVault(t)

	res, err := env.vault.Withdraw(context.Background(), alice, amt(150), bob, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res.AmountPaid.Uint64())
	assert.Equal(t, uint64(150), res.SharesBurned.Uint64())
	assert.Empty(t, res.Warnings, "no strategy touched")

	assert.Equal(t, uint64(850), env.vault.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1_000_150), env.book.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(800), env.vault.TotalDebt().Uint64())
	env.assertConserved()
}

func TestWithdraw_WalksQueue(t *testing.T) {
	env, _, _ := setupLentVault(t)

	res, err := env.vault.Withdraw(context.Background(), alice, amt(1000), alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.AmountPaid.Uint64())
	assert.True(t, res.Loss.IsZero())

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, s1ID, res.Warnings[0].StrategyID)
	assert.Equal(t, uint64(500), res.Warnings[0].Returned.Uint64())
	assert.Equal(t, s2ID, res.Warnings[1].StrategyID)
	assert.Equal(t, uint64(300), res.Warnings[1].Returned.Uint64())

	assert.True(t, env.vault.TotalShares().IsZero())
	assert.True(t, env.vault.TotalAssets().IsZero())
	assert.Equal(t, uint64(1_000_000), env.book.BalanceOf(alice).Uint64())
	env.assertConserved()
}

func TestWithdraw_StopsOnceCovered(t *testing.T) {
	env, _, _ := setupLentVault(t)

	res, err := env.vault.Withdraw(context.Background(), alice, amt(400), alice, 0)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, uint64(200), res.Warnings[0].Requested.Uint64())
	assert.Equal(t, uint64(300), env.info(s1ID).CurrentDebt.Uint64())
	assert.Equal(t, uint64(300), env.info(s2ID).CurrentDebt.Uint64())
}

func TestWithdraw_SlippageExceeded(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	s1.SetDivestHaircut(1000)

	res, err := env.vault.Withdraw(context.Background(), alice, amt(1000), alice, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSlippageExceeded)

	cerr := apperrors.Categorize(err)
	assert.Equal(t, []string{s1ID.Hex(), s2ID.Hex()}, cerr.Details["touchedStrategies"])

	// the walk's effects stay committed, the shares do not burn
	require.NotNil(t, res)
	assert.Equal(t, uint64(50), res.Loss.Uint64())
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, uint64(50), res.Warnings[0].Loss.Uint64())
	assert.Equal(t, uint64(1000), env.vault.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(950), env.vault.TotalAssets().Uint64())
	assert.Equal(t, uint64(950), env.vault.IdleBalance().Uint64())
	assert.Equal(t, uint64(50), env.info(s1ID).TotalLoss.Uint64())
	assert.True(t, env.vault.TotalDebt().IsZero())
	env.assertConserved()
}

func TestWithdraw_LossWithinTolerance(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	s1.SetDivestHaircut(1000)

	res, err := env.vault.Withdraw(context.Background(), alice, amt(1000), alice, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), res.AmountPaid.Uint64())
	assert.Equal(t, uint64(50), res.Loss.Uint64())
	assert.Equal(t, uint64(1000), res.SharesBurned.Uint64())
	assert.True(t, env.vault.TotalShares().IsZero())
	env.assertConserved()
}

func TestWithdraw_SkipsUnresponsiveAndCapsAtIdle(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	s1.FailOn(strategy.CallDivest, errors.New("paused"))

	res, err := env.vault.Withdraw(context.Background(), alice, amt(1000), alice, 0)
	require.NoError(t, err)

	require.Len(t, res.Warnings, 2)
	assert.ErrorIs(t, res.Warnings[0].Err, apperrors.ErrStrategyUnresponsive)
	assert.True(t, res.Warnings[0].Returned.IsZero())
	assert.NoError(t, res.Warnings[1].Err)

	assert.Equal(t, uint64(500), res.AmountPaid.Uint64())
	assert.Equal(t, uint64(500), res.SharesBurned.Uint64())
	assert.Equal(t, uint64(500), env.vault.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(500), env.info(s1ID).CurrentDebt.Uint64())
	assert.Equal(t, "1000000", env.vault.PricePerShare().Dec())
	env.assertConserved()
}

func TestWithdrawAll_DefaultTolerance(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	s1.SetDivestHaircut(20)

	// a loss of 1 on 1000 owed is above the default 1bp
	res, err := env.vault.WithdrawAll(context.Background(), alice)
	assert.ErrorIs(t, err, apperrors.ErrSlippageExceeded)
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Loss.Uint64())

	env2, _, _ := setupLentVault(t)
	res, err = env2.vault.WithdrawAll(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.AmountPaid.Uint64())
	assert.True(t, env2.vault.BalanceOf(alice).IsZero())
}

func TestWithdraw_Validation(t *testing.T) {
	env, _, _ := setupLentVault(t)
	ctx := context.Background()

	_, err := env.vault.Withdraw(ctx, alice, amt(0), alice, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = env.vault.Withdraw(ctx, alice, amt(1001), alice, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = env.vault.Withdraw(ctx, bob, amt(1), bob, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = env.vault.Withdraw(ctx, alice, amt(1), alice, 10_001)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}
