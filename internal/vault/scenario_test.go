package vault_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/vault"
)

func TestScenario_DepositHarvestWithdraw(t *testing.T) {
	env := setupTestVault(t)
	shares := env.deposit(alice, 1000)
	assert.Equal(t, uint64(1000), shares.Uint64())
	assert.Equal(t, uint64(1_000_000), env.vault.PricePerShare().Uint64(), "1.0 at six decimals")

	s := env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 10_000})
	env.harvest(s1ID)
	assert.Equal(t, uint64(1000), env.info(s1ID).CurrentDebt.Uint64())

	require.NoError(t, s.Earn(amt(50)))
	report := env.harvest(s1ID)
	assert.Equal(t, uint64(50), report.Gain.Uint64())
	assert.Greater(t, env.vault.PricePerShare().Uint64(), uint64(1_000_000))
	env.assertConserved()

	res, err := env.vault.Withdraw(context.Background(), alice, shares, alice, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.AmountPaid.Uint64(), uint64(1000))
	assert.True(t, env.vault.TotalShares().IsZero())
	env.assertConserved()
}

func TestScenario_EmergencyExitRecoversPrincipal(t *testing.T) {
	env := setupTestVault(t)
	env.deposit(alice, 1000)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 10_000})
	env.harvest(s1ID)
	require.Equal(t, uint64(1000), env.vault.TotalDebt().Uint64())

	require.NoError(t, env.vault.SetEmergencyExit(s1ID))
	report := env.harvest(s1ID)
	assert.True(t, report.Emergency)
	assert.True(t, env.info(s1ID).CurrentDebt.IsZero())
	assert.Equal(t, uint64(1000), env.vault.IdleBalance().Uint64())

	res, err := env.vault.WithdrawAll(context.Background(), alice)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.AmountPaid.Uint64(), uint64(1000))
	env.assertConserved()
}

func TestScenario_SlippageAbortKeepsShares(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	require.NoError(t, s1.Lose(amt(100)))

	res, err := env.vault.Withdraw(context.Background(), alice, amt(1000), alice, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSlippageExceeded))

	// shares stay with the owner; the walk's realized loss stays on the ledger
	require.NotNil(t, res)
	assert.Equal(t, uint64(100), res.Loss.Uint64())
	assert.Equal(t, uint64(1000), env.vault.BalanceOf(alice).Uint64())
	assert.NotEmpty(t, res.Warnings)
	env.assertConserved()
}

func TestScenario_RoundTrip(t *testing.T) {
	env := setupTestVault(t)
	env.addSimulated(s1ID, vault.StrategyParams{DebtRatio: 5000})

	shares := env.deposit(bob, 777)
	res, err := env.vault.Withdraw(context.Background(), bob, shares, bob, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), res.AmountPaid.Uint64())
	assert.Equal(t, shares.Uint64(), res.SharesBurned.Uint64())
	assert.True(t, env.vault.BalanceOf(bob).IsZero())
	assert.Equal(t, uint64(1_000_000), env.book.BalanceOf(bob).Uint64())
}
