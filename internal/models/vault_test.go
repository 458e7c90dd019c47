package models

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

func TestVaultState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	book := asset.NewBook()
	owner := common.HexToAddress("0xa1")
	vaultID := common.HexToAddress("0x7a")
	require.NoError(t, book.Mint(owner, uint256.NewInt(10_000)))

	v, err := vault.New(vault.Params{ID: vaultID, Decimals: 18, PerformanceFee: 1000, FeeRecipient: common.HexToAddress("0xfe")},
		book, vault.WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = v.Deposit(ctx, owner, uint256.NewInt(5_000))
	require.NoError(t, err)

	s := strategy.NewSimulated(common.HexToAddress("0x51"), book)
	require.NoError(t, v.AddStrategy(ctx, s, vault.StrategyParams{DebtRatio: 4000}))
	_, err = v.Harvest(ctx, s.ID())
	require.NoError(t, err)
	require.NoError(t, s.Earn(uint256.NewInt(300)))
	_, err = v.Harvest(ctx, s.ID())
	require.NoError(t, err)

	snap := v.Snapshot()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	state := FromSnapshot(snap, now)

	assert.Equal(t, vaultID.Hex(), state.Vault.ID)
	assert.Equal(t, now, state.Vault.UpdatedAt)
	assert.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", state.Vault.DepositLimit)
	require.Len(t, state.Strategies, 1)
	assert.Equal(t, "2120", state.Strategies[0].CurrentDebt)
	assert.Equal(t, types.KindSimulated, state.Strategies[0].Kind, "unit definition travels with the row")
	assert.Len(t, state.Balances, 2)

	back, err := state.Snapshot()
	require.NoError(t, err)
	if diff := cmp.Diff(snap, back, cmp.Comparer(func(a, b *uint256.Int) bool { return a.Eq(b) })); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestVaultState_RejectsBadAmounts(t *testing.T) {
	state := &VaultState{Vault: Vault{
		ID:           "0x7a",
		IdleBalance:  "12.5",
		TotalDebt:    "0",
		TotalShares:  "0",
		DepositLimit: "0",
	}}
	_, err := state.Snapshot()
	assert.ErrorContains(t, err, "idle_balance")

	state.Vault.IdleBalance = "0"
	state.Strategies = []Strategy{{StrategyID: "0x51", CurrentDebt: "-1"}}
	_, err = state.Snapshot()
	assert.ErrorContains(t, err, "current_debt")
}

func TestNewHarvestReport(t *testing.T) {
	r := &vault.HarvestReport{
		VaultID:    common.HexToAddress("0x7a"),
		StrategyID: common.HexToAddress("0x51"),
		Gain:       uint256.NewInt(42),
		Emergency:  true,
	}
	row := NewHarvestReport(r)
	assert.Equal(t, "42", row.Gain)
	assert.Equal(t, "0", row.Loss, "missing amounts render as zero")
	assert.True(t, row.Emergency)
	assert.Equal(t, r.StrategyID.Hex(), row.StrategyID)
}
