package vault_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

var amountComparer = cmp.Comparer(func(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Eq(b)
})

func TestSnapshotRestore(t *testing.T) {
	env, s1, _ := setupLentVault(t)
	require.NoError(t, env.vault.SetPerformanceFee(1000))
	require.NoError(t, s1.Earn(amt(100)))
	env.harvest(s1ID)
	require.NoError(t, env.vault.MigrateStrategy(context.Background(), s2ID, strategy.NewSimulated(s3ID, env.book)))
	env.vault.SetDepositLimit(amt(5000))

	snap := env.vault.Snapshot()
	require.Len(t, snap.Strategies, 3)
	assert.Equal(t, 0, snap.Strategies[0].QueuePosition)
	assert.Equal(t, s3ID, snap.Strategies[1].ID)
	assert.Equal(t, s2ID, snap.Strategies[2].ID)
	assert.Equal(t, -1, snap.Strategies[2].QueuePosition)
	assert.Equal(t, types.StrategyMigrated, snap.Strategies[2].Status)

	units := map[common.Address]vault.Strategy{
		s1ID: s1,
		s3ID: strategy.NewSimulated(s3ID, env.book),
	}
	restored, err := vault.Restore(snap, units, env.book, vault.WithClock(env.clock), vault.WithLogger(logging.Discard()))
	require.NoError(t, err)

	if diff := cmp.Diff(snap, restored.Snapshot(), amountComparer); diff != "" {
		t.Errorf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(env.vault.Summary(), restored.Summary()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	// the snapshot is a deep copy
	snap.Idle.SetUint64(0)
	assert.NotEqual(t, "0", env.vault.IdleBalance().Dec())

	report, err := restored.Harvest(context.Background(), s1ID)
	require.NoError(t, err)
	assert.Equal(t, env.info(s1ID).CurrentDebt.Dec(), report.TotalDebtAfter.Dec())
}

func TestRestore_RejectsBrokenState(t *testing.T) {
	env, s1, s2 := setupLentVault(t)
	units := map[common.Address]vault.Strategy{s1ID: s1, s2ID: s2}

	tests := []struct {
		name   string
		mutate func(s *vault.Snapshot)
		units  map[common.Address]vault.Strategy
	}{
		{
			name:   "debt mismatch",
			mutate: func(s *vault.Snapshot) { s.TotalDebt = amt(1) },
			units:  units,
		},
		{
			name:   "share mismatch",
			mutate: func(s *vault.Snapshot) { s.TotalShares = amt(999) },
			units:  units,
		},
		{
			name:   "ratio above ceiling",
			mutate: func(s *vault.Snapshot) { s.Strategies[1].DebtRatio = 6000 },
			units:  units,
		},
		{
			name:   "invalid status",
			mutate: func(s *vault.Snapshot) { s.Strategies[0].Status = "paused" },
			units:  units,
		},
		{
			name:   "missing unit",
			mutate: func(s *vault.Snapshot) {},
			units:  map[common.Address]vault.Strategy{s1ID: s1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := env.vault.Snapshot()
			tt.mutate(snap)
			_, err := vault.Restore(snap, tt.units, env.book, vault.WithLogger(logging.Discard()))
			assert.Error(t, err)
		})
	}
}
