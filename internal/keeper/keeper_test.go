package keeper

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yield-vault/internal/api"
	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/client"
	"github.com/yield-vault/internal/config"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/service"
	"github.com/yield-vault/internal/strategy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	vaultA = common.HexToAddress("0xa0")
	vaultB = common.HexToAddress("0xb0")
	s1     = common.HexToAddress("0x51")
	s2     = common.HexToAddress("0x52")
	s3     = common.HexToAddress("0x53")
)

// mockHarvester answers harvests through harvestFunc and counts calls per strategy
type mockHarvester struct {
	mu          sync.Mutex
	queues      map[common.Address][]common.Address
	calls       map[common.Address]int
	harvestFunc func(vaultID, strategyID common.Address, call int) error
}

func newMockHarvester() *mockHarvester {
	return &mockHarvester{
		queues: map[common.Address][]common.Address{
			vaultA: {s1, s2},
			vaultB: {s3},
		},
		calls: make(map[common.Address]int),
	}
}

func (m *mockHarvester) Vaults(context.Context) ([]common.Address, error) {
	return []common.Address{vaultA, vaultB}, nil
}

func (m *mockHarvester) Queue(_ context.Context, vaultID common.Address) ([]common.Address, error) {
	q, ok := m.queues[vaultID]
	if !ok {
		return nil, apperrors.NewVaultNotFoundError(vaultID.Hex())
	}
	return q, nil
}

func (m *mockHarvester) Harvest(ctx context.Context, vaultID, strategyID common.Address) (*models.HarvestReport, error) {
	m.mu.Lock()
	m.calls[strategyID]++
	call := m.calls[strategyID]
	m.mu.Unlock()

	if m.harvestFunc != nil {
		if err := m.harvestFunc(vaultID, strategyID, call); err != nil {
			return nil, err
		}
	}
	return &models.HarvestReport{
		VaultID: vaultID.Hex(), StrategyID: strategyID.Hex(),
		Gain: "0", Loss: "0", DebtAdded: "0", DebtRepaid: "0",
	}, nil
}

func (m *mockHarvester) callsFor(id common.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func testKeeperConfig() config.KeeperConfig {
	return config.KeeperConfig{
		Schedule:       "@every 1s",
		Concurrency:    2,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testKeeperConfig(), logging.Discard())
	assert.Error(t, err)

	cfg := testKeeperConfig()
	cfg.Schedule = "every five minutes"
	_, err = New(newMockHarvester(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "invalid keeper schedule")

	cfg.Schedule = "0 */5 * * * *"
	k, err := New(newMockHarvester(), cfg, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, k.concurrency)
}

func TestRunCycle_HarvestsEveryQueuedStrategy(t *testing.T) {
	h := newMockHarvester()
	k, err := New(h, testKeeperConfig(), logging.Discard())
	require.NoError(t, err)

	res := k.RunCycle(context.Background())
	assert.Equal(t, 3, res.Harvested)
	assert.Zero(t, res.Failed)
	for _, id := range []common.Address{s1, s2, s3} {
		assert.Equal(t, 1, h.callsFor(id))
	}
	assert.Same(t, res, k.LastCycle())
	assert.Equal(t, 1, k.Cycles())
}

func TestRunCycle_RetriesUnresponsiveStrategies(t *testing.T) {
	h := newMockHarvester()
	h.harvestFunc = func(_, strategyID common.Address, call int) error {
		if strategyID == s1 && call < 3 {
			return apperrors.NewStrategyUnresponsiveError(strategyID.Hex(), "report", context.DeadlineExceeded)
		}
		return nil
	}
	k, err := New(h, testKeeperConfig(), logging.Discard())
	require.NoError(t, err)

	res := k.RunCycle(context.Background())
	assert.Equal(t, 3, res.Harvested)
	assert.Equal(t, 3, h.callsFor(s1), "two retries before success")
}

func TestRunCycle_CountsFailuresWithoutStopping(t *testing.T) {
	h := newMockHarvester()
	h.harvestFunc = func(_, strategyID common.Address, _ int) error {
		switch strategyID {
		case s1:
			return apperrors.NewStrategyUnresponsiveError(strategyID.Hex(), "report", errors.New("connection refused"))
		case s2:
			return apperrors.NewStrategyNotActiveError(strategyID.Hex(), "removed")
		}
		return nil
	}
	k, err := New(h, testKeeperConfig(), logging.Discard())
	require.NoError(t, err)

	res := k.RunCycle(context.Background())
	assert.Equal(t, 1, res.Harvested)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 3, h.callsFor(s1), "retryable failure exhausts its attempts")
	assert.Equal(t, 1, h.callsFor(s2), "non-retryable failure is not retried")
}

func TestRunCycle_BusyAndInconsistentLoss(t *testing.T) {
	h := newMockHarvester()
	h.harvestFunc = func(_, strategyID common.Address, _ int) error {
		switch strategyID {
		case s1:
			return apperrors.NewStrategyBusyError(strategyID.Hex())
		case s3:
			return apperrors.NewInconsistentLossError(strategyID.Hex(), "900", "500")
		}
		return nil
	}
	k, err := New(h, testKeeperConfig(), logging.Discard())
	require.NoError(t, err)

	res := k.RunCycle(context.Background())
	assert.Equal(t, 1, res.Busy)
	assert.Equal(t, 2, res.Harvested, "an inconsistent loss still settles")
	assert.Zero(t, res.Failed)
}

func TestStartStop(t *testing.T) {
	h := newMockHarvester()
	k, err := New(h, testKeeperConfig(), logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, k.Start(ctx))
	assert.Error(t, k.Start(ctx), "second start is rejected")

	require.Eventually(t, func() bool { return k.Cycles() > 0 }, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, k.Stop(stopCtx))
	assert.Error(t, k.Stop(stopCtx), "already stopped")
}

const keeperVaultYAML = `
vaults:
  - id: "0x00000000000000000000000000000000000000a0"
    decimals: 18
    strategies:
      - id: "0x0000000000000000000000000000000000000051"
        kind: simulated
        debtRatio: 6000
      - id: "0x0000000000000000000000000000000000000052"
        kind: simulated
        debtRatio: 2000
`

func newFundedService(t *testing.T) *service.VaultService {
	t.Helper()
	vf, err := config.ParseVaultFile([]byte(keeperVaultYAML))
	require.NoError(t, err)

	book := asset.NewBook()
	svc := service.NewVaultService(book, &strategy.Factory{Book: book, CallTimeout: time.Second},
		service.WithLogger(logging.Discard()))
	require.NoError(t, svc.Bootstrap(context.Background(), vf))

	depositor := common.HexToAddress("0xd0")
	require.NoError(t, svc.Fund(depositor, uint256.NewInt(10_000)))
	_, err = svc.Deposit(context.Background(), vaultA, depositor, uint256.NewInt(10_000))
	require.NoError(t, err)
	return svc
}

func TestRunCycle_AgainstVaultService(t *testing.T) {
	svc := newFundedService(t)

	k, err := New(Local(svc), testKeeperConfig(), logging.Discard())
	require.NoError(t, err)
	res := k.RunCycle(context.Background())
	assert.Equal(t, 2, res.Harvested)

	summary, err := svc.Summary(context.Background(), vaultA)
	require.NoError(t, err)
	assert.Equal(t, "8000", summary.TotalDebt)
	assert.Equal(t, "2000", summary.IdleBalance)

	check, err := svc.CheckConsistency(vaultA)
	require.NoError(t, err)
	assert.True(t, check.Consistent, check.Inconsistencies)
}

func TestRunCycle_ThroughAPIClient(t *testing.T) {
	svc := newFundedService(t)
	srv := api.NewServer(&api.ServerConfig{Host: "localhost", Port: "0"}, svc, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	k, err := New(client.New(ts.URL, client.WithHTTPClient(ts.Client())), testKeeperConfig(), logging.Discard())
	require.NoError(t, err)
	res := k.RunCycle(context.Background())
	assert.Equal(t, 2, res.Harvested)
	assert.Zero(t, res.Failed, res.Errors)

	summary, err := svc.Summary(context.Background(), vaultA)
	require.NoError(t, err)
	assert.Equal(t, "8000", summary.TotalDebt)

	// a remote VAULT_NOT_FOUND is not retried
	_, err = client.New(ts.URL, client.WithHTTPClient(ts.Client())).Harvest(context.Background(), vaultB, s3)
	assert.True(t, errors.Is(err, apperrors.ErrVaultNotFound))
	assert.False(t, apperrors.IsRetryable(err))
}
