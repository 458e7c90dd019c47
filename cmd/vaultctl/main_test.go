package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yield-vault/internal/api"
	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/config"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/service"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/types"
)

const (
	ctlVault = "0x000000000000000000000000000000000000007a"
	ctlS1    = "0x0000000000000000000000000000000000000051"
	ctlAlice = "0x00000000000000000000000000000000000000a1"
)

func startServer(t *testing.T) string {
	t.Helper()
	vf, err := config.ParseVaultFile([]byte(`
vaults:
  - id: "` + ctlVault + `"
    decimals: 6
    strategies:
      - id: "` + ctlS1 + `"
        kind: simulated
        debtRatio: 5000
`))
	require.NoError(t, err)

	book := asset.NewBook()
	svc := service.NewVaultService(book, &strategy.Factory{Book: book, CallTimeout: time.Second},
		service.WithLogger(logging.Discard()))
	require.NoError(t, svc.Bootstrap(context.Background(), vf))

	ts := httptest.NewServer(api.NewServer(&api.ServerConfig{Host: "localhost", Port: "0"}, svc, logging.Discard()).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--api", url}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVaultctl_DepositAndHarvest(t *testing.T) {
	url := startServer(t)

	_, err := run(t, url, "fund", ctlAlice, "1000")
	require.NoError(t, err)
	_, err = run(t, url, "deposit", ctlVault, ctlAlice, "1000")
	require.NoError(t, err)

	out, err := run(t, url, "harvest", ctlVault, ctlS1)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "500", report["debtAdded"])

	out, err = run(t, url, "summary", ctlVault)
	require.NoError(t, err)
	var summary types.VaultSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary), out)
	assert.Equal(t, "500", summary.TotalDebt)
}

func TestVaultctl_ArgumentErrors(t *testing.T) {
	url := startServer(t)

	_, err := run(t, url, "summary", "not-an-address")
	assert.ErrorContains(t, err, "not a hex address")

	_, err = run(t, url, "shutdown", ctlVault, "maybe")
	assert.ErrorContains(t, err, "expected on or off")

	_, err = run(t, url, "strategy", "debt-ratio", ctlVault, ctlS1, "10001")
	assert.ErrorContains(t, err, "DEBT_RATIO_EXCEEDS_CEILING")
}
