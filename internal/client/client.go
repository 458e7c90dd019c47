// Package client is a typed HTTP client for the vault API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yield-vault/internal/api"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/service"
	"github.com/yield-vault/internal/types"
)

// Client talks to one API server. Failures the server reports come back as
// *apperrors.CategorizedError, so callers match them with errors.Is.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithClientID sets the X-Client-ID header the server rate limits by
func WithClientID(id string) Option { return func(cl *Client) { cl.clientID = id } }

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var er api.ErrorResponse
		if err := json.Unmarshal(data, &er); err != nil || er.Error.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return apperrors.FromServiceError(er.Error, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func vaultPath(vaultID common.Address) string {
	return "/api/vaults/" + vaultID.Hex()
}

func strategyPath(vaultID, strategyID common.Address) string {
	return vaultPath(vaultID) + "/strategies/" + strategyID.Hex()
}

// Health returns the server's health document
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Vaults lists the hosted vaults
func (c *Client) Vaults(ctx context.Context) ([]common.Address, error) {
	var out struct {
		Vaults []common.Address `json:"vaults"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/vaults", nil, &out); err != nil {
		return nil, err
	}
	return out.Vaults, nil
}

// Summary returns a vault's totals
func (c *Client) Summary(ctx context.Context, vaultID common.Address) (*types.VaultSummary, error) {
	var out types.VaultSummary
	if err := c.do(ctx, http.MethodGet, vaultPath(vaultID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue returns a vault's withdrawal queue
func (c *Client) Queue(ctx context.Context, vaultID common.Address) ([]common.Address, error) {
	s, err := c.Summary(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	queue := make([]common.Address, 0, len(s.WithdrawalQueue))
	for _, id := range s.WithdrawalQueue {
		queue = append(queue, common.HexToAddress(id))
	}
	return queue, nil
}

// Account returns an account's position in a vault
func (c *Client) Account(ctx context.Context, vaultID, account common.Address) (*service.AccountView, error) {
	var out service.AccountView
	if err := c.do(ctx, http.MethodGet, vaultPath(vaultID)+"/accounts/"+account.Hex(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Strategy returns a strategy handle
func (c *Client) Strategy(ctx context.Context, vaultID, strategyID common.Address) (*types.StrategySummary, error) {
	var out types.StrategySummary
	if err := c.do(ctx, http.MethodGet, strategyPath(vaultID, strategyID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Allocation returns pending credits and debits
func (c *Client) Allocation(ctx context.Context, vaultID common.Address) ([]service.AllocationView, error) {
	var out struct {
		Allocations []service.AllocationView `json:"allocations"`
	}
	if err := c.do(ctx, http.MethodGet, vaultPath(vaultID)+"/allocation", nil, &out); err != nil {
		return nil, err
	}
	return out.Allocations, nil
}

// Reports returns recent harvest reports, optionally for one strategy
func (c *Client) Reports(ctx context.Context, vaultID common.Address, strategyID *common.Address, limit int) ([]*models.HarvestReport, error) {
	q := url.Values{}
	if strategyID != nil {
		q.Set("strategy", strategyID.Hex())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := vaultPath(vaultID) + "/reports"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Reports []*models.HarvestReport `json:"reports"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// Consistency runs the server's ledger check for a vault
func (c *Client) Consistency(ctx context.Context, vaultID common.Address) (*service.ConsistencyResult, error) {
	var out service.ConsistencyResult
	if err := c.do(ctx, http.MethodGet, vaultPath(vaultID)+"/consistency", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns per-operation statistics
func (c *Client) Stats(ctx context.Context) (map[string]service.OperationStats, error) {
	var out struct {
		Operations map[string]service.OperationStats `json:"operations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// Fund credits an account with test assets
func (c *Client) Fund(ctx context.Context, account common.Address, amount string) error {
	return c.do(ctx, http.MethodPost, "/api/accounts/"+account.Hex()+"/fund", api.FundRequest{Amount: amount}, nil)
}

// Deposit moves amount from account into the vault
func (c *Client) Deposit(ctx context.Context, vaultID common.Address, req api.DepositRequest) (*api.DepositResponse, error) {
	var out api.DepositResponse
	if err := c.do(ctx, http.MethodPost, vaultPath(vaultID)+"/deposits", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdraw redeems shares
func (c *Client) Withdraw(ctx context.Context, vaultID common.Address, req api.WithdrawRequest) (*service.WithdrawView, error) {
	var out service.WithdrawView
	if err := c.do(ctx, http.MethodPost, vaultPath(vaultID)+"/withdrawals", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Harvest settles one strategy
func (c *Client) Harvest(ctx context.Context, vaultID, strategyID common.Address) (*models.HarvestReport, error) {
	var out models.HarvestReport
	if err := c.do(ctx, http.MethodPost, strategyPath(vaultID, strategyID)+"/harvest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddStrategy attaches a new strategy
func (c *Client) AddStrategy(ctx context.Context, vaultID common.Address, req api.StrategyRequest) (*types.StrategySummary, error) {
	var out types.StrategySummary
	if err := c.do(ctx, http.MethodPost, vaultPath(vaultID)+"/strategies", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDebtRatio changes a strategy's target share in basis points
func (c *Client) UpdateDebtRatio(ctx context.Context, vaultID, strategyID common.Address, bps uint64) (*types.StrategySummary, error) {
	return c.strategyCall(ctx, http.MethodPut, strategyPath(vaultID, strategyID)+"/debt-ratio", api.DebtRatioRequest{DebtRatio: &bps})
}

// Revoke unwinds a strategy on its next harvest
func (c *Client) Revoke(ctx context.Context, vaultID, strategyID common.Address) (*types.StrategySummary, error) {
	return c.strategyCall(ctx, http.MethodPost, strategyPath(vaultID, strategyID)+"/revoke", nil)
}

// EmergencyExit divests a strategy completely on its next harvest
func (c *Client) EmergencyExit(ctx context.Context, vaultID, strategyID common.Address) (*types.StrategySummary, error) {
	return c.strategyCall(ctx, http.MethodPost, strategyPath(vaultID, strategyID)+"/emergency-exit", nil)
}

// Migrate moves a strategy's position to a new unit
func (c *Client) Migrate(ctx context.Context, vaultID, oldID common.Address, req api.MigrateRequest) (*types.StrategySummary, error) {
	return c.strategyCall(ctx, http.MethodPost, strategyPath(vaultID, oldID)+"/migrate", req)
}

// Simulate moves a simulated strategy's position
func (c *Client) Simulate(ctx context.Context, vaultID, strategyID common.Address, req api.SimulateRequest) (*types.StrategySummary, error) {
	return c.strategyCall(ctx, http.MethodPost, strategyPath(vaultID, strategyID)+"/simulate", req)
}

// RemoveStrategy drops a repaid strategy from the queue
func (c *Client) RemoveStrategy(ctx context.Context, vaultID, strategyID common.Address) error {
	return c.do(ctx, http.MethodDelete, strategyPath(vaultID, strategyID), nil, nil)
}

// SetShutdown toggles emergency shutdown
func (c *Client) SetShutdown(ctx context.Context, vaultID common.Address, active bool) (*types.VaultSummary, error) {
	var out types.VaultSummary
	if err := c.do(ctx, http.MethodPut, vaultPath(vaultID)+"/shutdown", api.ShutdownRequest{Active: active}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDepositLimit caps the vault's total assets
func (c *Client) SetDepositLimit(ctx context.Context, vaultID common.Address, limit string) (*types.VaultSummary, error) {
	var out types.VaultSummary
	if err := c.do(ctx, http.MethodPut, vaultPath(vaultID)+"/deposit-limit", api.DepositLimitRequest{Limit: limit}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) strategyCall(ctx context.Context, method, path string, body interface{}) (*types.StrategySummary, error) {
	var out types.StrategySummary
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
