package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// Custody accounts for value crossing the process boundary: value invested in a
// remote unit leaves the book, value it returns enters it.
type Custody interface {
	Mint(account common.Address, amount *uint256.Int) error
	Burn(account common.Address, amount *uint256.Int) error
}

// Remote is a strategy unit served over HTTP.
//
//	POST {base}/report           {"debt":"100"}   -> {"gain":"5","loss":"0","free":"105"}
//	POST {base}/invest           {"amount":"10"}  -> {}
//	POST {base}/divest           {"amount":"10"}  -> {"returned":"10"}
//	POST {base}/emergency-divest {}               -> {"returned":"105"}
//	POST {base}/transfer         {"to":"0x.."}    -> {}
//	GET  {base}/assets                            -> {"estimatedTotalAssets":"105"}
//
// Non-2xx responses carry {"error":"..."}.
type Remote struct {
	id      common.Address
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	custody Custody
}

var (
	_ vault.Strategy  = (*Remote)(nil)
	_ vault.Describer = (*Remote)(nil)
)

// RemoteOption customizes a Remote
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithRateLimit paces requests to the unit
func WithRateLimit(rps float64, burst int) RemoteOption {
	return func(r *Remote) { r.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithCustody books value moving in and out of the unit
func WithCustody(c Custody) RemoteOption {
	return func(r *Remote) { r.custody = c }
}

// NewRemote creates a client for the unit at baseURL
func NewRemote(id common.Address, baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) ID() common.Address { return r.id }

func (r *Remote) Definition() (types.StrategyKind, string) { return types.KindRemote, r.baseURL }

type amountRequest struct {
	Amount string `json:"amount,omitempty"`
	Debt   string `json:"debt,omitempty"`
	To     string `json:"to,omitempty"`
}

type reportResponse struct {
	Gain string `json:"gain"`
	Loss string `json:"loss"`
	Free string `json:"free"`
}

type returnedResponse struct {
	Returned string `json:"returned"`
}

type assetsResponse struct {
	EstimatedTotalAssets string `json:"estimatedTotalAssets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *Remote) ReportGainLoss(ctx context.Context, debt *uint256.Int) (vault.GainLoss, error) {
	var resp reportResponse
	if err := r.do(ctx, http.MethodPost, "/report", amountRequest{Debt: decimal(debt)}, &resp); err != nil {
		return vault.GainLoss{}, err
	}

	var gl vault.GainLoss
	var err error
	if gl.Gain, err = parseAmount("gain", resp.Gain); err != nil {
		return vault.GainLoss{}, err
	}
	if gl.Loss, err = parseAmount("loss", resp.Loss); err != nil {
		return vault.GainLoss{}, err
	}
	if gl.Free, err = parseAmount("free", resp.Free); err != nil {
		return vault.GainLoss{}, err
	}
	return gl, nil
}

func (r *Remote) Invest(ctx context.Context, amount *uint256.Int) error {
	if err := r.do(ctx, http.MethodPost, "/invest", amountRequest{Amount: decimal(amount)}, nil); err != nil {
		return err
	}
	if r.custody != nil {
		return r.custody.Burn(r.id, amount)
	}
	return nil
}

func (r *Remote) Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	var resp returnedResponse
	if err := r.do(ctx, http.MethodPost, "/divest", amountRequest{Amount: decimal(amount)}, &resp); err != nil {
		return nil, err
	}
	return r.receive(resp.Returned, amount)
}

func (r *Remote) EmergencyDivestAll(ctx context.Context) (*uint256.Int, error) {
	var resp returnedResponse
	if err := r.do(ctx, http.MethodPost, "/emergency-divest", amountRequest{}, &resp); err != nil {
		return nil, err
	}
	return r.receive(resp.Returned, nil)
}

// receive books returned value into custody. A non-nil limit caps it: the vault
// never moves more than it asked for, so an excess would be stranded.
func (r *Remote) receive(raw string, limit *uint256.Int) (*uint256.Int, error) {
	returned, err := parseAmount("returned", raw)
	if err != nil {
		return nil, err
	}
	if limit != nil && returned.Gt(limit) {
		returned.Set(limit)
	}
	if r.custody != nil {
		if err := r.custody.Mint(r.id, returned); err != nil {
			return nil, err
		}
	}
	return returned, nil
}

// TransferPositionTo asks the unit to hand its position to another remote unit.
// Value held by a remote server cannot reach an in-process unit.
func (r *Remote) TransferPositionTo(ctx context.Context, to vault.Strategy) error {
	if _, ok := to.(*Remote); !ok {
		return fmt.Errorf("remote unit %s cannot transfer its position to %T", r.id.Hex(), to)
	}
	return r.do(ctx, http.MethodPost, "/transfer", amountRequest{To: to.ID().Hex()}, nil)
}

func (r *Remote) EstimatedTotalAssets(ctx context.Context) (*uint256.Int, error) {
	var resp assetsResponse
	if err := r.do(ctx, http.MethodGet, "/assets", nil, &resp); err != nil {
		return nil, err
	}
	return parseAmount("estimatedTotalAssets", resp.EstimatedTotalAssets)
}

func (r *Remote) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decimal(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
