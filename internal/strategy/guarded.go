package strategy

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/circuitbreaker"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// Guarded bounds every call into a unit with a timeout and a circuit breaker.
// Failures, timeouts and open-circuit rejections surface as StrategyUnresponsive.
type Guarded struct {
	inner   vault.Strategy
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

var (
	_ vault.Strategy  = (*Guarded)(nil)
	_ vault.Describer = (*Guarded)(nil)
)

// NewGuarded wraps inner. A nil breaker disables the circuit.
func NewGuarded(inner vault.Strategy, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout}
}

// Unwrap returns the guarded unit
func (g *Guarded) Unwrap() vault.Strategy { return g.inner }

func (g *Guarded) ID() common.Address { return g.inner.ID() }

// Definition describes the guarded unit
func (g *Guarded) Definition() (types.StrategyKind, string) {
	if d, ok := g.inner.(vault.Describer); ok {
		return d.Definition()
	}
	return "", ""
}

type outcome[T any] struct {
	val T
	err error
}

// guard runs fn in its own goroutine so a unit that ignores its context still
// cannot hold the caller past the timeout. A late result is dropped.
func guard[T any](ctx context.Context, g *Guarded, call string, fn func(context.Context) (T, error)) (T, error) {
	var val T
	run := func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		done := make(chan outcome[T], 1)
		go func() {
			v, err := fn(ctx)
			done <- outcome[T]{val: v, err: err}
		}()

		select {
		case out := <-done:
			val = out.val
			return out.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		var none T
		return none, apperrors.NewStrategyUnresponsiveError(g.inner.ID().Hex(), call, err)
	}
	return val, nil
}

func (g *Guarded) ReportGainLoss(ctx context.Context, debt *uint256.Int) (vault.GainLoss, error) {
	return guard(ctx, g, CallReport, func(ctx context.Context) (vault.GainLoss, error) {
		return g.inner.ReportGainLoss(ctx, debt)
	})
}

func (g *Guarded) Invest(ctx context.Context, amount *uint256.Int) error {
	_, err := guard(ctx, g, CallInvest, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Invest(ctx, amount)
	})
	return err
}

func (g *Guarded) Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	return guard(ctx, g, CallDivest, func(ctx context.Context) (*uint256.Int, error) {
		return g.inner.Divest(ctx, amount)
	})
}

func (g *Guarded) EmergencyDivestAll(ctx context.Context) (*uint256.Int, error) {
	return guard(ctx, g, CallEmergencyDivest, g.inner.EmergencyDivestAll)
}

func (g *Guarded) TransferPositionTo(ctx context.Context, to vault.Strategy) error {
	if inner, ok := to.(*Guarded); ok {
		to = inner.Unwrap()
	}
	_, err := guard(ctx, g, CallTransfer, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.TransferPositionTo(ctx, to)
	})
	return err
}

func (g *Guarded) EstimatedTotalAssets(ctx context.Context) (*uint256.Int, error) {
	return guard(ctx, g, CallEstimate, g.inner.EstimatedTotalAssets)
}
