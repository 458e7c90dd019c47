// Package strategy provides strategy units a vault can lend to.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// Call names, used for fault injection and error messages
const (
	CallReport          = "report"
	CallInvest          = "invest"
	CallDivest          = "divest"
	CallEmergencyDivest = "emergency divest"
	CallTransfer        = "transfer position"
	CallEstimate        = "estimate"
)

// Holdings is the balance sheet a simulated unit keeps its assets in
type Holdings interface {
	vault.ValueTransfer
	BalanceOf(account common.Address) *uint256.Int
	Mint(account common.Address, amount *uint256.Int) error
	Burn(account common.Address, amount *uint256.Int) error
}

// Simulated is an in-process unit whose whole position is its balance in a Holdings book.
// Yield and losses are scripted with Earn and Lose.
type Simulated struct {
	id   common.Address
	book Holdings

	mu         sync.Mutex
	locked     *uint256.Int
	haircutBPS uint64
	latency    time.Duration
	failures   map[string]error
}

var (
	_ vault.Strategy  = (*Simulated)(nil)
	_ vault.Describer = (*Simulated)(nil)
)

// NewSimulated creates a unit holding its assets under id in book
func NewSimulated(id common.Address, book Holdings) *Simulated {
	return &Simulated{
		id:       id,
		book:     book,
		locked:   new(uint256.Int),
		failures: make(map[string]error),
	}
}

func (s *Simulated) ID() common.Address { return s.id }

func (s *Simulated) Definition() (types.StrategyKind, string) { return types.KindSimulated, "" }

// Earn adds yield to the position
func (s *Simulated) Earn(amount *uint256.Int) error {
	return s.book.Mint(s.id, amount)
}

// Lose removes value from the position
func (s *Simulated) Lose(amount *uint256.Int) error {
	return s.book.Burn(s.id, amount)
}

// SetLocked marks part of the position as impossible to free
func (s *Simulated) SetLocked(amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount == nil {
		amount = new(uint256.Int)
	}
	s.locked = new(uint256.Int).Set(amount)
}

// SetDivestHaircut makes every divestment destroy bps of what it frees
func (s *Simulated) SetDivestHaircut(bps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bps > types.MaxBPS {
		bps = types.MaxBPS
	}
	s.haircutBPS = bps
}

// SetLatency delays every call by d, or until the call's context ends
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailOn makes every call named call fail with err; a nil err clears it
func (s *Simulated) FailOn(call string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, call)
		return
	}
	s.failures[call] = err
}

// enter applies latency and injected failures
func (s *Simulated) enter(ctx context.Context, call string) error {
	s.mu.Lock()
	latency, err := s.latency, s.failures[call]
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Simulated) free() *uint256.Int {
	s.mu.Lock()
	locked := s.locked.Clone()
	s.mu.Unlock()

	bal := s.book.BalanceOf(s.id)
	if locked.Gt(bal) {
		return new(uint256.Int)
	}
	return bal.Sub(bal, locked)
}

// ReportGainLoss compares the unit's balance with debt
func (s *Simulated) ReportGainLoss(ctx context.Context, debt *uint256.Int) (vault.GainLoss, error) {
	if err := s.enter(ctx, CallReport); err != nil {
		return vault.GainLoss{}, err
	}
	if debt == nil {
		debt = new(uint256.Int)
	}
	assets := s.book.BalanceOf(s.id)
	gl := vault.GainLoss{Gain: new(uint256.Int), Loss: new(uint256.Int), Free: s.free()}
	if assets.Gt(debt) {
		gl.Gain.Sub(assets, debt)
	} else {
		gl.Loss.Sub(debt, assets)
	}
	return gl, nil
}

// Invest has nothing to deploy: the value already sits in the unit's balance
func (s *Simulated) Invest(ctx context.Context, amount *uint256.Int) error {
	return s.enter(ctx, CallInvest)
}

// Divest frees up to amount, less the haircut
func (s *Simulated) Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := s.enter(ctx, CallDivest); err != nil {
		return nil, err
	}
	return s.release(amount)
}

// EmergencyDivestAll frees everything that is not locked, less the haircut
func (s *Simulated) EmergencyDivestAll(ctx context.Context) (*uint256.Int, error) {
	if err := s.enter(ctx, CallEmergencyDivest); err != nil {
		return nil, err
	}
	return s.release(s.book.BalanceOf(s.id))
}

func (s *Simulated) release(amount *uint256.Int) (*uint256.Int, error) {
	want := s.free()
	if amount != nil && amount.Lt(want) {
		want = new(uint256.Int).Set(amount)
	}

	s.mu.Lock()
	bps := s.haircutBPS
	s.mu.Unlock()

	lost, _ := new(uint256.Int).MulDivOverflow(want, uint256.NewInt(bps), uint256.NewInt(types.MaxBPS))
	if err := s.book.Burn(s.id, lost); err != nil {
		return nil, err
	}
	return want.Sub(want, lost), nil
}

// TransferPositionTo moves the unit's whole balance to the other unit
func (s *Simulated) TransferPositionTo(ctx context.Context, to vault.Strategy) error {
	if err := s.enter(ctx, CallTransfer); err != nil {
		return err
	}
	if err := s.book.MoveValue(ctx, s.id, to.ID(), s.book.BalanceOf(s.id)); err != nil {
		return err
	}
	s.SetLocked(nil)
	return nil
}

// EstimatedTotalAssets returns the unit's balance
func (s *Simulated) EstimatedTotalAssets(ctx context.Context) (*uint256.Int, error) {
	if err := s.enter(ctx, CallEstimate); err != nil {
		return nil, err
	}
	return s.book.BalanceOf(s.id), nil
}
