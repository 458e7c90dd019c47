package vault

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
)

// GainLoss is a strategy unit's read-only view of its position against the debt it owes.
// Free is the part of the unit's assets it can hand back without unwinding positions.
type GainLoss struct {
	Gain *uint256.Int
	Loss *uint256.Int
	Free *uint256.Int
}

// Strategy is an external unit that puts borrowed capital to work.
//
// The vault never inspects a unit's internals. Every method may block and must honor ctx.
type Strategy interface {
	ID() common.Address
	// ReportGainLoss compares the unit's assets with debt, the amount the vault has lent it
	ReportGainLoss(ctx context.Context, debt *uint256.Int) (GainLoss, error)
	// Invest tells the unit that amount has been moved to it and should be deployed
	Invest(ctx context.Context, amount *uint256.Int) error
	// Divest frees up to amount and reports how much is ready to be moved back
	Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
	// EmergencyDivestAll unwinds everything and reports how much is ready to be moved back
	EmergencyDivestAll(ctx context.Context) (*uint256.Int, error)
	// TransferPositionTo hands the whole position to another unit
	TransferPositionTo(ctx context.Context, to Strategy) error
	EstimatedTotalAssets(ctx context.Context) (*uint256.Int, error)
}

// Describer is implemented by units that can be rebuilt from a stored definition.
// Snapshots record the definition so a restart can recreate the unit.
type Describer interface {
	Definition() (kind types.StrategyKind, endpoint string)
}

// ValueTransfer moves units of the underlying asset between accounts
type ValueTransfer interface {
	MoveValue(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Clock supplies report timestamps
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
