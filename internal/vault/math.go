package vault

import (
	"github.com/holiman/uint256"

	"github.com/yield-vault/internal/types"
)

var maxBPS = uint256.NewInt(types.MaxBPS)

func zero() *uint256.Int { return new(uint256.Int) }

// orZero returns a private copy of x, or zero when x is nil
func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func minOf(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// subFloor returns a-b, or zero when b > a
func subFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// addSat returns a+b clamped to the maximum amount
func addSat(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return z
}

// mulDiv returns x*y/d with a full-width intermediate. ok is false on overflow or d == 0.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, bool) {
	if d.IsZero() {
		return nil, false
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	return z, !overflow
}

// portion returns amount*bps/10_000; bps above 10_000 is clamped
func portion(amount *uint256.Int, bps uint64) *uint256.Int {
	if bps > types.MaxBPS {
		bps = types.MaxBPS
	}
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), maxBPS)
	return z
}

// pow10 returns 10^n
func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
