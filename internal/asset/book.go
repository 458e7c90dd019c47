// Package asset keeps balances of the underlying asset per account and moves value
// between them. It backs the vault's value transfers in-process.
package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/yield-vault/internal/errors"
)

// Book is a concurrency-safe balance sheet
type Book struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

// MoveValue transfers amount from one account to another
func (b *Book) MoveValue(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balance(from)
	if src.Lt(amount) {
		return apperrors.NewInsufficientFundsError(from.Hex(), src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	src.Sub(src, amount)
	dst := b.balance(to)
	dst.Add(dst, amount)
	return nil
}

// Mint creates amount out of thin air in account
func (b *Book) Mint(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(b.supply, amount)
	if overflow {
		return apperrors.NewInvalidAmountError("amount", "overflows supply")
	}
	b.supply = supply
	bal := b.balance(account)
	bal.Add(bal, amount)
	return nil
}

// Burn destroys amount held by account
func (b *Book) Burn(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balance(account)
	if bal.Lt(amount) {
		return apperrors.NewInsufficientFundsError(account.Hex(), bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	b.supply.Sub(b.supply, amount)
	return nil
}

// BalanceOf returns a copy of account's balance
func (b *Book) BalanceOf(account common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Supply returns the sum of all balances
func (b *Book) Supply() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supply.Clone()
}

// balance must be called with mu held
func (b *Book) balance(account common.Address) *uint256.Int {
	bal, ok := b.balances[account]
	if !ok {
		bal = new(uint256.Int)
		b.balances[account] = bal
	}
	return bal
}
