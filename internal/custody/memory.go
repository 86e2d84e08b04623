// Package custody provides sBTC custody vaults the contract debits and
// credits.
package custody

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// MemoryVault is an in-process custody ledger for simulation, tests and
// replay. It tracks wallet balances and the amount held for the contract.
type MemoryVault struct {
	mu        sync.Mutex
	wallets   map[domain.Principal]uint64
	held      uint64
	unlimited bool
}

// NewMemoryVault returns an empty vault. Wallets must be funded before
// they can deposit.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{wallets: make(map[domain.Principal]uint64)}
}

// NewUnlimitedVault returns a vault whose debits never fail for lack of
// funds. Replay uses it to re-apply archived blocks without wallet history.
func NewUnlimitedVault() *MemoryVault {
	v := NewMemoryVault()
	v.unlimited = true
	return v
}

// Fund adds amount to a wallet.
func (v *MemoryVault) Fund(account domain.Principal, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[account] += amount
}

// Debit moves amount from the wallet into contract custody.
func (v *MemoryVault) Debit(_ context.Context, account domain.Principal, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.wallets[account]
	if bal < amount {
		if !v.unlimited {
			return fmt.Errorf("custody: debit %s %d (balance %d): %w", account, amount, bal, domain.ErrInsufficient)
		}
		bal = amount
	}
	held, carry := bits.Add64(v.held, amount, 0)
	if carry != 0 {
		return fmt.Errorf("custody: debit %s: held overflow", account)
	}
	v.wallets[account] = bal - amount
	v.held = held
	return nil
}

// Credit pays amount out of contract custody to the wallet.
func (v *MemoryVault) Credit(_ context.Context, account domain.Principal, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held < amount {
		return fmt.Errorf("custody: credit %s %d (held %d): %w", account, amount, v.held, domain.ErrInsufficient)
	}
	v.held -= amount
	v.wallets[account] += amount
	return nil
}

// Balance returns the wallet balance.
func (v *MemoryVault) Balance(_ context.Context, account domain.Principal) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[account], nil
}

// Held returns the amount in contract custody.
func (v *MemoryVault) Held(context.Context) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held, nil
}

// SetHeld overwrites the held amount. A node restarting from persisted
// state uses it to line a fresh vault up with the restored ledger.
func (v *MemoryVault) SetHeld(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held = amount
}
