package contract

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// CheckInvariants verifies the conservation law
//
//	sum(balances) + sum(locked of open options) == deposited - paid_out
//
// together with per-option consistency. Any violation wraps
// domain.ErrCollateralInvariantBroken.
func (c *Contract) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return checkState(c.state)
}

func checkState(s *State) error {
	broken := func(format string, args ...any) error {
		return fmt.Errorf("contract: %s: %w", fmt.Sprintf(format, args...), domain.ErrCollateralInvariantBroken)
	}

	if s.Totals.PaidOut > s.Totals.Deposited {
		return broken("paid out %d exceeds deposited %d", s.Totals.PaidOut, s.Totals.Deposited)
	}

	held := new(uint256.Int)
	for _, bal := range s.Accounts {
		held.AddUint64(held, bal)
	}

	open := 0
	for i, o := range s.Options {
		if o.ID != uint64(i) {
			return broken("option at index %d has id %d", i, o.ID)
		}
		switch o.Status {
		case domain.OptionOpen:
			if _, ok := s.open[o.ID]; !ok {
				return broken("open option %d missing from index", o.ID)
			}
			open++
			held.AddUint64(held, o.CollateralLocked)
		case domain.OptionExercised:
			if o.Payoff > o.CollateralLocked {
				return broken("option %d payoff %d exceeds locked %d", o.ID, o.Payoff, o.CollateralLocked)
			}
		case domain.OptionExpired:
			if o.Payoff != 0 {
				return broken("expired option %d has payoff %d", o.ID, o.Payoff)
			}
		default:
			return broken("option %d has unknown status %q", o.ID, o.Status)
		}
	}
	if open != len(s.open) {
		return broken("open index has %d entries, %d options are open", len(s.open), open)
	}

	want := uint256.NewInt(s.Totals.Deposited - s.Totals.PaidOut)
	if !held.Eq(want) {
		return broken("held %s != deposited-paid %s", held.Dec(), want.Dec())
	}
	return nil
}

// CheckCustody compares the amount the custody vault holds for the
// contract with deposited - paid_out. Vaults that cannot report a held
// amount are skipped.
func (c *Contract) CheckCustody(ctx context.Context) error {
	rep, ok := c.custody.(domain.CustodyReporter)
	if !ok {
		return nil
	}
	held, err := rep.Held(ctx)
	if err != nil {
		return fmt.Errorf("contract: custody held: %w", err)
	}
	t := c.Totals()
	if want := t.Deposited - t.PaidOut; held != want {
		return fmt.Errorf("contract: custody holds %d, ledger expects %d: %w", held, want, domain.ErrCollateralInvariantBroken)
	}
	return nil
}
