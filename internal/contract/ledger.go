package contract

import (
	"math/bits"
	"strconv"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// depositSBTC pulls amount from the caller's wallet into custody and
// credits the caller's collateral account. The wallet debit is staged and
// runs at commit.
func (c *Contract) depositSBTC(t *txn, caller domain.Principal, args []domain.Value) (domain.Value, error) {
	amount, err := args[0].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	if amount == 0 {
		return domain.Value{}, domain.ErrInvalidAmount
	}
	bal, carry := bits.Add64(t.balance(caller), amount, 0)
	if carry != 0 {
		return domain.Value{}, domain.ErrInvalidAmount
	}
	deposited, carry := bits.Add64(t.totals.Deposited, amount, 0)
	if carry != 0 {
		return domain.Value{}, domain.ErrInvalidAmount
	}

	t.setBalance(caller, bal)
	t.totals.Deposited = deposited
	t.debitExternal(caller, amount)
	t.emit(domain.NewEvent(domain.EventDeposited,
		"account", caller.String(),
		"amount", strconv.FormatUint(amount, 10),
		"balance", strconv.FormatUint(bal, 10),
	))
	return domain.Bool(true), nil
}

// reserve moves amount from owner's available balance into an option's
// locked collateral.
func reserve(t *txn, owner domain.Principal, amount uint64) error {
	bal := t.balance(owner)
	if bal < amount {
		return domain.ErrInsufficientCollateral
	}
	t.setBalance(owner, bal-amount)
	return nil
}

// releaseOrPay settles a terminated option: payoff goes to the holder's
// wallet and the rest of the locked collateral returns to the writer.
func releaseOrPay(t *txn, writer, holder domain.Principal, locked, payoff uint64) error {
	if payoff > locked {
		return domain.ErrCollateralInvariantBroken
	}
	residual := locked - payoff
	bal, carry := bits.Add64(t.balance(writer), residual, 0)
	if carry != 0 {
		return domain.ErrCollateralInvariantBroken
	}
	paid, carry := bits.Add64(t.totals.PaidOut, payoff, 0)
	if carry != 0 || paid > t.totals.Deposited {
		return domain.ErrCollateralInvariantBroken
	}

	t.setBalance(writer, bal)
	if payoff > 0 {
		t.totals.PaidOut = paid
		t.creditExternal(holder, payoff)
	}
	return nil
}
