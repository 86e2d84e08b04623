package contract

import (
	"strconv"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// createOption validates the terms, reserves collateral from the caller and
// records a new open option. Validation precedes every write.
func (c *Contract) createOption(t *txn, caller domain.Principal, args []domain.Value) (domain.Value, error) {
	raw, err := args[0].AsASCII(4)
	if err != nil {
		return domain.Value{}, domain.ErrInvalidOptionType
	}
	typ, err := domain.ParseOptionType(raw)
	if err != nil {
		return domain.Value{}, err
	}
	strike, err := args[1].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	expiry, err := args[2].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	notional, err := args[3].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	if strike == 0 || notional == 0 {
		return domain.Value{}, domain.ErrInvalidAmount
	}
	if expiry <= t.height() {
		return domain.Value{}, domain.ErrInvalidExpiry
	}

	required, ok := c.params.RequiredCollateral(typ, strike, notional)
	if !ok {
		return domain.Value{}, domain.ErrInsufficientCollateral
	}
	if err := reserve(t, caller, required); err != nil {
		return domain.Value{}, err
	}

	id := t.createOption(domain.Option{
		Holder:           caller,
		Writer:           caller,
		Type:             typ,
		Strike:           strike,
		Expiry:           expiry,
		Notional:         notional,
		CollateralLocked: required,
		Status:           domain.OptionOpen,
		CreatedHeight:    t.height(),
	})
	t.emit(domain.NewEvent(domain.EventOptionCreated,
		"id", strconv.FormatUint(id, 10),
		"holder", caller.String(),
		"type", typ.String(),
		"strike", strconv.FormatUint(strike, 10),
		"expiry", strconv.FormatUint(expiry, 10),
		"amount", strconv.FormatUint(notional, 10),
		"collateral", strconv.FormatUint(required, 10),
	))
	return domain.Uint(id), nil
}

// exerciseOption settles an open option at the current oracle price.
// Out-of-the-money exercise succeeds with a zero payoff. An option swept by
// BeginBlock reports Expired, not AlreadySettled.
func (c *Contract) exerciseOption(t *txn, caller domain.Principal, args []domain.Value) (domain.Value, error) {
	id, err := args[0].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	o, ok := t.option(id)
	if !ok {
		return domain.Value{}, domain.ErrOptionNotFound
	}
	if caller != o.Holder {
		return domain.Value{}, domain.ErrNotHolder
	}
	switch {
	case o.Status == domain.OptionExpired:
		return domain.Value{}, domain.ErrExpired
	case o.Status != domain.OptionOpen:
		return domain.Value{}, domain.ErrAlreadySettled
	case t.height() >= o.Expiry:
		return domain.Value{}, domain.ErrExpired
	}

	price := t.oracle.Price
	payoff := c.params.Payoff(o.Type, o.Strike, price, o.Notional, o.CollateralLocked)
	if err := releaseOrPay(t, o.Writer, o.Holder, o.CollateralLocked, payoff); err != nil {
		return domain.Value{}, err
	}

	o.Status = domain.OptionExercised
	o.SettledHeight = t.height()
	o.SettlementPrice = price
	o.Payoff = payoff
	t.putOption(o)
	t.emit(domain.NewEvent(domain.EventOptionExercised,
		"id", strconv.FormatUint(id, 10),
		"holder", o.Holder.String(),
		"price", strconv.FormatUint(price, 10),
		"payoff", strconv.FormatUint(payoff, 10),
	))
	return domain.Bool(true), nil
}

func expire(t *txn, o domain.Option) error {
	if err := releaseOrPay(t, o.Writer, o.Holder, o.CollateralLocked, 0); err != nil {
		return err
	}
	o.Status = domain.OptionExpired
	o.SettledHeight = t.height()
	t.putOption(o)
	t.emit(domain.NewEvent(domain.EventOptionExpired,
		"id", strconv.FormatUint(o.ID, 10),
		"writer", o.Writer.String(),
		"released", strconv.FormatUint(o.CollateralLocked, 10),
	))
	return nil
}

// expireDue expires every open option with expiry <= the txn height and
// returns their ids in ascending order.
func expireDue(t *txn) ([]uint64, error) {
	var expired []uint64
	for _, id := range t.base.openIDs() {
		o, _ := t.option(id)
		if o.Expiry > t.height() {
			continue
		}
		if err := expire(t, o); err != nil {
			return nil, err
		}
		expired = append(expired, id)
	}
	return expired, nil
}
