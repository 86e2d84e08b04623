package contract

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

const bpsDenominator = 10_000

// Params are the economic constants of the contract. Prices are quoted in
// units of 1/PriceScale satoshi per satoshi of notional.
type Params struct {
	PriceScale        uint64
	CallCollateralBps uint64
	PutCollateralBps  uint64
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		PriceScale:        100,
		CallCollateralBps: 10_000,
		PutCollateralBps:  10_000,
	}
}

// Validate rejects parameters that would allow an undercollateralized PUT
// or a zero divisor.
func (p Params) Validate() error {
	if p.PriceScale == 0 {
		return fmt.Errorf("contract: price_scale must be > 0")
	}
	if p.CallCollateralBps == 0 {
		return fmt.Errorf("contract: call_collateral_bps must be > 0")
	}
	if p.PutCollateralBps < bpsDenominator {
		return fmt.Errorf("contract: put_collateral_bps must be >= %d", bpsDenominator)
	}
	return nil
}

func (p Params) bps(t domain.OptionType) uint64 {
	if t == domain.OptionPut {
		return p.PutCollateralBps
	}
	return p.CallCollateralBps
}

// RequiredCollateral returns
//
//	ceil(strike * notional * bps / (PriceScale * 10000))
//
// ok is false when the result does not fit in 64 bits.
func (p Params) RequiredCollateral(t domain.OptionType, strike, notional uint64) (required uint64, ok bool) {
	num := new(uint256.Int).Mul(uint256.NewInt(strike), uint256.NewInt(notional))
	num.Mul(num, uint256.NewInt(p.bps(t)))

	den := new(uint256.Int).Mul(uint256.NewInt(p.PriceScale), uint256.NewInt(bpsDenominator))

	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, den, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, false
	}
	return q.Uint64(), true
}

// IntrinsicValue is the unbounded payoff floor(max(0, diff) * notional /
// PriceScale), where diff is price-strike for a CALL and strike-price for a
// PUT. Results wider than 64 bits saturate.
func (p Params) IntrinsicValue(t domain.OptionType, strike, price, notional uint64) uint64 {
	var diff uint64
	switch t {
	case domain.OptionCall:
		if price > strike {
			diff = price - strike
		}
	case domain.OptionPut:
		if strike > price {
			diff = strike - price
		}
	}
	if diff == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(diff), uint256.NewInt(notional))
	v.Div(v, uint256.NewInt(p.PriceScale))
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// Payoff caps the intrinsic value at the locked collateral.
func (p Params) Payoff(t domain.OptionType, strike, price, notional, locked uint64) uint64 {
	return min(p.IntrinsicValue(t, strike, price, notional), locked)
}
