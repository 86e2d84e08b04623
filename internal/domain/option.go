package domain

import "fmt"

// OptionType is the closed set of supported option kinds.
type OptionType uint8

const (
	OptionCall OptionType = iota + 1
	OptionPut
)

// ParseOptionType accepts exactly "CALL" or "PUT". Any other encoding,
// including lowercase or padded forms, is ErrInvalidOptionType.
func ParseOptionType(s string) (OptionType, error) {
	switch s {
	case "CALL":
		return OptionCall, nil
	case "PUT":
		return OptionPut, nil
	default:
		return 0, ErrInvalidOptionType
	}
}

func (t OptionType) String() string {
	switch t {
	case OptionCall:
		return "CALL"
	case OptionPut:
		return "PUT"
	default:
		return fmt.Sprintf("OptionType(%d)", uint8(t))
	}
}

func (t OptionType) MarshalText() ([]byte, error) {
	if t != OptionCall && t != OptionPut {
		return nil, ErrInvalidOptionType
	}
	return []byte(t.String()), nil
}

func (t *OptionType) UnmarshalText(b []byte) error {
	v, err := ParseOptionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OptionStatus tracks the option lifecycle. Exercised and Expired are
// terminal.
type OptionStatus string

const (
	OptionOpen      OptionStatus = "open"
	OptionExercised OptionStatus = "exercised"
	OptionExpired   OptionStatus = "expired"
)

// Option is a single issued contract. Amounts are in satoshi; Expiry and
// the *Height fields are block heights.
type Option struct {
	ID               uint64       `json:"id"`
	Holder           Principal    `json:"holder"`
	Writer           Principal    `json:"writer"`
	Type             OptionType   `json:"option_type"`
	Strike           uint64       `json:"strike_price"`
	Expiry           uint64       `json:"expiry"`
	Notional         uint64       `json:"notional_amount"`
	CollateralLocked uint64       `json:"collateral_locked"`
	Status           OptionStatus `json:"status"`
	CreatedHeight    uint64       `json:"created_height"`
	SettledHeight    uint64       `json:"settled_height,omitempty"`
	SettlementPrice  uint64       `json:"settlement_price,omitempty"`
	Payoff           uint64       `json:"payoff,omitempty"`
}

// OptionFilter narrows option listings. Zero values match everything.
type OptionFilter struct {
	Holder Principal
	Status OptionStatus
	Type   OptionType
	Limit  int
	Offset int
}

// Match reports whether o passes the filter's predicates (paging excluded).
func (f OptionFilter) Match(o Option) bool {
	if f.Holder != "" && o.Holder != f.Holder {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Type != 0 && o.Type != f.Type {
		return false
	}
	return true
}
