package domain

import (
	"fmt"
	"strconv"
)

// ValueKind tags a call argument or result value.
type ValueKind string

const (
	KindUint      ValueKind = "uint"
	KindBool      ValueKind = "bool"
	KindPrincipal ValueKind = "principal"
	KindASCII     ValueKind = "ascii"
)

// Value is a typed argument or result. Raw holds the canonical textual form
// so values survive JSON and database round-trips without precision loss.
type Value struct {
	Kind ValueKind `json:"type"`
	Raw  string    `json:"value"`
}

func Uint(v uint64) Value { return Value{Kind: KindUint, Raw: strconv.FormatUint(v, 10)} }

func Bool(v bool) Value { return Value{Kind: KindBool, Raw: strconv.FormatBool(v)} }

func PrincipalValue(p Principal) Value { return Value{Kind: KindPrincipal, Raw: string(p)} }

func ASCII(s string) Value { return Value{Kind: KindASCII, Raw: s} }

// AsUint returns the value as uint64 or ErrInvalidArguments.
func (v Value) AsUint() (uint64, error) {
	if v.Kind != KindUint {
		return 0, ErrInvalidArguments
	}
	n, err := strconv.ParseUint(v.Raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidArguments
	}
	return n, nil
}

// AsPrincipal returns the value as a validated Principal.
func (v Value) AsPrincipal() (Principal, error) {
	if v.Kind != KindPrincipal {
		return "", ErrInvalidArguments
	}
	p := Principal(v.Raw)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// AsASCII returns the value as a printable ASCII string no longer than max.
func (v Value) AsASCII(max int) (string, error) {
	if v.Kind != KindASCII || len(v.Raw) > max {
		return "", ErrInvalidArguments
	}
	for i := 0; i < len(v.Raw); i++ {
		if v.Raw[i] < ' ' || v.Raw[i] > '~' {
			return "", ErrInvalidArguments
		}
	}
	return v.Raw, nil
}

// String renders the value in the ledger's literal syntax: u100, true,
// 'ST1..., "CALL".
func (v Value) String() string {
	switch v.Kind {
	case KindUint:
		return "u" + v.Raw
	case KindBool:
		return v.Raw
	case KindPrincipal:
		return "'" + v.Raw
	case KindASCII:
		return strconv.Quote(v.Raw)
	default:
		return fmt.Sprintf("<%s %s>", v.Kind, v.Raw)
	}
}

// Result is the outcome of a call: (ok value) or (err uCODE).
type Result struct {
	Ok    bool  `json:"ok"`
	Value Value `json:"value"`
}

// OkResult wraps a success value.
func OkResult(v Value) Result { return Result{Ok: true, Value: v} }

// ErrResult wraps a contract failure code.
func ErrResult(e *ContractError) Result {
	return Result{Ok: false, Value: Uint(uint64(e.Code))}
}

func (r Result) String() string {
	if r.Ok {
		return "(ok " + r.Value.String() + ")"
	}
	return "(err " + r.Value.String() + ")"
}
