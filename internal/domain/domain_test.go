package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_String(t *testing.T) {
	assert.Equal(t, "(ok true)", OkResult(Bool(true)).String())
	assert.Equal(t, "(ok u0)", OkResult(Uint(0)).String())
	assert.Equal(t, "(err u107)", ErrResult(ErrInsufficientCollateral).String())
	assert.Equal(t, `(ok "CALL")`, OkResult(ASCII("CALL")).String())
	assert.Equal(t, "(ok 'ST1PQ)", OkResult(PrincipalValue("ST1PQ")).String())
}

func TestValue_Accessors(t *testing.T) {
	n, err := Uint(42).AsUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	_, err = Bool(true).AsUint()
	assert.ErrorIs(t, err, ErrInvalidArguments)
	_, err = Value{Kind: KindUint, Raw: "18446744073709551616"}.AsUint()
	assert.ErrorIs(t, err, ErrInvalidArguments)

	p, err := PrincipalValue("ST1PQ").AsPrincipal()
	require.NoError(t, err)
	assert.Equal(t, Principal("ST1PQ"), p)
	_, err = PrincipalValue("a b").AsPrincipal()
	assert.ErrorIs(t, err, ErrInvalidPrincipal)

	_, err = ASCII("CALLS").AsASCII(4)
	assert.ErrorIs(t, err, ErrInvalidArguments)
	_, err = ASCII("C\x00LL").AsASCII(4)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestValue_JSON(t *testing.T) {
	var call Call
	require.NoError(t, json.Unmarshal([]byte(`{
		"sender": "ST1PQ",
		"function": "create-option",
		"args": [{"type":"ascii","value":"CALL"},{"type":"uint","value":"35000"}],
		"nonce": 3
	}`), &call))
	assert.Equal(t, Principal("ST1PQ"), call.Sender)
	require.Len(t, call.Args, 2)
	assert.Equal(t, ASCII("CALL"), call.Args[0])
	assert.Equal(t, Uint(35_000), call.Args[1])
	assert.Equal(t, uint64(3), call.Nonce)
}

func TestPrincipal_Validate(t *testing.T) {
	assert.NoError(t, Principal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM").Validate())
	assert.NoError(t, Principal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.bitcoin-options").Validate())
	assert.ErrorIs(t, Principal("").Validate(), ErrInvalidPrincipal)
	assert.ErrorIs(t, Principal("a\tb").Validate(), ErrInvalidPrincipal)
	assert.ErrorIs(t, Principal(strings.Repeat("S", 151)).Validate(), ErrInvalidPrincipal)
}

func TestParseOptionType(t *testing.T) {
	typ, err := ParseOptionType("CALL")
	require.NoError(t, err)
	assert.Equal(t, OptionCall, typ)
	typ, err = ParseOptionType("PUT")
	require.NoError(t, err)
	assert.Equal(t, OptionPut, typ)

	for _, s := range []string{"call", "PUT ", "CALL\x00", "", "P"} {
		_, err := ParseOptionType(s)
		assert.ErrorIs(t, err, ErrInvalidOptionType, "%q", s)
	}

	b, err := json.Marshal(Option{Type: OptionPut, Status: OptionOpen})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"option_type":"PUT"`)

	var o Option
	require.NoError(t, json.Unmarshal(b, &o))
	assert.Equal(t, OptionPut, o.Type)
}

func TestContractError_Matching(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", ErrTransferFailed)
	assert.True(t, errors.Is(wrapped, ErrTransferFailed))
	assert.Equal(t, ErrTransferFailed, AsContractError(wrapped))
	assert.Equal(t, ErrCollateralInvariantBroken, AsContractError(errors.New("boom")))

	assert.Equal(t, "not-holder (u106)", ErrNotHolder.Error())
}

func TestOptionFilter_Match(t *testing.T) {
	o := Option{Holder: "A", Type: OptionCall, Status: OptionOpen}
	assert.True(t, OptionFilter{}.Match(o))
	assert.True(t, OptionFilter{Holder: "A", Status: OptionOpen, Type: OptionCall}.Match(o))
	assert.False(t, OptionFilter{Holder: "B"}.Match(o))
	assert.False(t, OptionFilter{Status: OptionExpired}.Match(o))
	assert.False(t, OptionFilter{Type: OptionPut}.Match(o))
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventDeposited, "account", "A", "amount", "5")
	assert.Equal(t, map[string]string{"account": "A", "amount": "5"}, e.Attributes)
	assert.Nil(t, NewEvent(EventBlockMined).Attributes)
}
