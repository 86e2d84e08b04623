package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadSignature  = errors.New("bad signature")
	ErrMempoolFull   = errors.New("mempool full")
	ErrDuplicateTx   = errors.New("duplicate transaction")
	ErrStaleNonce    = errors.New("stale nonce")
	ErrChainHalted   = errors.New("chain halted")
	ErrLockHeld      = errors.New("lock already held")
	ErrInsufficient  = errors.New("insufficient external balance")
)

// ContractError is a typed failure returned by a contract call. Code is the
// unsigned error code rendered in receipts as (err uCODE).
type ContractError struct {
	Code uint32
	Name string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s (u%d)", e.Name, e.Code)
}

var (
	ErrNotAuthorized             = &ContractError{Code: 100, Name: "not-authorized"}
	ErrTransferFailed            = &ContractError{Code: 101, Name: "transfer-failed"}
	ErrInvalidOptionType         = &ContractError{Code: 102, Name: "invalid-option-type"}
	ErrInvalidExpiry             = &ContractError{Code: 103, Name: "invalid-expiry"}
	ErrInvalidAmount             = &ContractError{Code: 104, Name: "invalid-amount"}
	ErrOptionNotFound            = &ContractError{Code: 105, Name: "option-not-found"}
	ErrNotHolder                 = &ContractError{Code: 106, Name: "not-holder"}
	ErrInsufficientCollateral    = &ContractError{Code: 107, Name: "insufficient-collateral"}
	ErrAlreadySettled            = &ContractError{Code: 108, Name: "already-settled"}
	ErrExpired                   = &ContractError{Code: 109, Name: "expired"}
	ErrInvalidArguments          = &ContractError{Code: 111, Name: "invalid-arguments"}
	ErrUnknownFunction           = &ContractError{Code: 112, Name: "unknown-function"}
	ErrInvalidPrincipal          = &ContractError{Code: 113, Name: "invalid-principal"}
	ErrNonceReused               = &ContractError{Code: 114, Name: "nonce-reused"}
	ErrCollateralInvariantBroken = &ContractError{Code: 999, Name: "collateral-invariant-broken"}
)

// AsContractError unwraps err into a *ContractError. Errors that carry no
// contract code are reported as ErrCollateralInvariantBroken because the
// engine only ever returns typed failures.
func AsContractError(err error) *ContractError {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrCollateralInvariantBroken
}
