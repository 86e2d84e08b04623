package domain

import "context"

// Custody is the external sBTC balance ledger. Debit moves funds from the
// account into contract custody; Credit pays out of custody to the account.
type Custody interface {
	Debit(ctx context.Context, account Principal, amount uint64) error
	Credit(ctx context.Context, account Principal, amount uint64) error
	Balance(ctx context.Context, account Principal) (uint64, error)
}

// CustodyReporter is implemented by vaults that can report the amount held
// on behalf of the contract.
type CustodyReporter interface {
	Held(ctx context.Context) (uint64, error)
}
