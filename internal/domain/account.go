package domain

// CollateralAccount is a principal's available (unlocked) collateral.
type CollateralAccount struct {
	Owner   Principal `json:"owner"`
	Balance uint64    `json:"balance"`
}

// OracleState holds the authorized price updater and the latest price.
type OracleState struct {
	Updater       Principal `json:"authorized_updater"`
	Price         uint64    `json:"current_price"`
	UpdatedHeight uint64    `json:"updated_height"`
}

// Totals are the contract-wide counters used by the conservation check:
// sum(balances) + sum(locked in open options) == Deposited - PaidOut.
type Totals struct {
	Deposited uint64 `json:"total_deposited"`
	PaidOut   uint64 `json:"total_paid_out"`
}
