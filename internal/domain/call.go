package domain

// Public contract functions.
const (
	FnSetOracleAddress = "set-oracle-address"
	FnUpdateBTCPrice   = "update-btc-price"
	FnDepositSBTC      = "deposit-sbtc"
	FnCreateOption     = "create-option"
	FnExerciseOption   = "exercise-option"
)

// Call is a single contract invocation as submitted to the node.
type Call struct {
	Sender    Principal `json:"sender"`
	Function  string    `json:"function"`
	Args      []Value   `json:"args"`
	Nonce     uint64    `json:"nonce"`
	Signature string    `json:"signature,omitempty"` // 0x-prefixed 65-byte hex
}

// SenderNonce is the last nonce a sender had executed. A later call from
// the same sender must carry a strictly greater nonce.
type SenderNonce struct {
	Sender Principal `json:"sender"`
	Nonce  uint64    `json:"nonce"`
}

// Receipt records the outcome of one call inside a block.
type Receipt struct {
	Height  uint64  `json:"height"`
	TxIndex int     `json:"tx_index"`
	TxID    string  `json:"tx_id"`
	Call    Call    `json:"call"`
	Result  Result  `json:"result"`
	Events  []Event `json:"events,omitempty"`
}
