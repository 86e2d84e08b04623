package domain

import "time"

// Block is one ordered batch of calls applied at a single height.
type Block struct {
	Height       uint64    `json:"height"`
	ParentHash   string    `json:"parent_hash"`
	Hash         string    `json:"hash"`
	StateDigest  string    `json:"state_digest"`
	ReceiptsRoot string    `json:"receipts_root"`
	MinedAt      time.Time `json:"mined_at"`
	Expired      []uint64  `json:"expired,omitempty"`
	Events       []Event   `json:"events,omitempty"`
	Receipts     []Receipt `json:"receipts"`
}

// Snapshot is the full contract state at a block boundary.
type Snapshot struct {
	Owner        Principal           `json:"owner"`
	Oracle       OracleState         `json:"oracle"`
	Accounts     []CollateralAccount `json:"accounts"`
	Options      []Option            `json:"options"`
	Nonces       []SenderNonce       `json:"nonces,omitempty"`
	NextOptionID uint64              `json:"next_option_id"`
	Totals       Totals              `json:"totals"`
	Height       uint64              `json:"height"`
	BlockHash    string              `json:"block_hash"`
}

// StateDiff carries the records touched since the previous block. Scalar
// contract fields are always included.
type StateDiff struct {
	Owner        Principal
	Oracle       OracleState
	NextOptionID uint64
	Totals       Totals
	Accounts     []CollateralAccount
	Options      []Option
	Nonces       []SenderNonce
}
