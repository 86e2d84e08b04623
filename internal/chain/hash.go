package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

type rlpValue struct {
	Kind string
	Raw  string
}

type rlpCall struct {
	Sender   string
	Function string
	Args     []rlpValue
	Nonce    uint64
}

type rlpReceipt struct {
	TxID   common.Hash
	Ok     bool
	Result rlpValue
}

type rlpHeader struct {
	Height       uint64
	ParentHash   common.Hash
	StateDigest  common.Hash
	ReceiptsRoot common.Hash
}

func toRLPValue(v domain.Value) rlpValue {
	return rlpValue{Kind: string(v.Kind), Raw: v.Raw}
}

// TxID is keccak256(rlp(sender, function, args, nonce)). The signature is
// not part of the id.
func TxID(call domain.Call) (common.Hash, error) {
	rc := rlpCall{
		Sender:   call.Sender.String(),
		Function: call.Function,
		Args:     make([]rlpValue, 0, len(call.Args)),
		Nonce:    call.Nonce,
	}
	for _, a := range call.Args {
		rc.Args = append(rc.Args, toRLPValue(a))
	}
	enc, err := rlp.EncodeToBytes(rc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: encode call: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// ReceiptsRoot commits to the ordered receipt outcomes of a block.
func ReceiptsRoot(receipts []domain.Receipt) (common.Hash, error) {
	list := make([]rlpReceipt, 0, len(receipts))
	for _, r := range receipts {
		list = append(list, rlpReceipt{
			TxID:   common.HexToHash(r.TxID),
			Ok:     r.Result.Ok,
			Result: toRLPValue(r.Result.Value),
		})
	}
	enc, err := rlp.EncodeToBytes(list)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: encode receipts: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// BlockHash is keccak256(rlp(height, parent, state digest, receipts root)).
// The mining timestamp is excluded so replays reproduce the same hash.
func BlockHash(height uint64, parent, digest, receiptsRoot common.Hash) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(rlpHeader{
		Height:       height,
		ParentHash:   parent,
		StateDigest:  digest,
		ReceiptsRoot: receiptsRoot,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: encode header: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}
