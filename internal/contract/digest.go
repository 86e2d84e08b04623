package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

type digestAccount struct {
	Owner   string
	Balance uint64
}

type digestOption struct {
	ID              uint64
	Holder          string
	Writer          string
	Type            uint8
	Strike          uint64
	Expiry          uint64
	Notional        uint64
	Locked          uint64
	Status          string
	CreatedHeight   uint64
	SettledHeight   uint64
	SettlementPrice uint64
	Payoff          uint64
}

type digestNonce struct {
	Sender string
	Nonce  uint64
}

type digestState struct {
	Owner        string
	Updater      string
	Price        uint64
	PriceHeight  uint64
	Deposited    uint64
	PaidOut      uint64
	NextOptionID uint64
	Height       uint64
	Accounts     []digestAccount
	Options      []digestOption
	Nonces       []digestNonce
}

// Digest is keccak256 over the canonical RLP encoding of the state.
// Accounts and nonces are ordered by principal and options by id.
func (c *Contract) Digest() (common.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return stateDigest(c.state)
}

func stateDigest(s *State) (common.Hash, error) {
	ds := digestState{
		Owner:        s.Owner.String(),
		Updater:      s.Oracle.Updater.String(),
		Price:        s.Oracle.Price,
		PriceHeight:  s.Oracle.UpdatedHeight,
		Deposited:    s.Totals.Deposited,
		PaidOut:      s.Totals.PaidOut,
		NextOptionID: s.NextOptionID(),
		Height:       s.Height,
		Accounts:     []digestAccount{},
		Options:      make([]digestOption, 0, len(s.Options)),
		Nonces:       make([]digestNonce, 0, len(s.Nonces)),
	}
	for _, a := range s.sortedAccounts() {
		ds.Accounts = append(ds.Accounts, digestAccount{Owner: a.Owner.String(), Balance: a.Balance})
	}
	for _, o := range s.Options {
		ds.Options = append(ds.Options, digestOption{
			ID:              o.ID,
			Holder:          o.Holder.String(),
			Writer:          o.Writer.String(),
			Type:            uint8(o.Type),
			Strike:          o.Strike,
			Expiry:          o.Expiry,
			Notional:        o.Notional,
			Locked:          o.CollateralLocked,
			Status:          string(o.Status),
			CreatedHeight:   o.CreatedHeight,
			SettledHeight:   o.SettledHeight,
			SettlementPrice: o.SettlementPrice,
			Payoff:          o.Payoff,
		})
	}
	for _, n := range s.sortedNonces() {
		ds.Nonces = append(ds.Nonces, digestNonce{Sender: n.Sender.String(), Nonce: n.Nonce})
	}
	enc, err := rlp.EncodeToBytes(ds)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contract: encode state: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}
