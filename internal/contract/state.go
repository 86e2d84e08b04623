package contract

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// State is the whole contract state. It is owned by one Contract and only
// mutated through a committed txn.
type State struct {
	Owner    domain.Principal
	Oracle   domain.OracleState
	Accounts map[domain.Principal]uint64
	// Options is indexed by option id; ids are dense from 0.
	Options []domain.Option
	Totals  domain.Totals
	Height  uint64
	// Nonces holds the last executed nonce per sender.
	Nonces map[domain.Principal]uint64

	open map[uint64]struct{}
}

func newState(owner domain.Principal, initialPrice uint64) *State {
	return &State{
		Owner:    owner,
		Oracle:   domain.OracleState{Updater: owner, Price: initialPrice},
		Accounts: make(map[domain.Principal]uint64),
		Nonces:   make(map[domain.Principal]uint64),
		open:     make(map[uint64]struct{}),
	}
}

// stateFromSnapshot rebuilds a State and its open-option index.
func stateFromSnapshot(s domain.Snapshot) (*State, error) {
	if err := s.Owner.Validate(); err != nil {
		return nil, fmt.Errorf("contract: snapshot owner: %w", err)
	}
	st := newState(s.Owner, 0)
	st.Oracle = s.Oracle
	st.Totals = s.Totals
	st.Height = s.Height
	for _, a := range s.Accounts {
		st.Accounts[a.Owner] = a.Balance
	}
	for _, n := range s.Nonces {
		st.Nonces[n.Sender] = n.Nonce
	}

	opts := slices.Clone(s.Options)
	slices.SortFunc(opts, func(a, b domain.Option) int { return cmp.Compare(a.ID, b.ID) })
	for i, o := range opts {
		if o.ID != uint64(i) {
			return nil, fmt.Errorf("contract: snapshot option ids not dense at %d (got %d)", i, o.ID)
		}
		if o.Status == domain.OptionOpen {
			st.open[o.ID] = struct{}{}
		}
	}
	if uint64(len(opts)) != s.NextOptionID {
		return nil, fmt.Errorf("contract: snapshot next_option_id %d does not match %d options", s.NextOptionID, len(opts))
	}
	st.Options = opts
	return st, nil
}

// NextOptionID is the id the next successful create-option receives.
func (s *State) NextOptionID() uint64 { return uint64(len(s.Options)) }

func (s *State) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Owner:        s.Owner,
		Oracle:       s.Oracle,
		Options:      slices.Clone(s.Options),
		NextOptionID: s.NextOptionID(),
		Totals:       s.Totals,
		Height:       s.Height,
	}
	snap.Accounts = s.sortedAccounts()
	snap.Nonces = s.sortedNonces()
	return snap
}

func (s *State) sortedNonces() []domain.SenderNonce {
	out := make([]domain.SenderNonce, 0, len(s.Nonces))
	for p, n := range s.Nonces {
		out = append(out, domain.SenderNonce{Sender: p, Nonce: n})
	}
	slices.SortFunc(out, func(a, b domain.SenderNonce) int {
		return cmp.Compare(a.Sender, b.Sender)
	})
	return out
}

// checkNonce fails with domain.ErrStaleNonce unless nonce is above the last
// one p had executed. A sender's first call may carry any nonce.
func (s *State) checkNonce(p domain.Principal, nonce uint64) error {
	if last, ok := s.Nonces[p]; ok && nonce <= last {
		return fmt.Errorf("contract: nonce %d for %s (last %d): %w", nonce, p, last, domain.ErrStaleNonce)
	}
	return nil
}

func (s *State) useNonce(p domain.Principal, nonce uint64, d *dirtySet) {
	s.Nonces[p] = nonce
	d.nonces[p] = struct{}{}
}

func (s *State) sortedAccounts() []domain.CollateralAccount {
	out := make([]domain.CollateralAccount, 0, len(s.Accounts))
	for p, bal := range s.Accounts {
		out = append(out, domain.CollateralAccount{Owner: p, Balance: bal})
	}
	slices.SortFunc(out, func(a, b domain.CollateralAccount) int {
		return cmp.Compare(a.Owner, b.Owner)
	})
	return out
}

// openIDs returns the ids of open options in ascending order.
func (s *State) openIDs() []uint64 {
	ids := make([]uint64, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
