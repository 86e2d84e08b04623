package contract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

type transferKind uint8

const (
	transferDebit transferKind = iota + 1
	transferCredit
)

// transfer is a custody movement deferred to commit time.
type transfer struct {
	kind    transferKind
	account domain.Principal
	amount  uint64
}

func (tr transfer) apply(ctx context.Context, c domain.Custody) error {
	if tr.kind == transferDebit {
		return c.Debit(ctx, tr.account, tr.amount)
	}
	return c.Credit(ctx, tr.account, tr.amount)
}

func (tr transfer) undo(ctx context.Context, c domain.Custody) error {
	if tr.kind == transferDebit {
		return c.Credit(ctx, tr.account, tr.amount)
	}
	return c.Debit(ctx, tr.account, tr.amount)
}

// txn is a copy-on-write overlay over State. Handlers read and write the
// overlay only; nothing reaches State until commit succeeds.
type txn struct {
	base *State

	oracle    domain.OracleState
	totals    domain.Totals
	accounts  map[domain.Principal]uint64
	options   map[uint64]domain.Option
	created   []domain.Option
	transfers []transfer
	events    []domain.Event
}

func newTxn(base *State) *txn {
	return &txn{
		base:     base,
		oracle:   base.Oracle,
		totals:   base.Totals,
		accounts: make(map[domain.Principal]uint64),
		options:  make(map[uint64]domain.Option),
	}
}

func (t *txn) height() uint64 { return t.base.Height }

func (t *txn) balance(p domain.Principal) uint64 {
	if v, ok := t.accounts[p]; ok {
		return v
	}
	return t.base.Accounts[p]
}

func (t *txn) setBalance(p domain.Principal, v uint64) { t.accounts[p] = v }

func (t *txn) nextOptionID() uint64 {
	return uint64(len(t.base.Options) + len(t.created))
}

func (t *txn) option(id uint64) (domain.Option, bool) {
	if o, ok := t.options[id]; ok {
		return o, true
	}
	n := uint64(len(t.base.Options))
	if id < n {
		return t.base.Options[id], true
	}
	if id-n < uint64(len(t.created)) {
		return t.created[id-n], true
	}
	return domain.Option{}, false
}

func (t *txn) putOption(o domain.Option) {
	n := uint64(len(t.base.Options))
	if o.ID >= n {
		t.created[o.ID-n] = o
		return
	}
	t.options[o.ID] = o
}

// createOption assigns the next id and stages the record.
func (t *txn) createOption(o domain.Option) uint64 {
	o.ID = t.nextOptionID()
	t.created = append(t.created, o)
	return o.ID
}

func (t *txn) debitExternal(p domain.Principal, amount uint64) {
	t.transfers = append(t.transfers, transfer{kind: transferDebit, account: p, amount: amount})
}

func (t *txn) creditExternal(p domain.Principal, amount uint64) {
	t.transfers = append(t.transfers, transfer{kind: transferCredit, account: p, amount: amount})
}

func (t *txn) emit(e domain.Event) { t.events = append(t.events, e) }

// commit runs the staged custody transfers in order. If one fails the
// already executed ones are reversed and State is left untouched.
func (t *txn) commit(ctx context.Context, custody domain.Custody, logger *slog.Logger, d *dirtySet) error {
	for i, tr := range t.transfers {
		if err := tr.apply(ctx, custody); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := t.transfers[j]
				if uerr := prev.undo(ctx, custody); uerr != nil {
					logger.ErrorContext(ctx, "custody compensation failed",
						slog.String("account", prev.account.String()),
						slog.Uint64("amount", prev.amount),
						slog.String("error", uerr.Error()),
					)
				}
			}
			return fmt.Errorf("contract: custody transfer for %s: %w: %w", tr.account, domain.ErrTransferFailed, err)
		}
	}
	t.apply(d)
	return nil
}

func (t *txn) apply(d *dirtySet) {
	b := t.base
	b.Oracle = t.oracle
	b.Totals = t.totals
	for p, v := range t.accounts {
		b.Accounts[p] = v
		d.accounts[p] = struct{}{}
	}
	for id, o := range t.options {
		b.Options[id] = o
		d.options[id] = struct{}{}
		if o.Status != domain.OptionOpen {
			delete(b.open, id)
		}
	}
	for _, o := range t.created {
		b.Options = append(b.Options, o)
		d.options[o.ID] = struct{}{}
		if o.Status == domain.OptionOpen {
			b.open[o.ID] = struct{}{}
		}
	}
}

// dirtySet accumulates the records touched since the last TakeDiff.
type dirtySet struct {
	accounts map[domain.Principal]struct{}
	options  map[uint64]struct{}
	nonces   map[domain.Principal]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		accounts: make(map[domain.Principal]struct{}),
		options:  make(map[uint64]struct{}),
		nonces:   make(map[domain.Principal]struct{}),
	}
}
