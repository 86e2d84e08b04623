// Package contract implements the sBTC options contract: oracle, collateral
// ledger, option book and settlement, applied one call at a time.
package contract

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// handler executes one function against a txn. Arguments have already been
// checked for count and kind, and the caller for its role.
type handler func(t *txn, caller domain.Principal, args []domain.Value) (domain.Value, error)

type route struct {
	role  Role
	kinds []domain.ValueKind
	fn    handler
}

func (r route) accepts(args []domain.Value) bool {
	if len(args) != len(r.kinds) {
		return false
	}
	for i, a := range args {
		if a.Kind != r.kinds[i] {
			return false
		}
	}
	return true
}

// Config configures a fresh contract.
type Config struct {
	Owner        domain.Principal
	InitialPrice uint64
	Params       Params
}

// Contract owns the contract state and serializes every call behind one
// lock.
type Contract struct {
	mu      sync.RWMutex
	params  Params
	state   *State
	dirty   *dirtySet
	custody domain.Custody
	routes  map[string]route
	logger  *slog.Logger
}

// New deploys a fresh contract owned by cfg.Owner. The oracle updater starts
// as the owner.
func New(cfg Config, custody domain.Custody, logger *slog.Logger) (*Contract, error) {
	if err := cfg.Owner.Validate(); err != nil {
		return nil, fmt.Errorf("contract: owner: %w", err)
	}
	return newContract(newState(cfg.Owner, cfg.InitialPrice), cfg.Params, custody, logger)
}

// Restore rebuilds a contract from a persisted snapshot.
func Restore(snap domain.Snapshot, params Params, custody domain.Custody, logger *slog.Logger) (*Contract, error) {
	st, err := stateFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return newContract(st, params, custody, logger)
}

func newContract(st *State, params Params, custody domain.Custody, logger *slog.Logger) (*Contract, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if custody == nil {
		return nil, errors.New("contract: custody is required")
	}
	c := &Contract{
		params:  params,
		state:   st,
		dirty:   newDirtySet(),
		custody: custody,
		logger:  logger.With(slog.String("component", "contract")),
	}
	u := domain.KindUint
	c.routes = map[string]route{
		domain.FnSetOracleAddress: {RoleOwner, []domain.ValueKind{domain.KindPrincipal}, c.setOracleAddress},
		domain.FnUpdateBTCPrice:   {RoleOracle, []domain.ValueKind{u}, c.updateBTCPrice},
		domain.FnDepositSBTC:      {RoleAny, []domain.ValueKind{u}, c.depositSBTC},
		domain.FnCreateOption:     {RoleAny, []domain.ValueKind{domain.KindASCII, u, u, u}, c.createOption},
		domain.FnExerciseOption:   {RoleAny, []domain.ValueKind{u}, c.exerciseOption},
	}
	return c, nil
}

// CheckNonce reports domain.ErrStaleNonce (wrapped) when nonce is not above
// the last nonce sender had executed.
func (c *Contract) CheckNonce(sender domain.Principal, nonce uint64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.checkNonce(sender, nonce)
}

// Nonce returns the last executed nonce of sender and whether it has one.
func (c *Contract) Nonce(sender domain.Principal) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.state.Nonces[sender]
	return n, ok
}

// Apply executes a single call at the current height. Either the whole
// state transition and its custody transfers commit, or nothing changes and
// an error result is returned. Every call from a valid sender consumes its
// nonce, failed ones included; a stale nonce is refused with ErrNonceReused
// before anything else runs.
func (c *Contract) Apply(ctx context.Context, call domain.Call) (domain.Result, []domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	validSender := call.Sender.Validate() == nil
	if validSender {
		if err := c.state.checkNonce(call.Sender, call.Nonce); err != nil {
			return domain.ErrResult(domain.ErrNonceReused), nil
		}
		defer c.state.useNonce(call.Sender, call.Nonce, c.dirty)
	}

	r, ok := c.routes[call.Function]
	if !ok {
		return domain.ErrResult(domain.ErrUnknownFunction), nil
	}
	if !validSender {
		return domain.ErrResult(domain.ErrInvalidPrincipal), nil
	}
	if !r.accepts(call.Args) {
		return domain.ErrResult(domain.ErrInvalidArguments), nil
	}

	t := newTxn(c.state)
	if err := authorize(t, r.role, call.Sender); err != nil {
		return c.fail(ctx, call, err)
	}
	v, err := r.fn(t, call.Sender, call.Args)
	if err != nil {
		return c.fail(ctx, call, err)
	}
	if err := t.commit(ctx, c.custody, c.logger, c.dirty); err != nil {
		c.logger.WarnContext(ctx, "commit failed",
			slog.String("function", call.Function),
			slog.String("sender", call.Sender.String()),
			slog.String("error", err.Error()),
		)
		return c.fail(ctx, call, err)
	}
	return domain.OkResult(v), t.events
}

func (c *Contract) fail(ctx context.Context, call domain.Call, err error) (domain.Result, []domain.Event) {
	ce := domain.AsContractError(err)
	if ce != domain.ErrCollateralInvariantBroken {
		return domain.ErrResult(ce), nil
	}
	c.logger.ErrorContext(ctx, "collateral invariant broken, call aborted",
		slog.String("function", call.Function),
		slog.String("sender", call.Sender.String()),
		slog.Uint64("height", c.state.Height),
		slog.String("error", err.Error()),
	)
	ev := domain.NewEvent(domain.EventInvariantBroken,
		"function", call.Function,
		"sender", call.Sender.String(),
	)
	return domain.ErrResult(ce), []domain.Event{ev}
}

// BeginBlock advances the contract to height and expires every open option
// whose expiry has been reached. The ids of expired options are returned in
// ascending order.
func (c *Contract) BeginBlock(ctx context.Context, height uint64) ([]uint64, []domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height <= c.state.Height {
		return nil, nil, fmt.Errorf("contract: begin block %d: height must exceed %d", height, c.state.Height)
	}
	prev := c.state.Height
	c.state.Height = height

	t := newTxn(c.state)
	expired, err := expireDue(t)
	if err == nil {
		err = t.commit(ctx, c.custody, c.logger, c.dirty)
	}
	if err != nil {
		c.state.Height = prev
		c.logger.ErrorContext(ctx, "expiry sweep failed",
			slog.Uint64("height", height),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("contract: expiry sweep at %d: %w", height, err)
	}
	if len(expired) > 0 {
		c.logger.InfoContext(ctx, "options expired",
			slog.Uint64("height", height),
			slog.Int("count", len(expired)),
		)
	}
	return expired, t.events, nil
}

// Params returns the economic parameters.
func (c *Contract) Params() Params { return c.params }

// Owner returns the fixed contract owner.
func (c *Contract) Owner() domain.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Owner
}

// Oracle returns the oracle state.
func (c *Contract) Oracle() domain.OracleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Oracle
}

// Price returns the latest oracle price.
func (c *Contract) Price() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Oracle.Price
}

// Height returns the height of the last begun block.
func (c *Contract) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Height
}

// Balance returns the available collateral of p, zero if p never deposited.
func (c *Contract) Balance(p domain.Principal) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Accounts[p]
}

// Account returns p's collateral account or domain.ErrNotFound.
func (c *Contract) Account(p domain.Principal) (domain.CollateralAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bal, ok := c.state.Accounts[p]
	if !ok {
		return domain.CollateralAccount{}, fmt.Errorf("contract: account %s: %w", p, domain.ErrNotFound)
	}
	return domain.CollateralAccount{Owner: p, Balance: bal}, nil
}

// Option returns option id or domain.ErrNotFound.
func (c *Contract) Option(id uint64) (domain.Option, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id >= uint64(len(c.state.Options)) {
		return domain.Option{}, fmt.Errorf("contract: option %d: %w", id, domain.ErrNotFound)
	}
	return c.state.Options[id], nil
}

// Options lists options in id order.
func (c *Contract) Options(f domain.OptionFilter) []domain.Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Option
	skipped := 0
	for _, o := range c.state.Options {
		if !f.Match(o) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, o)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// NextOptionID returns the id the next created option will receive.
func (c *Contract) NextOptionID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.NextOptionID()
}

// Totals returns the deposit and payout counters.
func (c *Contract) Totals() domain.Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Totals
}

// Snapshot returns a deep copy of the full state.
func (c *Contract) Snapshot() domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.snapshot()
}

// TakeDiff returns the records touched since the previous call and resets
// the tracker.
func (c *Contract) TakeDiff() domain.StateDiff {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := domain.StateDiff{
		Owner:        c.state.Owner,
		Oracle:       c.state.Oracle,
		NextOptionID: c.state.NextOptionID(),
		Totals:       c.state.Totals,
	}
	for p := range c.dirty.accounts {
		d.Accounts = append(d.Accounts, domain.CollateralAccount{Owner: p, Balance: c.state.Accounts[p]})
	}
	for id := range c.dirty.options {
		d.Options = append(d.Options, c.state.Options[id])
	}
	for p := range c.dirty.nonces {
		d.Nonces = append(d.Nonces, domain.SenderNonce{Sender: p, Nonce: c.state.Nonces[p]})
	}
	slices.SortFunc(d.Accounts, func(a, b domain.CollateralAccount) int { return cmp.Compare(a.Owner, b.Owner) })
	slices.SortFunc(d.Options, func(a, b domain.Option) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(d.Nonces, func(a, b domain.SenderNonce) int { return cmp.Compare(a.Sender, b.Sender) })
	c.dirty = newDirtySet()
	return d
}
