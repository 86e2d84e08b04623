package contract

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

const (
	deployer = domain.Principal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
	wallet1  = domain.Principal("ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5")
	wallet2  = domain.Principal("ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG")
	unfunded = domain.Principal("ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC")

	walletFunds = 100_000_000
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	c      *Contract
	vault  *custody.MemoryVault
	nonces map[domain.Principal]uint64
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	vault := custody.NewMemoryVault()
	for _, w := range []domain.Principal{deployer, wallet1, wallet2} {
		vault.Fund(w, walletFunds)
	}
	c, err := New(Config{Owner: deployer, Params: params}, vault, discardLogger())
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), c: c, vault: vault, nonces: make(map[domain.Principal]uint64)}
	h.mine(1)
	return h
}

func (h *harness) mine(height uint64) []uint64 {
	h.t.Helper()
	expired, _, err := h.c.BeginBlock(h.ctx, height)
	require.NoError(h.t, err)
	return expired
}

// nonce hands out sequential nonces per sender.
func (h *harness) nonce(p domain.Principal) uint64 {
	n := h.nonces[p]
	h.nonces[p] = n + 1
	return n
}

func (h *harness) call(sender domain.Principal, fn string, args ...domain.Value) domain.Result {
	h.t.Helper()
	res, _ := h.c.Apply(h.ctx, domain.Call{Sender: sender, Function: fn, Args: args, Nonce: h.nonce(sender)})
	return res
}

// ledger is the snapshot minus the nonce table, which every call advances.
func (h *harness) ledger() domain.Snapshot {
	s := h.c.Snapshot()
	s.Nonces = nil
	return s
}

func (h *harness) expect(want string, sender domain.Principal, fn string, args ...domain.Value) {
	h.t.Helper()
	assert.Equal(h.t, want, h.call(sender, fn, args...).String(), "%s by %s", fn, sender)
}

func (h *harness) deposit(sender domain.Principal, amount uint64) {
	h.t.Helper()
	h.expect("(ok true)", sender, domain.FnDepositSBTC, domain.Uint(amount))
}

func (h *harness) create(sender domain.Principal, typ string, strike, expiry, amount uint64) domain.Result {
	h.t.Helper()
	return h.call(sender, domain.FnCreateOption,
		domain.ASCII(typ), domain.Uint(strike), domain.Uint(expiry), domain.Uint(amount))
}

func (h *harness) wallet(p domain.Principal) uint64 {
	h.t.Helper()
	bal, err := h.vault.Balance(h.ctx, p)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) requireConsistent() {
	h.t.Helper()
	require.NoError(h.t, h.c.CheckInvariants())
	require.NoError(h.t, h.c.CheckCustody(h.ctx))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	vault := custody.NewMemoryVault()

	_, err := New(Config{Owner: "", Params: DefaultParams()}, vault, discardLogger())
	assert.Error(t, err)

	_, err = New(Config{Owner: deployer, Params: Params{}}, vault, discardLogger())
	assert.Error(t, err)

	_, err = New(Config{Owner: deployer, Params: DefaultParams()}, nil, discardLogger())
	assert.Error(t, err)
}

func TestSetOracleAddress(t *testing.T) {
	h := newHarness(t, DefaultParams())
	assert.Equal(t, deployer, h.c.Oracle().Updater)

	h.expect("(err u100)", wallet1, domain.FnSetOracleAddress, domain.PrincipalValue(wallet1))
	assert.Equal(t, deployer, h.c.Oracle().Updater)

	h.expect("(ok true)", deployer, domain.FnSetOracleAddress, domain.PrincipalValue(wallet1))
	assert.Equal(t, wallet1, h.c.Oracle().Updater)

	// Only the new updater may publish prices, the owner included.
	h.expect("(err u100)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))
	h.expect("(ok true)", wallet1, domain.FnUpdateBTCPrice, domain.Uint(45_000))
	assert.Equal(t, uint64(45_000), h.c.Price())
}

func TestSetOracleAddress_Events(t *testing.T) {
	h := newHarness(t, DefaultParams())
	res, events := h.c.Apply(h.ctx, domain.Call{
		Sender:   deployer,
		Function: domain.FnSetOracleAddress,
		Args:     []domain.Value{domain.PrincipalValue(wallet2)},
	})
	require.True(t, res.Ok)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOracleChanged, events[0].Type)
	assert.Equal(t, wallet2.String(), events[0].Attributes["updater"])
}

func TestUpdatePrice_NotAuthorizedLeavesPrice(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(40_000))

	for _, caller := range []domain.Principal{wallet1, wallet2, unfunded} {
		h.expect("(err u100)", caller, domain.FnUpdateBTCPrice, domain.Uint(1))
	}
	assert.Equal(t, uint64(40_000), h.c.Price())

	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(0))
	assert.Zero(t, h.c.Price())
}

func TestDeposit_Additive(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 1_000)
	h.deposit(wallet1, 2_500)

	assert.Equal(t, uint64(3_500), h.c.Balance(wallet1))
	assert.Equal(t, uint64(walletFunds-3_500), h.wallet(wallet1))
	assert.Equal(t, domain.Totals{Deposited: 3_500}, h.c.Totals())
	h.requireConsistent()
}

func TestDeposit_Failures(t *testing.T) {
	h := newHarness(t, DefaultParams())

	h.expect("(err u104)", wallet1, domain.FnDepositSBTC, domain.Uint(0))
	h.expect("(err u101)", unfunded, domain.FnDepositSBTC, domain.Uint(10))
	h.expect("(err u101)", wallet1, domain.FnDepositSBTC, domain.Uint(walletFunds+1))

	_, err := h.c.Account(unfunded)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.c.Balance(wallet1))
	assert.Equal(t, domain.Totals{}, h.c.Totals())
	h.requireConsistent()
}

func TestApply_CallShapeErrors(t *testing.T) {
	h := newHarness(t, DefaultParams())

	h.expect("(err u112)", wallet1, "withdraw-sbtc", domain.Uint(1))
	h.expect("(err u111)", wallet1, domain.FnDepositSBTC)
	h.expect("(err u111)", wallet1, domain.FnDepositSBTC, domain.Uint(1), domain.Uint(2))
	h.expect("(err u111)", wallet1, domain.FnDepositSBTC, domain.Bool(true))
	h.expect("(err u111)", wallet1, domain.FnDepositSBTC, domain.Value{Kind: domain.KindUint, Raw: "-5"})
	h.expect("(err u111)", wallet1, domain.FnCreateOption,
		domain.Uint(1), domain.Uint(35_000), domain.Uint(1_000), domain.Uint(10_000))
	h.expect("(err u113)", "", domain.FnDepositSBTC, domain.Uint(1))
	h.expect("(err u113)", "not a principal", domain.FnDepositSBTC, domain.Uint(1))
	h.expect("(err u113)", deployer, domain.FnSetOracleAddress, domain.PrincipalValue("bad principal"))
	assert.Equal(t, deployer, h.c.Oracle().Updater)
}

func TestApply_NonceReplay(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 1_000)

	deposit := domain.Call{Sender: wallet1, Function: domain.FnDepositSBTC, Args: []domain.Value{domain.Uint(1_000)}}
	res, _ := h.c.Apply(h.ctx, deposit)
	assert.Equal(t, "(err u114)", res.String())
	assert.Equal(t, uint64(1_000), h.c.Balance(wallet1))
	assert.ErrorIs(t, h.c.CheckNonce(wallet1, 0), domain.ErrStaleNonce)
	assert.NoError(t, h.c.CheckNonce(wallet1, 1))
	assert.NoError(t, h.c.CheckNonce(wallet2, 0))

	// Failed calls consume their nonce too.
	h.expect("(err u112)", wallet1, "withdraw-sbtc", domain.Uint(1))
	deposit.Nonce = 1
	res, _ = h.c.Apply(h.ctx, deposit)
	assert.Equal(t, "(err u114)", res.String())

	// Gaps are allowed.
	deposit.Nonce = 10
	res, _ = h.c.Apply(h.ctx, deposit)
	assert.Equal(t, "(ok true)", res.String())
	last, ok := h.c.Nonce(wallet1)
	require.True(t, ok)
	assert.Equal(t, uint64(10), last)
	assert.Equal(t, uint64(2_000), h.c.Balance(wallet1))

	h.expect("(err u113)", "not a principal", domain.FnDepositSBTC, domain.Uint(1))
	_, ok = h.c.Nonce("not a principal")
	assert.False(t, ok)
	h.requireConsistent()
}

func TestBeginBlock_HeightMustIncrease(t *testing.T) {
	h := newHarness(t, DefaultParams())
	_, _, err := h.c.BeginBlock(h.ctx, 1)
	assert.Error(t, err)
	h.mine(2)
	assert.Equal(t, uint64(2), h.c.Height())
}

func TestRestore_RoundTrip(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 100, 10_000).Ok)
	h.deposit(wallet2, 1_000_000)

	want, err := h.c.Digest()
	require.NoError(t, err)

	restored, err := Restore(h.c.Snapshot(), DefaultParams(), h.vault, discardLogger())
	require.NoError(t, err)
	got, err := restored.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, restored.CheckInvariants())
	assert.ErrorIs(t, restored.CheckNonce(wallet1, h.nonces[wallet1]-1), domain.ErrStaleNonce)

	_, _, err = restored.BeginBlock(h.ctx, 2)
	require.NoError(t, err)
	res, _ := restored.Apply(h.ctx, domain.Call{
		Sender:   wallet1,
		Nonce:    h.nonce(wallet1),
		Function: domain.FnCreateOption,
		Args:     []domain.Value{domain.ASCII("PUT"), domain.Uint(1_000), domain.Uint(50), domain.Uint(100)},
	})
	assert.Equal(t, "(ok u1)", res.String())
}

func TestRestore_RejectsSparseIDs(t *testing.T) {
	snap := domain.Snapshot{
		Owner:        deployer,
		Options:      []domain.Option{{ID: 1, Status: domain.OptionOpen}},
		NextOptionID: 2,
	}
	_, err := Restore(snap, DefaultParams(), custody.NewMemoryVault(), discardLogger())
	assert.Error(t, err)
}

func TestTakeDiff(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet2, 2_000_000)
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 100, 10_000).Ok)
	h.expect("(err u107)", wallet2, domain.FnCreateOption,
		domain.ASCII("CALL"), domain.Uint(35_000), domain.Uint(100), domain.Uint(10_000))

	d := h.c.TakeDiff()
	require.Len(t, d.Accounts, 2)
	assert.Equal(t, wallet1, d.Accounts[0].Owner)
	assert.Equal(t, uint64(1_500_000), d.Accounts[0].Balance)
	assert.Equal(t, wallet2, d.Accounts[1].Owner)
	require.Len(t, d.Options, 1)
	assert.Equal(t, uint64(3_500_000), d.Options[0].CollateralLocked)
	assert.Equal(t, uint64(1), d.NextOptionID)
	assert.Equal(t, uint64(7_000_000), d.Totals.Deposited)

	assert.Equal(t, []domain.SenderNonce{{Sender: wallet1, Nonce: 1}, {Sender: wallet2, Nonce: 1}}, d.Nonces)

	d = h.c.TakeDiff()
	assert.Empty(t, d.Accounts)
	assert.Empty(t, d.Options)
	assert.Empty(t, d.Nonces)
	assert.Equal(t, uint64(1), d.NextOptionID)
}

func TestDigest_ChangesWithState(t *testing.T) {
	h := newHarness(t, DefaultParams())
	before, err := h.c.Digest()
	require.NoError(t, err)
	h.deposit(wallet1, 1)
	after, err := h.c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}
