package contract

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

func TestCreateOption_CollateralCheck(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	h.deposit(wallet2, 5_000_000)

	assert.Equal(t, "(ok u0)", h.create(wallet1, "CALL", 45_000, 1_000, 10_000).String())
	assert.Equal(t, "(err u107)", h.create(wallet2, "CALL", 100_000, 1_000, 10_000).String())

	o, err := h.c.Option(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_500_000), o.CollateralLocked)
	assert.Equal(t, wallet1, o.Holder)
	assert.Equal(t, wallet1, o.Writer)
	assert.Equal(t, domain.OptionOpen, o.Status)
	assert.Equal(t, uint64(1), o.CreatedHeight)

	assert.Equal(t, uint64(500_000), h.c.Balance(wallet1))
	assert.Equal(t, uint64(5_000_000), h.c.Balance(wallet2))
	h.requireConsistent()
}

func TestCreateOption_SequentialIDsAcrossAccounts(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 50_000_000)
	h.deposit(wallet2, 50_000_000)

	assert.Equal(t, "(ok u0)", h.create(wallet1, "CALL", 35_000, 100, 10_000).String())
	assert.Equal(t, "(ok u1)", h.create(wallet2, "PUT", 35_000, 100, 10_000).String())
	// A failed creation does not consume an id.
	assert.Equal(t, "(err u103)", h.create(wallet2, "PUT", 35_000, 1, 10_000).String())
	assert.Equal(t, "(ok u2)", h.create(wallet1, "PUT", 45_000, 100, 10_000).String())
	assert.Equal(t, uint64(3), h.c.NextOptionID())

	assert.Len(t, h.c.Options(domain.OptionFilter{Holder: wallet1}), 2)
	assert.Len(t, h.c.Options(domain.OptionFilter{Type: domain.OptionPut}), 2)
	page := h.c.Options(domain.OptionFilter{Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	assert.Equal(t, uint64(1), page[0].ID)
}

func TestCreateOption_Validation(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	h.mine(10)

	for _, typ := range []string{"call", "PUT ", " PUT", "CALLS", "", "PUTS", "Call", "C\x00LL", "CALL\n"} {
		assert.Equal(t, "(err u102)", h.create(wallet1, typ, 35_000, 100, 10_000).String(), "type %q", typ)
	}
	assert.Equal(t, "(err u104)", h.create(wallet1, "CALL", 0, 100, 10_000).String())
	assert.Equal(t, "(err u104)", h.create(wallet1, "CALL", 35_000, 100, 0).String())
	assert.Equal(t, "(err u103)", h.create(wallet1, "CALL", 35_000, 10, 10_000).String())
	assert.Equal(t, "(err u103)", h.create(wallet1, "CALL", 35_000, 0, 10_000).String())
	assert.Equal(t, "(ok u0)", h.create(wallet1, "CALL", 35_000, 11, 10_000).String())
}

func TestCreateOption_OverflowingCollateral(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	assert.Equal(t, "(err u107)", h.create(wallet1, "CALL", 1<<62, 1_000, 1<<62).String())
	assert.Equal(t, uint64(5_000_000), h.c.Balance(wallet1))
}

func TestExercise_CallPaysPositivePayoff(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	require.Equal(t, "(ok u0)", h.create(wallet1, "CALL", 35_000, 1_000, 10_000).String())
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))

	h.mine(2)
	h.expect("(ok true)", wallet1, domain.FnExerciseOption, domain.Uint(0))

	o, err := h.c.Option(0)
	require.NoError(t, err)
	assert.Equal(t, domain.OptionExercised, o.Status)
	assert.Equal(t, uint64(1_000_000), o.Payoff)
	assert.Equal(t, uint64(45_000), o.SettlementPrice)
	assert.Equal(t, uint64(2), o.SettledHeight)

	assert.Equal(t, uint64(4_000_000), h.c.Balance(wallet1))
	assert.Equal(t, uint64(walletFunds-5_000_000+1_000_000), h.wallet(wallet1))
	assert.Equal(t, domain.Totals{Deposited: 5_000_000, PaidOut: 1_000_000}, h.c.Totals())
	h.requireConsistent()
}

func TestExercise_PutPayoff(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))
	h.deposit(wallet2, 5_000_000)
	require.True(t, h.create(wallet2, "PUT", 45_000, 1_000, 10_000).Ok)
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(35_000))
	h.expect("(ok true)", wallet2, domain.FnExerciseOption, domain.Uint(0))

	o, _ := h.c.Option(0)
	assert.Equal(t, uint64(1_000_000), o.Payoff)
	assert.Equal(t, uint64(4_000_000), h.c.Balance(wallet2))
	h.requireConsistent()
}

func TestExercise_OutOfTheMoneySucceedsWithZeroPayoff(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "PUT", 35_000, 1_000, 10_000).Ok)
	assert.Equal(t, uint64(1_500_000), h.c.Balance(wallet1))

	h.expect("(ok true)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	o, _ := h.c.Option(0)
	assert.Equal(t, domain.OptionExercised, o.Status)
	assert.Zero(t, o.Payoff)
	assert.Equal(t, uint64(5_000_000), h.c.Balance(wallet1))
	assert.Equal(t, uint64(walletFunds-5_000_000), h.wallet(wallet1))
	h.requireConsistent()
}

func TestExercise_FailuresDoNotMutate(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 1_000, 10_000).Ok)
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))

	before := h.ledger()
	h.c.TakeDiff()

	h.expect("(err u105)", wallet1, domain.FnExerciseOption, domain.Uint(7))
	h.expect("(err u106)", wallet2, domain.FnExerciseOption, domain.Uint(0))

	assert.Equal(t, before, h.ledger())
	d := h.c.TakeDiff()
	assert.Empty(t, d.Accounts)
	assert.Empty(t, d.Options)

	h.expect("(ok true)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	settled := h.ledger()

	h.expect("(err u108)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	assert.Equal(t, settled, h.ledger())
	h.requireConsistent()
}

func TestExercise_ExpiredBeforeSweep(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 5, 10_000).Ok)
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))

	// Height moved without a sweep.
	h.c.state.Height = 5
	h.expect("(err u109)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	o, _ := h.c.Option(0)
	assert.Equal(t, domain.OptionOpen, o.Status)
	assert.Equal(t, uint64(1_500_000), h.c.Balance(wallet1))
}

func TestExercise_AfterSweepReportsExpired(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 5, 10_000).Ok)
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))

	assert.Equal(t, []uint64{0}, h.mine(5))
	o, _ := h.c.Option(0)
	assert.Equal(t, domain.OptionExpired, o.Status)
	assert.Equal(t, uint64(5), o.SettledHeight)
	assert.Equal(t, uint64(5_000_000), h.c.Balance(wallet1))

	swept := h.ledger()
	h.expect("(err u109)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	h.expect("(err u106)", wallet2, domain.FnExerciseOption, domain.Uint(0))
	assert.Equal(t, swept, h.ledger())
	h.requireConsistent()
}

func TestBeginBlock_SweepsDueOptions(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.deposit(wallet1, 10_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 3, 10_000).Ok)
	require.True(t, h.create(wallet1, "PUT", 10_000, 10, 10_000).Ok)
	require.True(t, h.create(wallet1, "CALL", 20_000, 3, 10_000).Ok)
	assert.Equal(t, uint64(3_500_000), h.c.Balance(wallet1))

	assert.Empty(t, h.mine(2))

	expired, events, err := h.c.BeginBlock(h.ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2}, expired)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOptionExpired, events[0].Type)
	assert.Equal(t, "0", events[0].Attributes["id"])

	assert.Equal(t, uint64(9_000_000), h.c.Balance(wallet1))
	open := h.c.Options(domain.OptionFilter{Status: domain.OptionOpen})
	require.Len(t, open, 1)
	assert.Equal(t, uint64(1), open[0].ID)

	assert.Equal(t, []uint64{1}, h.mine(10))
	assert.Equal(t, uint64(10_000_000), h.c.Balance(wallet1))
	h.requireConsistent()
}

// creditFailingCustody refuses payouts to one account.
type creditFailingCustody struct {
	*custody.MemoryVault
	account domain.Principal
}

func (c creditFailingCustody) Credit(ctx context.Context, account domain.Principal, amount uint64) error {
	if account == c.account {
		return errors.New("payout rail down")
	}
	return c.MemoryVault.Credit(ctx, account, amount)
}

func TestExercise_PayoutFailureRollsBack(t *testing.T) {
	vault := custody.NewMemoryVault()
	vault.Fund(wallet1, walletFunds)
	c, err := New(Config{Owner: deployer, Params: DefaultParams()}, creditFailingCustody{vault, wallet1}, discardLogger())
	require.NoError(t, err)
	h := &harness{t: t, ctx: context.Background(), c: c, vault: vault, nonces: make(map[domain.Principal]uint64)}
	h.mine(1)

	h.deposit(wallet1, 5_000_000)
	require.True(t, h.create(wallet1, "CALL", 35_000, 100, 10_000).Ok)
	h.expect("(ok true)", deployer, domain.FnUpdateBTCPrice, domain.Uint(45_000))

	h.expect("(err u101)", wallet1, domain.FnExerciseOption, domain.Uint(0))
	o, _ := h.c.Option(0)
	assert.Equal(t, domain.OptionOpen, o.Status)
	assert.Equal(t, uint64(1_500_000), h.c.Balance(wallet1))
	assert.Zero(t, h.c.Totals().PaidOut)
	require.NoError(t, h.c.CheckInvariants())
}

func TestTxnCommit_CompensatesEarlierTransfers(t *testing.T) {
	vault := custody.NewMemoryVault()
	vault.Fund(wallet1, 1_000)
	st := newState(deployer, 0)
	d := newDirtySet()

	tx := newTxn(st)
	tx.setBalance(wallet1, 400)
	tx.debitExternal(wallet1, 400)
	tx.creditExternal(wallet2, 100)

	err := tx.commit(context.Background(), creditFailingCustody{vault, wallet2}, discardLogger(), d)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	bal, _ := vault.Balance(context.Background(), wallet1)
	assert.Equal(t, uint64(1_000), bal)
	held, _ := vault.Held(context.Background())
	assert.Zero(t, held)
	assert.Empty(t, st.Accounts)
	assert.Empty(t, d.accounts)
}

// TestConservation_RandomizedWorkload drives a seeded random sequence of
// calls for several parameter sets and checks the conservation law after
// every call.
func TestConservation_RandomizedWorkload(t *testing.T) {
	paramSets := []Params{
		DefaultParams(),
		{PriceScale: 1, CallCollateralBps: 10_000, PutCollateralBps: 10_000},
		{PriceScale: 100, CallCollateralBps: 2_500, PutCollateralBps: 12_500},
		{PriceScale: 10_000, CallCollateralBps: 50_000, PutCollateralBps: 10_000},
	}
	actors := []domain.Principal{deployer, wallet1, wallet2}

	for i, params := range paramSets {
		h := newHarness(t, params)
		rng := rand.New(rand.NewPCG(uint64(i), 42))
		height := uint64(1)

		for step := 0; step < 400; step++ {
			actor := actors[rng.IntN(len(actors))]
			switch rng.IntN(5) {
			case 0:
				h.call(actor, domain.FnDepositSBTC, domain.Uint(rng.Uint64N(2_000_000)))
			case 1:
				typ := "CALL"
				if rng.IntN(2) == 0 {
					typ = "PUT"
				}
				h.create(actor, typ, 1+rng.Uint64N(60_000), height+rng.Uint64N(20), 1+rng.Uint64N(200))
			case 2:
				h.call(actor, domain.FnExerciseOption, domain.Uint(rng.Uint64N(h.c.NextOptionID()+1)))
			case 3:
				h.call(deployer, domain.FnUpdateBTCPrice, domain.Uint(rng.Uint64N(80_000)))
			case 4:
				height += 1 + rng.Uint64N(3)
				h.mine(height)
			}
			require.NoError(t, h.c.CheckInvariants(), "params %d step %d", i, step)
			require.NoError(t, h.c.CheckCustody(h.ctx), "params %d step %d", i, step)
		}
	}
}
