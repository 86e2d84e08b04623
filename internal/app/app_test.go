package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/config"
	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

const (
	owner  = domain.Principal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
	writer = domain.Principal("ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5")
	broke  = domain.Principal("ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Contract.Owner = string(owner)
	cfg.Contract.InitialPrice = 40_000
	return &cfg
}

func call(sender domain.Principal, fn string, nonce uint64, args ...domain.Value) domain.Call {
	return domain.Call{Sender: sender, Function: fn, Args: args, Nonce: nonce}
}

// scenarioBlocks drives a fresh node through deposits (one failing on
// custody), option creation, a price move, an exercise and an exercise
// attempt on an option the sweep already expired.
func scenarioBlocks() [][]domain.Call {
	return [][]domain.Call{
		{
			call(writer, domain.FnDepositSBTC, 0, domain.Uint(5_000_000)),
			call(broke, domain.FnDepositSBTC, 0, domain.Uint(1_000)),
		},
		{
			call(writer, domain.FnCreateOption, 1, domain.ASCII("CALL"), domain.Uint(35_000), domain.Uint(10), domain.Uint(10_000)),
			call(writer, domain.FnCreateOption, 2, domain.ASCII("PUT"), domain.Uint(30_000), domain.Uint(3), domain.Uint(1_000)),
		},
		{
			call(owner, domain.FnUpdateBTCPrice, 0, domain.Uint(45_000)),
		},
		{
			call(writer, domain.FnExerciseOption, 3, domain.Uint(0)),
			call(writer, domain.FnExerciseOption, 4, domain.Uint(1)),
		},
		nil,
	}
}

// mineScenario returns the mined blocks and the chain that produced them.
func mineScenario(t *testing.T) (*chain.Chain, []domain.Block) {
	t.Helper()
	vault := custody.NewMemoryVault()
	vault.Fund(writer, 100_000_000)
	ch, err := bootstrap(context.Background(), testConfig(), nil, nil, vault, testLogger())
	require.NoError(t, err)

	var blocks []domain.Block
	for _, calls := range scenarioBlocks() {
		b, err := ch.MineBlock(context.Background(), calls)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	return ch, blocks
}

// archiveRoundTrip mimics the JSONL export and re-import of a block.
func archiveRoundTrip(t *testing.T, b domain.Block) domain.Block {
	t.Helper()
	data, err := json.Marshal(b)
	require.NoError(t, err)
	var out domain.Block
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestScenario_Outcomes(t *testing.T) {
	_, blocks := mineScenario(t)
	require.Len(t, blocks, 5)

	assert.Equal(t, "(ok true)", blocks[0].Receipts[0].Result.String())
	assert.Equal(t, "(err u101)", blocks[0].Receipts[1].Result.String())
	assert.Equal(t, "(ok u0)", blocks[1].Receipts[0].Result.String())
	assert.Equal(t, "(ok u1)", blocks[1].Receipts[1].Result.String())
	assert.Equal(t, []uint64{1}, blocks[2].Expired)
	assert.Equal(t, "(ok true)", blocks[3].Receipts[0].Result.String())
	assert.Equal(t, "(err u109)", blocks[3].Receipts[1].Result.String())
}

func TestReplayBlock_ReproducesArchive(t *testing.T) {
	_, blocks := mineScenario(t)

	vault := newReplayVault()
	replay, err := newReplayChain(contractConfig(testConfig().Contract), vault, testLogger())
	require.NoError(t, err)

	for _, b := range blocks {
		require.NoError(t, replayBlock(context.Background(), replay, vault, archiveRoundTrip(t, b)))
	}
	assert.Equal(t, blocks[len(blocks)-1].Hash, replay.Head().Hash)
	assert.Equal(t, uint64(45_000), replay.Engine().Price())
}

func TestReplayBlock_DetectsDivergence(t *testing.T) {
	_, blocks := mineScenario(t)

	vault := newReplayVault()
	replay, err := newReplayChain(contractConfig(testConfig().Contract), vault, testLogger())
	require.NoError(t, err)

	tampered := archiveRoundTrip(t, blocks[0])
	tampered.Receipts[0].Call.Args[0] = domain.Uint(4_000_000)
	err = replayBlock(context.Background(), replay, vault, tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 1")
}

func TestReplayBlock_RejectsGap(t *testing.T) {
	_, blocks := mineScenario(t)

	vault := newReplayVault()
	replay, err := newReplayChain(contractConfig(testConfig().Contract), vault, testLogger())
	require.NoError(t, err)

	err = replayBlock(context.Background(), replay, vault, blocks[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}

type fakeState struct {
	snap domain.Snapshot
	err  error
}

func (f fakeState) LoadSnapshot(context.Context) (domain.Snapshot, error) { return f.snap, f.err }

type fakeBlocks struct {
	domain.BlockStore
	head domain.Block
}

func (f fakeBlocks) LatestBlock(context.Context) (domain.Block, error) { return f.head, nil }

func TestBootstrap_GenesisWhenNothingPersisted(t *testing.T) {
	state := fakeState{err: domain.ErrNotFound}
	ch, err := bootstrap(context.Background(), testConfig(), state, nil, custody.NewMemoryVault(), testLogger())
	require.NoError(t, err)
	assert.Zero(t, ch.Head().Height)
	assert.Equal(t, owner, ch.Engine().Owner())
	assert.Equal(t, uint64(40_000), ch.Engine().Price())
}

func TestBootstrap_RestoresSnapshot(t *testing.T) {
	orig, _ := mineScenario(t)
	head := orig.Head()
	snap := orig.Engine().Snapshot()
	snap.BlockHash = head.Hash

	vault := custody.NewMemoryVault()
	ch, err := bootstrap(context.Background(), testConfig(), fakeState{snap: snap}, fakeBlocks{head: head}, vault, testLogger())
	require.NoError(t, err)
	assert.Equal(t, head.Hash, ch.Head().Hash)
	assert.Equal(t, orig.Engine().Totals(), ch.Engine().Totals())
	assert.ErrorIs(t, ch.Engine().CheckNonce(writer, 4), domain.ErrStaleNonce)

	held, _ := vault.Held(context.Background())
	totals := snap.Totals
	assert.Equal(t, totals.Deposited-totals.PaidOut, held)

	next, err := ch.MineBlock(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, head.Hash, next.ParentHash)
}

func TestBootstrap_RejectsMismatchedHead(t *testing.T) {
	orig, _ := mineScenario(t)
	head := orig.Head()
	snap := orig.Engine().Snapshot()
	snap.BlockHash = "0xdeadbeef"

	_, err := bootstrap(context.Background(), testConfig(), fakeState{snap: snap}, fakeBlocks{head: head}, custody.NewMemoryVault(), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match head block")

	cfg := testConfig()
	cfg.Contract.Owner = string(writer)
	snap.BlockHash = head.Hash
	_, err = bootstrap(context.Background(), cfg, fakeState{snap: snap}, fakeBlocks{head: head}, custody.NewMemoryVault(), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestBootstrap_LoadError(t *testing.T) {
	state := fakeState{err: errors.New("connection refused")}
	_, err := bootstrap(context.Background(), testConfig(), state, nil, custody.NewMemoryVault(), testLogger())
	require.Error(t, err)
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: make(map[string][][]byte)}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memPrices struct {
	price, height uint64
	calls         int
}

func (m *memPrices) SetPrice(_ context.Context, _ string, price, height uint64) error {
	m.price, m.height = price, height
	m.calls++
	return nil
}

func (m *memPrices) GetPrice(context.Context, string) (uint64, uint64, error) {
	return m.price, m.height, nil
}

func TestPublishSink(t *testing.T) {
	vault := custody.NewMemoryVault()
	vault.Fund(writer, 100_000_000)
	ch, err := bootstrap(context.Background(), testConfig(), nil, nil, vault, testLogger())
	require.NoError(t, err)

	bus := newRecordingBus()
	prices := &memPrices{}
	ch.AddSink(publishSink(bus, prices, testLogger()))

	blocks := scenarioBlocks()
	for _, calls := range blocks[:3] {
		_, err := ch.MineBlock(context.Background(), calls)
		require.NoError(t, err)
	}

	require.Len(t, bus.published[domain.ChannelBlocks], 3)
	var hdr blockHeader
	require.NoError(t, json.Unmarshal(bus.published[domain.ChannelBlocks][2], &hdr))
	assert.Equal(t, uint64(3), hdr.Height)
	assert.Equal(t, ch.Head().Hash, hdr.Hash)
	assert.Equal(t, []uint64{1}, hdr.Expired)

	var types []string
	for _, raw := range bus.published[domain.ChannelEvents] {
		var msg eventMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		types = append(types, msg.Event.Type)
	}
	assert.Contains(t, types, domain.EventDeposited)
	assert.Contains(t, types, domain.EventOptionCreated)
	assert.Contains(t, types, domain.EventOptionExpired)
	assert.Contains(t, types, domain.EventPriceUpdated)

	assert.Len(t, bus.stream, 5)
	assert.Equal(t, 1, prices.calls)
	assert.Equal(t, uint64(45_000), prices.price)
	assert.Equal(t, uint64(3), prices.height)
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.events = append(m.events, event)
	m.detail = append(m.detail, detail)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestAuditSink_RecordsOracleChanges(t *testing.T) {
	ch, err := bootstrap(context.Background(), testConfig(), nil, nil, custody.NewMemoryVault(), testLogger())
	require.NoError(t, err)
	audit := &memAudit{}
	ch.AddSink(auditSink(audit, testLogger()))

	_, err = ch.MineBlock(context.Background(), []domain.Call{
		call(owner, domain.FnSetOracleAddress, 0, domain.PrincipalValue(writer)),
		call(writer, domain.FnUpdateBTCPrice, 0, domain.Uint(41_000)),
	})
	require.NoError(t, err)

	require.Equal(t, []string{"contract." + domain.EventOracleChanged}, audit.events)
	assert.Equal(t, string(owner), audit.detail[0]["sender"])
	assert.Equal(t, uint64(1), audit.detail[0]["height"])
}

func TestCustodySink_HaltsOnDrift(t *testing.T) {
	vault := custody.NewMemoryVault()
	vault.Fund(writer, 1_000)
	ch, err := bootstrap(context.Background(), testConfig(), nil, nil, vault, testLogger())
	require.NoError(t, err)
	ch.AddSink(custodySink(ch.Engine()))

	_, err = ch.MineBlock(context.Background(), []domain.Call{call(writer, domain.FnDepositSBTC, 0, domain.Uint(1_000))})
	require.NoError(t, err)

	vault.SetHeld(1)
	_, err = ch.MineBlock(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrChainHalted)
	assert.Error(t, ch.Halted())
}

type faucetFake struct {
	balances map[domain.Principal]uint64
	funded   []domain.Principal
}

func (f *faucetFake) Fund(_ context.Context, account domain.Principal, amount uint64) error {
	f.balances[account] += amount
	f.funded = append(f.funded, account)
	return nil
}

func (f *faucetFake) Balance(_ context.Context, account domain.Principal) (uint64, error) {
	return f.balances[account], nil
}

func TestFundFaucet_SkipsFundedWallets(t *testing.T) {
	v := &faucetFake{balances: map[domain.Principal]uint64{writer: 7}}
	err := fundFaucet(context.Background(), v, map[string]uint64{
		string(writer): 100,
		string(broke):  50,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []domain.Principal{broke}, v.funded)
	assert.Equal(t, uint64(7), v.balances[writer])
	assert.Equal(t, uint64(50), v.balances[broke])
}

func TestRun_UnknownModeSkipsWiring(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	a := New(&cfg, testLogger())
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
	assert.Empty(t, a.closers)
	a.Close()
}
