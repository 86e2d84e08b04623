package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "sequencer", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sequencer", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "sequencer", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockManager_ExpiredHolderCannotRelease(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "sequencer", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "sequencer", time.Minute)
	require.NoError(t, err)

	// Stale token: the new holder's lock survives.
	unlock()
	assert.True(t, mr.Exists("lock:sequencer"))
}

func TestPriceCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c)

	_, _, err := pc.GetPrice(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, pc.SetPrice(ctx, "BTC", 50_000, 12))
	price, height, err := pc.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), price)
	assert.Equal(t, uint64(12), height)
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	fixed := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	rl.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	ok, err = rl.Allow(ctx, "1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus_Stream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, domain.StreamReceipts, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, domain.StreamReceipts, []byte(`{"n":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, domain.StreamReceipts, []byte(`{"n":2}`)))

	msgs, err = sb.StreamRead(ctx, domain.StreamReceipts, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	rest, err := sb.StreamRead(ctx, domain.StreamReceipts, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
}

func TestSignalBus_PubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c)

	ch, err := sb.Subscribe(ctx, domain.ChannelBlocks)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelBlocks, []byte("block-1")))

	select {
	case got := <-ch:
		assert.Equal(t, "block-1", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}

func TestCustodyVault(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	v := NewCustodyVault(c, "test")
	alice := domain.Principal("ST1ALICE")

	bal, err := v.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, v.Fund(ctx, alice, 1_000))
	require.NoError(t, v.Debit(ctx, alice, 600))

	err = v.Debit(ctx, alice, 500)
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	bal, err = v.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)
	held, err := v.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), held)

	require.NoError(t, v.Credit(ctx, alice, 250))
	err = v.Credit(ctx, alice, 351)
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	bal, err = v.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(650), bal)
	held, err = v.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(350), held)
}

func TestCustodyVault_RejectsOversizedAmount(t *testing.T) {
	c, _ := newTestClient(t)
	v := NewCustodyVault(c, "test")
	assert.Error(t, v.Debit(context.Background(), "ST1ALICE", 1<<63))
}
