package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, nil
}

func TestSequencer_SkipsEmptyPool(t *testing.T) {
	c := newTestChain(t)
	s := NewSequencer(c, NewMempool(10, time.Minute, nil), nil, SequencerConfig{Interval: time.Second}, testLogger())

	_, mined, err := s.Tick(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, mined)
	assert.Zero(t, c.Head().Height)

	block, mined, err := s.Tick(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, mined)
	assert.Equal(t, uint64(1), block.Height)
}

func TestSequencer_MinesUnderLeaderLock(t *testing.T) {
	c := newTestChain(t)
	pool := NewMempool(10, time.Minute, nil)
	locks := &fakeLocks{}
	s := NewSequencer(c, pool, locks, SequencerConfig{Interval: time.Second, MaxTxPerBlock: 2}, testLogger())

	for _, call := range scenario() {
		_, err := pool.Submit(call)
		require.NoError(t, err)
	}

	block, mined, err := s.Tick(context.Background(), false)
	require.NoError(t, err)
	require.True(t, mined)
	assert.Len(t, block.Receipts, 2)
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)

	locks.held = true
	_, mined, err = s.Tick(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, mined)
	assert.Equal(t, 2, pool.Len())
}

func TestSequencer_OnHaltOnce(t *testing.T) {
	c := newTestChain(t)
	c.AddSink(SinkFunc(func(context.Context, domain.Block, domain.StateDiff) error {
		return errors.New("db down")
	}))
	s := NewSequencer(c, NewMempool(10, time.Minute, nil), nil, SequencerConfig{Interval: time.Millisecond, MineEmpty: true}, testLogger())
	calls := 0
	s.OnHalt(func(context.Context, error) { calls++ })

	err := s.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrChainHalted)

	_, _, err = s.Tick(context.Background(), true)
	require.ErrorIs(t, err, domain.ErrChainHalted)
	assert.Equal(t, 1, calls)
}
