package chain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

func depositCall(nonce uint64) domain.Call {
	return domain.Call{Sender: writer, Function: domain.FnDepositSBTC, Args: []domain.Value{domain.Uint(1)}, Nonce: nonce}
}

func TestMempool_SubmitAndDrain(t *testing.T) {
	m := NewMempool(10, time.Minute, nil)
	for i := uint64(0); i < 3; i++ {
		id, err := m.Submit(depositCall(i))
		require.NoError(t, err)
		want, _ := TxID(depositCall(i))
		assert.Equal(t, want.Hex(), id)
	}
	assert.Equal(t, 3, m.Len())

	first := m.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(0), first[0].Nonce)
	assert.Equal(t, uint64(1), first[1].Nonce)

	rest := m.Drain(0)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(2), rest[0].Nonce)
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Drain(5))
}

func TestMempool_RejectsDuplicates(t *testing.T) {
	m := NewMempool(10, time.Minute, nil)
	_, err := m.Submit(depositCall(1))
	require.NoError(t, err)
	_, err = m.Submit(depositCall(1))
	assert.ErrorIs(t, err, domain.ErrDuplicateTx)

	// Still a duplicate after being drained into a block.
	m.Drain(0)
	_, err = m.Submit(depositCall(1))
	assert.ErrorIs(t, err, domain.ErrDuplicateTx)
}

func TestMempool_Full(t *testing.T) {
	m := NewMempool(1, time.Minute, nil)
	_, err := m.Submit(depositCall(1))
	require.NoError(t, err)
	_, err = m.Submit(depositCall(2))
	assert.ErrorIs(t, err, domain.ErrMempoolFull)

	// A rejected call was not recorded as seen.
	m.Drain(0)
	_, err = m.Submit(depositCall(2))
	assert.NoError(t, err)
}

func TestMempool_Verify(t *testing.T) {
	m := NewMempool(10, time.Minute, func(call domain.Call, _ common.Hash) error {
		if call.Signature == "" {
			return fmt.Errorf("missing signature: %w", domain.ErrBadSignature)
		}
		return nil
	})
	_, err := m.Submit(depositCall(1))
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	signed := depositCall(1)
	signed.Signature = "0x01"
	_, err = m.Submit(signed)
	assert.NoError(t, err)
}

func TestMempool_StaleNonceAfterDedupWindow(t *testing.T) {
	c := newTestChain(t)
	m := NewMempool(10, time.Minute, nil).WithNonceCheck(c.Engine().CheckNonce)
	now := time.Unix(1_700_000_000, 0)
	m.dedup.now = func() time.Time { return now }

	call := scenario()[0]
	_, err := m.Submit(call)
	require.NoError(t, err)
	_, err = c.MineBlock(context.Background(), m.Drain(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), c.Engine().Balance(writer))

	now = now.Add(2 * time.Minute)
	m.Cleanup()
	_, err = m.Submit(call)
	assert.ErrorIs(t, err, domain.ErrStaleNonce)
	assert.Zero(t, m.Len())

	// Even if it reached a block, the engine would not apply it twice.
	_, err = c.MineBlock(context.Background(), []domain.Call{call})
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), c.Engine().Balance(writer))

	call.Nonce = 1
	_, err = m.Submit(call)
	assert.NoError(t, err)
}

func TestDedup_TTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("tx"))
	assert.True(t, d.IsDuplicate("tx"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
	assert.False(t, d.IsDuplicate("tx"))
}
