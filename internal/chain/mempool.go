package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// VerifyFunc authenticates a call against its transaction id. It returns
// domain.ErrBadSignature (wrapped) when the call must be rejected.
type VerifyFunc func(call domain.Call, txID common.Hash) error

// NonceFunc rejects a call whose nonce its sender has already used. It
// returns domain.ErrStaleNonce (wrapped) in that case.
type NonceFunc func(sender domain.Principal, nonce uint64) error

// Mempool is a bounded FIFO of calls waiting for the next block.
type Mempool struct {
	mu     sync.Mutex
	queue  []domain.Call
	max    int
	dedup  *Dedup
	verify VerifyFunc
	nonces NonceFunc
}

// NewMempool creates a mempool holding at most max calls. verify may be nil.
func NewMempool(max int, dedupTTL time.Duration, verify VerifyFunc) *Mempool {
	return &Mempool{
		max:    max,
		dedup:  NewDedup(dedupTTL),
		verify: verify,
	}
}

// WithNonceCheck makes Submit reject calls that fail fn. The dedup window
// only catches resubmissions inside its TTL; fn catches the rest.
func (m *Mempool) WithNonceCheck(fn NonceFunc) *Mempool {
	m.nonces = fn
	return m
}

// Submit queues call and returns its transaction id.
func (m *Mempool) Submit(call domain.Call) (string, error) {
	id, err := TxID(call)
	if err != nil {
		return "", err
	}
	if m.verify != nil {
		if err := m.verify(call, id); err != nil {
			return "", err
		}
	}
	if m.nonces != nil {
		if err := m.nonces(call.Sender, call.Nonce); err != nil {
			return "", fmt.Errorf("chain: submit %s: %w", id.Hex(), err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.queue) >= m.max {
		return "", fmt.Errorf("chain: submit %s: %w", id.Hex(), domain.ErrMempoolFull)
	}
	if m.dedup.IsDuplicate(id.Hex()) {
		return "", fmt.Errorf("chain: submit %s: %w", id.Hex(), domain.ErrDuplicateTx)
	}
	m.queue = append(m.queue, call)
	return id.Hex(), nil
}

// Drain removes and returns up to n queued calls in arrival order. n <= 0
// drains everything.
func (m *Mempool) Drain(n int) []domain.Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.queue) {
		n = len(m.queue)
	}
	out := make([]domain.Call, n)
	copy(out, m.queue[:n])
	m.queue = append(m.queue[:0], m.queue[n:]...)
	return out
}

// Len returns the number of queued calls.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Cleanup expires old dedup entries.
func (m *Mempool) Cleanup() { m.dedup.Cleanup() }
