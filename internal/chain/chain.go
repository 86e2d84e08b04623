// Package chain sequences calls into blocks, applies them to the contract
// and hands every mined block to its sinks.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/alanyoungcy/sbtcoptions/internal/contract"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// BlockSink consumes mined blocks. Sinks run in registration order and an
// error halts the chain.
type BlockSink interface {
	OnBlock(ctx context.Context, block domain.Block, diff domain.StateDiff) error
}

// SinkFunc adapts a function to BlockSink.
type SinkFunc func(ctx context.Context, block domain.Block, diff domain.StateDiff) error

func (f SinkFunc) OnBlock(ctx context.Context, block domain.Block, diff domain.StateDiff) error {
	return f(ctx, block, diff)
}

// Options tune a Chain.
type Options struct {
	// CheckInvariants runs the conservation check after every block.
	CheckInvariants bool
	// ReceiptCacheSize bounds the in-memory receipt index; the least
	// recently used receipts are evicted first.
	ReceiptCacheSize int
}

// Chain is the single writer over the contract. Blocks are mined strictly
// in height order.
type Chain struct {
	mu       sync.Mutex
	engine   *contract.Contract
	sinks    []BlockSink
	head     domain.Block
	halted   error
	receipts lru.BasicLRU[string, domain.Receipt]
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a chain on top of engine. head is the last applied block; the
// zero Block means genesis.
func New(engine *contract.Contract, head domain.Block, opts Options, logger *slog.Logger) (*Chain, error) {
	if head.Height != engine.Height() {
		return nil, fmt.Errorf("chain: head height %d does not match contract height %d", head.Height, engine.Height())
	}
	if opts.ReceiptCacheSize <= 0 {
		opts.ReceiptCacheSize = 10_000
	}
	head.Receipts = nil
	return &Chain{
		engine:   engine,
		head:     head,
		receipts: lru.NewBasicLRU[string, domain.Receipt](opts.ReceiptCacheSize),
		opts:     opts,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// AddSink registers a block consumer.
func (c *Chain) AddSink(s BlockSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// Engine returns the contract the chain drives.
func (c *Chain) Engine() *contract.Contract { return c.engine }

// Head returns the last mined block header (without receipts).
func (c *Chain) Head() domain.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Halted returns the error that stopped the chain, or nil.
func (c *Chain) Halted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Receipt looks up a recently mined receipt by tx id.
func (c *Chain) Receipt(txID string) (domain.Receipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts.Get(txID)
}

// MineBlock applies calls at the next height: the expiry sweep first, then
// each call in order. Calls whose nonce the sender already used, earlier in
// this block included, are dropped without a receipt. The finished block is
// handed to every sink.
func (c *Chain) MineBlock(ctx context.Context, calls []domain.Call) (domain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted != nil {
		return domain.Block{}, fmt.Errorf("chain: %w: %w", domain.ErrChainHalted, c.halted)
	}

	height := c.head.Height + 1
	expired, events, err := c.engine.BeginBlock(ctx, height)
	if err != nil {
		return domain.Block{}, c.halt(ctx, height, err)
	}

	receipts := make([]domain.Receipt, 0, len(calls))
	for _, call := range calls {
		id, err := TxID(call)
		if err != nil {
			return domain.Block{}, c.halt(ctx, height, err)
		}
		if err := c.engine.CheckNonce(call.Sender, call.Nonce); err != nil {
			c.logger.WarnContext(ctx, "dropping call with stale nonce",
				slog.String("tx_id", id.Hex()),
				slog.String("sender", call.Sender.String()),
				slog.Uint64("nonce", call.Nonce),
			)
			continue
		}
		res, evs := c.engine.Apply(ctx, call)
		receipts = append(receipts, domain.Receipt{
			Height:  height,
			TxIndex: len(receipts),
			TxID:    id.Hex(),
			Call:    call,
			Result:  res,
			Events:  evs,
		})
	}

	if c.opts.CheckInvariants {
		if err := c.engine.CheckInvariants(); err != nil {
			return domain.Block{}, c.halt(ctx, height, err)
		}
	}

	block, err := c.seal(height, receipts)
	if err != nil {
		return domain.Block{}, c.halt(ctx, height, err)
	}
	block.Expired = expired
	block.Events = events
	diff := c.engine.TakeDiff()

	c.head = block
	c.head.Receipts = nil
	for _, r := range receipts {
		c.receipts.Add(r.TxID, r)
	}

	for _, s := range c.sinks {
		if err := s.OnBlock(ctx, block, diff); err != nil {
			return block, c.halt(ctx, height, fmt.Errorf("chain: sink: %w", err))
		}
	}

	c.logger.InfoContext(ctx, "block mined",
		slog.Uint64("height", height),
		slog.Int("txs", len(receipts)),
		slog.Int("expired", len(expired)),
		slog.String("hash", block.Hash),
	)
	return block, nil
}

func (c *Chain) seal(height uint64, receipts []domain.Receipt) (domain.Block, error) {
	digest, err := c.engine.Digest()
	if err != nil {
		return domain.Block{}, err
	}
	root, err := ReceiptsRoot(receipts)
	if err != nil {
		return domain.Block{}, err
	}
	parent := common.HexToHash(c.head.Hash)
	hash, err := BlockHash(height, parent, digest, root)
	if err != nil {
		return domain.Block{}, err
	}
	return domain.Block{
		Height:       height,
		ParentHash:   parent.Hex(),
		Hash:         hash.Hex(),
		StateDigest:  digest.Hex(),
		ReceiptsRoot: root.Hex(),
		MinedAt:      c.now().UTC(),
		Receipts:     receipts,
	}, nil
}

func (c *Chain) halt(ctx context.Context, height uint64, err error) error {
	c.halted = err
	c.logger.ErrorContext(ctx, "chain halted",
		slog.Uint64("height", height),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, domain.ErrChainHalted) {
		return err
	}
	return fmt.Errorf("chain: halted at %d: %w: %w", height, domain.ErrChainHalted, err)
}
