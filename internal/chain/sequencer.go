package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// leaderLockKey is the LockManager key held while a block is mined.
const leaderLockKey = "sequencer"

// SequencerConfig tunes block production.
type SequencerConfig struct {
	Interval      time.Duration
	MaxTxPerBlock int
	MineEmpty     bool
	LockTTL       time.Duration
}

// Sequencer drains the mempool into a block on every tick. When a
// LockManager is set, only the holder of the leader lock mines.
type Sequencer struct {
	chain  *Chain
	pool   *Mempool
	locks  domain.LockManager
	cfg    SequencerConfig
	onHalt func(ctx context.Context, err error)
	halted sync.Once
	logger *slog.Logger
}

// NewSequencer creates a Sequencer. locks may be nil for a single node.
func NewSequencer(chain *Chain, pool *Mempool, locks domain.LockManager, cfg SequencerConfig, logger *slog.Logger) *Sequencer {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Sequencer{
		chain:  chain,
		pool:   pool,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sequencer")),
	}
}

// OnHalt registers a callback invoked once when mining halts the chain.
func (s *Sequencer) OnHalt(fn func(ctx context.Context, err error)) { s.onHalt = fn }

// Run mines on every interval until ctx is cancelled or the chain halts.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("sequencer starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("max_tx_per_block", s.cfg.MaxTxPerBlock),
		slog.Bool("mine_empty", s.cfg.MineEmpty),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sequencer stopped")
			return ctx.Err()
		case <-ticker.C:
			s.pool.Cleanup()
			if _, _, err := s.Tick(ctx, false); err != nil {
				if errors.Is(err, domain.ErrChainHalted) {
					return err
				}
				s.logger.Warn("mining tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick mines one block. Unless force is set, nothing happens when the
// mempool is empty and empty blocks are disabled. mined is false when the
// tick was skipped.
func (s *Sequencer) Tick(ctx context.Context, force bool) (block domain.Block, mined bool, err error) {
	if !force && !s.cfg.MineEmpty && s.pool.Len() == 0 {
		return domain.Block{}, false, nil
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, leaderLockKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("leader lock held elsewhere, skipping block")
			return domain.Block{}, false, nil
		}
		if err != nil {
			return domain.Block{}, false, fmt.Errorf("chain: acquire leader lock: %w", err)
		}
		defer unlock()
	}

	calls := s.pool.Drain(s.cfg.MaxTxPerBlock)
	block, err = s.chain.MineBlock(ctx, calls)
	if err != nil {
		if errors.Is(err, domain.ErrChainHalted) && s.onHalt != nil {
			s.halted.Do(func() { s.onHalt(ctx, err) })
		}
		return domain.Block{}, false, err
	}
	return block, true, nil
}
