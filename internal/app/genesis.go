package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/config"
	"github.com/alanyoungcy/sbtcoptions/internal/contract"
	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// contractConfig maps the contract section onto a genesis configuration.
func contractConfig(cfg config.ContractConfig) contract.Config {
	return contract.Config{
		Owner:        domain.Principal(cfg.Owner),
		InitialPrice: cfg.InitialPrice,
		Params: contract.Params{
			PriceScale:        cfg.PriceScale,
			CallCollateralBps: cfg.CallCollateralBps,
			PutCollateralBps:  cfg.PutCollateralBps,
		},
	}
}

func chainOptions(cfg config.ChainConfig) chain.Options {
	return chain.Options{
		CheckInvariants:  cfg.CheckInvariants,
		ReceiptCacheSize: cfg.ReceiptCacheSize,
	}
}

// bootstrap builds the engine and chain, restoring the persisted snapshot
// and head block when stores are configured and deploying a fresh contract
// otherwise.
func bootstrap(
	ctx context.Context,
	cfg *config.Config,
	state domain.StateStore,
	blocks domain.BlockStore,
	vault domain.Custody,
	logger *slog.Logger,
) (*chain.Chain, error) {
	genesis := contractConfig(cfg.Contract)

	var snap domain.Snapshot
	restored := false
	if state != nil {
		var err error
		snap, err = state.LoadSnapshot(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("app: load snapshot: %w", err)
		default:
			restored = true
		}
	}

	if !restored {
		engine, err := contract.New(genesis, vault, logger)
		if err != nil {
			return nil, fmt.Errorf("app: deploy contract: %w", err)
		}
		logger.InfoContext(ctx, "contract deployed at genesis",
			slog.String("owner", genesis.Owner.String()),
			slog.Uint64("initial_price", genesis.InitialPrice),
		)
		return chain.New(engine, domain.Block{}, chainOptions(cfg.Chain), logger)
	}

	if snap.Owner != genesis.Owner {
		return nil, fmt.Errorf("app: persisted owner %s does not match configured owner %s", snap.Owner, genesis.Owner)
	}

	head, err := blocks.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load head block: %w", err)
	}
	if head.Height != snap.Height || head.Hash != snap.BlockHash {
		return nil, fmt.Errorf("app: snapshot at %d (%s) does not match head block %d (%s)",
			snap.Height, snap.BlockHash, head.Height, head.Hash)
	}

	// A fresh in-memory vault has no record of past deposits.
	if mv, ok := vault.(*custody.MemoryVault); ok {
		mv.SetHeld(snap.Totals.Deposited - snap.Totals.PaidOut)
	}

	engine, err := contract.Restore(snap, genesis.Params, vault, logger)
	if err != nil {
		return nil, fmt.Errorf("app: restore contract: %w", err)
	}
	if err := engine.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("app: restored state: %w", err)
	}
	if err := engine.CheckCustody(ctx); err != nil {
		return nil, fmt.Errorf("app: restored state: %w", err)
	}

	digest, err := engine.Digest()
	if err != nil {
		return nil, fmt.Errorf("app: restored state digest: %w", err)
	}
	if digest.Hex() != head.StateDigest {
		return nil, fmt.Errorf("app: restored state digest %s does not match head %s", digest.Hex(), head.StateDigest)
	}

	logger.InfoContext(ctx, "contract restored",
		slog.Uint64("height", head.Height),
		slog.String("head", head.Hash),
		slog.Int("options", len(snap.Options)),
	)
	return chain.New(engine, head, chainOptions(cfg.Chain), logger)
}
