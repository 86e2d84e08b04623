package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/sbtcoptions/internal/blob/s3"
	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/contract"
	"github.com/alanyoungcy/sbtcoptions/internal/custody"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// ReplayMode re-mines every archived block on a fresh engine and fails on
// the first block whose hash, state digest or receipts differ.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("bucket", a.cfg.S3.Bucket))

	vault := newReplayVault()
	ch, err := newReplayChain(contractConfig(a.cfg.Contract), vault, a.logger)
	if err != nil {
		return err
	}

	n, err := s3blob.WalkArchive(ctx, deps.BlobReader, func(archived domain.Block) error {
		return replayBlock(ctx, ch, vault, archived)
	})
	if err != nil {
		return fmt.Errorf("app: replay: %w", err)
	}

	head := ch.Head()
	a.logger.InfoContext(ctx, "replay verified",
		slog.Uint64("blocks", n),
		slog.Uint64("height", head.Height),
		slog.String("head", head.Hash),
		slog.String("state_digest", head.StateDigest),
	)
	return nil
}

// newReplayChain deploys the genesis contract over vault.
func newReplayChain(genesis contract.Config, vault *replayVault, logger *slog.Logger) (*chain.Chain, error) {
	engine, err := contract.New(genesis, vault, logger)
	if err != nil {
		return nil, fmt.Errorf("app: replay genesis: %w", err)
	}
	return chain.New(engine, domain.Block{}, chain.Options{CheckInvariants: true}, logger)
}

// replayBlock applies the calls of archived on ch and compares the result.
func replayBlock(ctx context.Context, ch *chain.Chain, vault *replayVault, archived domain.Block) error {
	if want := ch.Head().Height + 1; archived.Height != want {
		return fmt.Errorf("archived block %d, expected %d", archived.Height, want)
	}
	vault.script(archived.Receipts)

	calls := make([]domain.Call, len(archived.Receipts))
	for i, r := range archived.Receipts {
		calls[i] = r.Call
	}
	mined, err := ch.MineBlock(ctx, calls)
	if err != nil {
		return fmt.Errorf("block %d: %w", archived.Height, err)
	}

	if len(mined.Receipts) != len(archived.Receipts) {
		return fmt.Errorf("block %d: %d receipts, archived %d", archived.Height, len(mined.Receipts), len(archived.Receipts))
	}
	for i, r := range mined.Receipts {
		want := archived.Receipts[i]
		if r.TxID != want.TxID {
			return fmt.Errorf("block %d tx %d: id %s, archived %s", archived.Height, i, r.TxID, want.TxID)
		}
		if r.Result != want.Result {
			return fmt.Errorf("block %d tx %s: result %s, archived %s", archived.Height, r.TxID, r.Result, want.Result)
		}
	}
	if mined.StateDigest != archived.StateDigest {
		return fmt.Errorf("block %d: state digest %s, archived %s", archived.Height, mined.StateDigest, archived.StateDigest)
	}
	if mined.Hash != archived.Hash {
		return fmt.Errorf("block %d: hash %s, archived %s", archived.Height, mined.Hash, archived.Hash)
	}
	return nil
}

// replayVault is an unlimited vault that reproduces archived deposit
// outcomes: wallet history is not archived, so a deposit that failed with
// transfer-failed is made to fail again and every other debit succeeds.
type replayVault struct {
	*custody.MemoryVault
	failNext []bool
}

func newReplayVault() *replayVault {
	return &replayVault{MemoryVault: custody.NewUnlimitedVault()}
}

// script queues one outcome per custody debit the receipts imply. Only
// deposits that reached commit, ok or transfer-failed, debited.
func (v *replayVault) script(receipts []domain.Receipt) {
	v.failNext = v.failNext[:0]
	for _, r := range receipts {
		if r.Call.Function != domain.FnDepositSBTC {
			continue
		}
		switch {
		case r.Result.Ok:
			v.failNext = append(v.failNext, false)
		case r.Result == domain.ErrResult(domain.ErrTransferFailed):
			v.failNext = append(v.failNext, true)
		}
	}
}

func (v *replayVault) Debit(ctx context.Context, account domain.Principal, amount uint64) error {
	if len(v.failNext) > 0 {
		fail := v.failNext[0]
		v.failNext = v.failNext[1:]
		if fail {
			return fmt.Errorf("app: replayed debit %s %d: %w", account, amount, domain.ErrInsufficient)
		}
	}
	return v.MemoryVault.Debit(ctx, account, amount)
}
