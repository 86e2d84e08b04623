package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/crypto"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
	"github.com/alanyoungcy/sbtcoptions/internal/feeder"
	"github.com/alanyoungcy/sbtcoptions/internal/server"
	"github.com/alanyoungcy/sbtcoptions/internal/server/handler"
	"github.com/alanyoungcy/sbtcoptions/internal/server/ws"
)

// NodeMode restores or deploys the contract, then runs the sequencer, the
// archive loop and the HTTP server until ctx is cancelled or the chain
// halts.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	ch, err := bootstrap(ctx, a.cfg, deps.StateStore, deps.BlockStore, deps.Custody, a.logger)
	if err != nil {
		return err
	}
	engine := ch.Engine()

	if a.cfg.Chain.CheckInvariants {
		ch.AddSink(custodySink(engine))
	}
	if deps.BlockStore != nil {
		ch.AddSink(persistSink(deps.BlockStore))
	}
	if deps.SignalBus != nil || deps.PriceCache != nil {
		ch.AddSink(publishSink(deps.SignalBus, deps.PriceCache, a.logger))
	}
	ch.AddSink(notifySink(deps.Notifier, a.logger))
	if deps.AuditStore != nil {
		ch.AddSink(auditSink(deps.AuditStore, a.logger))
	}

	if deps.PriceCache != nil {
		o := engine.Oracle()
		if err := deps.PriceCache.SetPrice(ctx, PriceAsset, o.Price, o.UpdatedHeight); err != nil {
			a.logger.WarnContext(ctx, "seed price cache", slog.String("error", err.Error()))
		}
	}

	verify := crypto.VerifyIfSigned
	if a.cfg.Chain.RequireSignatures {
		verify = crypto.VerifyCall
	}
	pool := chain.NewMempool(a.cfg.Chain.MempoolSize, a.cfg.Chain.DedupTTL.Duration, verify).
		WithNonceCheck(engine.CheckNonce)
	seq := chain.NewSequencer(ch, pool, deps.LockManager, chain.SequencerConfig{
		Interval:      a.cfg.Chain.BlockInterval.Duration,
		MaxTxPerBlock: a.cfg.Chain.MaxTxPerBlock,
		MineEmpty:     a.cfg.Chain.MineEmpty,
		LockTTL:       a.cfg.Chain.LockTTL.Duration,
	}, a.logger)
	seq.OnHalt(onHalt(deps, a.logger))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return seq.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver, ch)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, ch, pool, seq)
	}

	return g.Wait()
}

// runArchiver exports blocks older than the configured lag on every
// interval.
func (a *App) runArchiver(ctx context.Context, archiver domain.BlockArchiver, ch *chain.Chain) error {
	interval := a.cfg.Archive.Interval.Duration
	a.logger.InfoContext(ctx, "archiver starting",
		slog.Duration("interval", interval),
		slog.Uint64("lag", a.cfg.Archive.Lag),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head := ch.Head().Height
			if head <= a.cfg.Archive.Lag {
				continue
			}
			n, err := archiver.ArchiveBlocks(ctx, head-a.cfg.Archive.Lag)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archive run complete", slog.Int64("blocks", n))
			}
		}
	}
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	ch *chain.Chain,
	pool *chain.Mempool,
	seq *chain.Sequencer,
) {
	var miner handler.Miner
	if a.cfg.Server.ManualMining {
		miner = seq
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(ch, pool, a.cfg.Mode, a.logger),
		Tx:       handler.NewTxHandler(pool, ch, deps.BlockStore, a.logger),
		Blocks:   handler.NewBlockHandler(ch, deps.BlockStore, miner, a.logger),
		Contract: handler.NewContractHandler(ch.Engine(), a.logger),
	}

	// The WebSocket hub relays the Redis bus, so it needs Redis.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ch, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		HMACSecret:   a.cfg.Server.HMACSecret,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ManualMining: a.cfg.Server.ManualMining,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// FeederMode polls the price source and submits signed oracle updates to
// the node.
func (a *App) FeederMode(ctx context.Context) error {
	fc := a.cfg.Feeder
	a.logger.InfoContext(ctx, "starting feeder mode",
		slog.String("node", fc.NodeURL),
		slog.String("source", fc.SourceURL),
	)

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    fc.PrivateKey,
		EncryptedKeyPath: fc.EncryptedKeyPath,
		KeyPassword:      fc.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: feeder key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return fmt.Errorf("app: feeder signer: %w", err)
	}
	multiplier, err := decimal.NewFromString(fc.Multiplier)
	if err != nil {
		return fmt.Errorf("app: feeder multiplier %q: %w", fc.Multiplier, err)
	}

	var (
		source feeder.Source
		stream *feeder.WSSource
	)
	if feeder.IsStreamURL(fc.SourceURL) {
		stream = feeder.NewWSSource(feeder.WSSourceConfig{
			URL:       fc.SourceURL,
			Field:     fc.PriceField,
			Subscribe: fc.Subscribe,
			MaxAge:    fc.MaxAge.Duration,
		}, a.logger)
		source = stream
	} else {
		source = feeder.NewHTTPSource(fc.SourceURL, fc.PriceField)
	}

	f := feeder.New(
		source,
		feeder.NewNodeClient(fc.NodeURL, fc.APIKey, fc.HMACSecret),
		signer,
		feeder.Config{
			PollInterval: fc.PollInterval.Duration,
			Multiplier:   multiplier,
			MinChangeBps: fc.MinChangeBps,
			Heartbeat:    fc.Heartbeat.Duration,
		},
		a.logger,
	)
	a.logger.InfoContext(ctx, "feeder signing as", slog.String("principal", signer.Principal().String()))
	if stream == nil {
		return f.Run(ctx)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(ctx) })
	g.Go(func() error { return f.Run(ctx) })
	return g.Wait()
}
