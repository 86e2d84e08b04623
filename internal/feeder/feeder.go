package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// Node is the part of NodeClient the feeder needs.
type Node interface {
	SubmitTx(ctx context.Context, call domain.Call) (string, error)
	Oracle(ctx context.Context) (OracleView, error)
}

// CallSigner signs a call as the oracle updater.
type CallSigner interface {
	SignCall(call domain.Call) (domain.Call, error)
	Principal() domain.Principal
}

// Config tunes when the feeder publishes.
type Config struct {
	PollInterval time.Duration
	// Multiplier converts the source price into contract price units.
	Multiplier decimal.Decimal
	// MinChangeBps is the smallest move, in basis points of the last
	// published price, that triggers an update.
	MinChangeBps int64
	// Heartbeat republishes an unchanged price after this long; 0 disables.
	Heartbeat time.Duration
}

// Feeder publishes the source price to the node when it moves enough or the
// heartbeat elapses.
type Feeder struct {
	source Source
	node   Node
	signer CallSigner
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	last     uint64
	lastSent time.Time
	primed   bool
}

// New creates a Feeder.
func New(source Source, node Node, signer CallSigner, cfg Config, logger *slog.Logger) *Feeder {
	if cfg.Multiplier.IsZero() {
		cfg.Multiplier = decimal.NewFromInt(1)
	}
	return &Feeder{
		source: source,
		node:   node,
		signer: signer,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "feeder")),
	}
}

// Run polls until ctx is cancelled. Tick errors are logged, not fatal.
func (f *Feeder) Run(ctx context.Context) error {
	if view, err := f.node.Oracle(ctx); err == nil {
		if view.Updater != f.signer.Principal().String() {
			f.logger.WarnContext(ctx, "feeder key is not the authorized updater",
				slog.String("updater", view.Updater),
				slog.String("signer", f.signer.Principal().String()),
			)
		}
		f.last = view.Price
		f.primed = true
	} else {
		f.logger.WarnContext(ctx, "could not read node oracle", slog.String("error", err.Error()))
	}

	f.logger.InfoContext(ctx, "feeder started", slog.Duration("interval", f.cfg.PollInterval))
	defer f.logger.Info("feeder stopped")

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := f.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.ErrorContext(ctx, "feeder tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick fetches one price and submits it when due. It reports whether a call
// was submitted.
func (f *Feeder) Tick(ctx context.Context) (bool, error) {
	raw, err := f.source.Fetch(ctx)
	if err != nil {
		return false, err
	}
	price, err := ToUnits(raw, f.cfg.Multiplier)
	if err != nil {
		return false, err
	}

	now := f.now()
	if !f.due(price, now) {
		return false, nil
	}

	call, err := f.signer.SignCall(domain.Call{
		Function: domain.FnUpdateBTCPrice,
		Args:     []domain.Value{domain.Uint(price)},
		Nonce:    uint64(now.UnixNano()),
	})
	if err != nil {
		return false, err
	}
	txID, err := f.node.SubmitTx(ctx, call)
	if err != nil {
		return false, err
	}

	f.logger.InfoContext(ctx, "price submitted",
		slog.Uint64("price", price),
		slog.Uint64("previous", f.last),
		slog.String("tx_id", txID),
	)
	f.last, f.lastSent, f.primed = price, now, true
	return true, nil
}

func (f *Feeder) due(price uint64, now time.Time) bool {
	if !f.primed {
		return true
	}
	if f.cfg.Heartbeat > 0 && now.Sub(f.lastSent) >= f.cfg.Heartbeat {
		return true
	}
	return ChangeBps(f.last, price) >= f.cfg.MinChangeBps && price != f.last
}

// ToUnits scales a source price into integer contract units, rounding half
// away from zero.
func ToUnits(price, multiplier decimal.Decimal) (uint64, error) {
	units := price.Mul(multiplier).Round(0)
	if units.IsNegative() {
		return 0, fmt.Errorf("feeder: negative price %s", price)
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("feeder: price %s out of range", price)
	}
	return uint64(units.IntPart()), nil
}

// ChangeBps is |next-prev| in basis points of prev. Any move away from a
// zero price counts as the maximum.
func ChangeBps(prev, next uint64) int64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return math.MaxInt64
	}
	a, b := decimal.NewFromUint64(prev), decimal.NewFromUint64(next)
	return b.Sub(a).Abs().Mul(decimal.NewFromInt(10_000)).Div(a).IntPart()
}
