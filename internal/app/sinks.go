package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/contract"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
	"github.com/alanyoungcy/sbtcoptions/internal/notify"
)

// PriceAsset is the PriceCache key the oracle price is mirrored under.
const PriceAsset = "BTC"

const notifyTimeout = 10 * time.Second

// custodySink halts the chain when the vault's held total drifts from the
// ledger.
func custodySink(engine *contract.Contract) chain.BlockSink {
	return chain.SinkFunc(func(ctx context.Context, _ domain.Block, _ domain.StateDiff) error {
		return engine.CheckCustody(ctx)
	})
}

// persistSink writes the block, its receipts and the state diff. Its
// failure halts the chain.
func persistSink(store domain.BlockStore) chain.BlockSink {
	return chain.SinkFunc(func(ctx context.Context, block domain.Block, diff domain.StateDiff) error {
		return store.SaveBlock(ctx, block, diff)
	})
}

// blockHeader is the ch:blocks payload.
type blockHeader struct {
	Height       uint64    `json:"height"`
	Hash         string    `json:"hash"`
	ParentHash   string    `json:"parent_hash"`
	StateDigest  string    `json:"state_digest"`
	ReceiptsRoot string    `json:"receipts_root"`
	MinedAt      time.Time `json:"mined_at"`
	TxCount      int       `json:"tx_count"`
	Expired      []uint64  `json:"expired,omitempty"`
}

// eventMessage is the ch:events payload.
type eventMessage struct {
	Height uint64       `json:"height"`
	TxID   string       `json:"tx_id,omitempty"`
	Event  domain.Event `json:"event"`
}

// publishSink mirrors a mined block onto the bus, the receipt stream and
// the price cache. Bus outages are logged; they never halt the chain.
func publishSink(bus domain.SignalBus, prices domain.PriceCache, logger *slog.Logger) chain.BlockSink {
	return chain.SinkFunc(func(ctx context.Context, block domain.Block, diff domain.StateDiff) error {
		warn := func(op string, err error) {
			logger.WarnContext(ctx, "publish failed",
				slog.String("op", op),
				slog.Uint64("height", block.Height),
				slog.String("error", err.Error()),
			)
		}

		if bus != nil {
			if err := publishJSON(ctx, bus, domain.ChannelBlocks, blockHeader{
				Height:       block.Height,
				Hash:         block.Hash,
				ParentHash:   block.ParentHash,
				StateDigest:  block.StateDigest,
				ReceiptsRoot: block.ReceiptsRoot,
				MinedAt:      block.MinedAt,
				TxCount:      len(block.Receipts),
				Expired:      block.Expired,
			}); err != nil {
				warn("block", err)
			}
			for _, ev := range block.Events {
				if err := publishJSON(ctx, bus, domain.ChannelEvents, eventMessage{Height: block.Height, Event: ev}); err != nil {
					warn("event", err)
				}
			}
			for _, r := range block.Receipts {
				for _, ev := range r.Events {
					if err := publishJSON(ctx, bus, domain.ChannelEvents, eventMessage{Height: block.Height, TxID: r.TxID, Event: ev}); err != nil {
						warn("event", err)
					}
				}
				data, err := json.Marshal(r)
				if err == nil {
					err = bus.StreamAppend(ctx, domain.StreamReceipts, data)
				}
				if err != nil {
					warn("receipt", err)
				}
			}
		}

		if prices != nil && diff.Oracle.UpdatedHeight == block.Height {
			if err := prices.SetPrice(ctx, PriceAsset, diff.Oracle.Price, block.Height); err != nil {
				warn("price", err)
			}
		}
		return nil
	})
}

func publishJSON(ctx context.Context, bus domain.SignalBus, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("app: marshal %s: %w", channel, err)
	}
	return bus.Publish(ctx, channel, data)
}

// notifySink forwards wanted events to the notifier without blocking the
// chain.
func notifySink(n *notify.Notifier, logger *slog.Logger) chain.BlockSink {
	return chain.SinkFunc(func(ctx context.Context, block domain.Block, _ domain.StateDiff) error {
		if !n.Enabled() {
			return nil
		}
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := n.NotifyBlock(nctx, block); err != nil {
				logger.WarnContext(nctx, "block notification failed",
					slog.Uint64("height", block.Height),
					slog.String("error", err.Error()),
				)
			}
		}()
		return nil
	})
}

// auditedEvents are the events recorded in the audit log.
var auditedEvents = map[string]bool{
	domain.EventOracleChanged:   true,
	domain.EventInvariantBroken: true,
}

// auditSink records administrative and invariant events.
func auditSink(audit domain.AuditStore, logger *slog.Logger) chain.BlockSink {
	return chain.SinkFunc(func(ctx context.Context, block domain.Block, _ domain.StateDiff) error {
		for _, r := range block.Receipts {
			for _, ev := range r.Events {
				if !auditedEvents[ev.Type] {
					continue
				}
				detail := map[string]any{
					"height": block.Height,
					"tx_id":  r.TxID,
					"sender": r.Call.Sender.String(),
				}
				for k, v := range ev.Attributes {
					detail[k] = v
				}
				if err := audit.Log(ctx, "contract."+ev.Type, detail); err != nil {
					logger.WarnContext(ctx, "audit log failed",
						slog.String("event", ev.Type),
						slog.String("error", err.Error()),
					)
				}
			}
		}
		return nil
	})
}

// onHalt reports a halted chain on every channel still reachable.
func onHalt(deps *Dependencies, logger *slog.Logger) func(ctx context.Context, err error) {
	return func(ctx context.Context, err error) {
		ctx = context.WithoutCancel(ctx)
		ev := domain.NewEvent(domain.EventChainHalted, "error", err.Error())

		if deps.SignalBus != nil {
			if perr := publishJSON(ctx, deps.SignalBus, domain.ChannelEvents, eventMessage{Event: ev}); perr != nil {
				logger.WarnContext(ctx, "publish halt failed", slog.String("error", perr.Error()))
			}
		}
		if deps.AuditStore != nil {
			if aerr := deps.AuditStore.Log(ctx, "chain.halted", map[string]any{"error": err.Error()}); aerr != nil {
				logger.WarnContext(ctx, "audit halt failed", slog.String("error", aerr.Error()))
			}
		}
		if deps.Notifier != nil {
			nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
			defer cancel()
			if nerr := deps.Notifier.NotifyEvent(nctx, 0, ev); nerr != nil {
				logger.WarnContext(ctx, "notify halt failed", slog.String("error", nerr.Error()))
			}
		}
	}
}
